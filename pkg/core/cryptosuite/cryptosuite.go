/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cryptosuite provides the cryptographic primitives that bind client
// payloads: ECDSA key generation and low-S signing, SHA2/SHA3 hashing, X.509
// trust validation and PKCS#10 CSR generation.
package cryptosuite

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"hash"
	"math/big"

	"github.com/op/go-logging"
	"golang.org/x/crypto/sha3"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

var logger = logging.MustGetLogger("fabric_client_go")

// CryptoSuite implements the primitives for one option set. It is safe for
// concurrent use after construction; key material handed to it is never
// mutated.
type CryptoSuite struct {
	opts       Opts
	curve      elliptic.Curve
	trustStore *TrustStore
}

// New constructs a suite for the given options. Most callers should prefer
// GetSuite, which caches by option set.
func New(opts Opts) (*CryptoSuite, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &CryptoSuite{
		opts:       opts,
		curve:      opts.curve(),
		trustStore: NewTrustStore(),
	}, nil
}

// Opts returns the option set the suite was built from.
func (cs *CryptoSuite) Opts() Opts {
	return cs.opts
}

// TrustStore returns the suite's X.509 trust store.
func (cs *CryptoSuite) TrustStore() *TrustStore {
	return cs.trustStore
}

// KeyGen generates an EC key pair on the curve selected by the suite's
// security level.
func (cs *CryptoSuite) KeyGen() (*Key, error) {
	priv, err := ecdsa.GenerateKey(cs.curve, rand.Reader)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"EC key generation failed: "+err.Error(), nil)
	}
	return &Key{priv: priv}, nil
}

func (cs *CryptoSuite) newHash() hash.Hash {
	if cs.opts.HashAlgorithm == "SHA3" {
		if cs.opts.SecurityLevel == 384 {
			return sha3.New384()
		}
		return sha3.New256()
	}
	if cs.opts.SecurityLevel == 384 {
		return sha512.New384()
	}
	return sha256.New()
}

// Hash computes the digest of msg using the hash family and size selected by
// the suite options.
func (cs *CryptoSuite) Hash(msg []byte) []byte {
	h := cs.newHash()
	h.Write(msg)
	return h.Sum(nil)
}

// ecdsaSignature matches the DER layout Fabric expects for ECDSA signatures.
type ecdsaSignature struct {
	R, S *big.Int
}

// Sign hashes msg and signs the digest with the given key. The returned
// signature is DER encoded and in the low-S canonical form; the ordering
// service rejects high-S signatures.
func (cs *CryptoSuite) Sign(key *Key, msg []byte) ([]byte, error) {
	if key == nil || key.priv == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"signing key is required", nil)
	}
	digest := cs.Hash(msg)
	r, s, err := ecdsa.Sign(rand.Reader, key.priv, digest)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"ECDSA signing failed: "+err.Error(), nil)
	}
	s = toLowS(key.priv.Curve, s)
	return asn1.Marshal(ecdsaSignature{r, s})
}

// toLowS replaces s with n-s when s is above half the curve order.
func toLowS(curve elliptic.Curve, s *big.Int) *big.Int {
	n := curve.Params().N
	halfOrder := new(big.Int).Rsh(n, 1)
	if s.Cmp(halfOrder) > 0 {
		return new(big.Int).Sub(n, s)
	}
	return s
}

// Verify parses certPEM and checks signature over msg against the
// certificate's public key, hashing with the named signature algorithm
// (empty selects the suite's own). A malformed certificate, unknown
// algorithm or bad signature encoding is an error; a cryptographic mismatch
// returns false with a nil error.
func (cs *CryptoSuite) Verify(certPEM []byte, algorithm string, signature []byte, msg []byte) (bool, error) {
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return false, err
	}

	pubKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"certificate does not carry an EC public key", nil)
	}

	sig := ecdsaSignature{}
	rest, err := asn1.Unmarshal(signature, &sig)
	if err != nil || len(rest) != 0 {
		return false, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"malformed DER signature", nil)
	}

	digest, err := cs.digestFor(algorithm, msg)
	if err != nil {
		return false, err
	}
	return ecdsa.Verify(pubKey, digest, sig.R, sig.S), nil
}

func (cs *CryptoSuite) digestFor(algorithm string, msg []byte) ([]byte, error) {
	switch algorithm {
	case "", cs.opts.SignatureAlgorithm:
		return cs.Hash(msg), nil
	case "SHA256withECDSA":
		digest := sha256.Sum256(msg)
		return digest[:], nil
	case "SHA384withECDSA":
		digest := sha512.Sum384(msg)
		return digest[:], nil
	default:
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"unknown signature algorithm "+algorithm, nil)
	}
}

func parseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	if len(certPEM) == 0 {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"certificate PEM is required", nil)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"no PEM block found in certificate bytes", nil)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"certificate parsing failed: "+err.Error(), nil)
	}
	return cert, nil
}
