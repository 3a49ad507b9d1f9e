/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptosuite

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/cloudflare/cfssl/csr"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

// Key is an opaque holder for an EC key pair.
type Key struct {
	priv *ecdsa.PrivateKey
}

// ImportPrivateKeyPEM ingests a PEM encoded EC private key in either SEC1
// ("EC PRIVATE KEY") or PKCS#8 ("PRIVATE KEY") form.
func ImportPrivateKeyPEM(raw []byte) (*Key, error) {
	if len(raw) == 0 {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"private key PEM is required", nil)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"no PEM block found in private key bytes", nil)
	}
	return importPrivateKeyDER(block.Bytes)
}

func importPrivateKeyDER(der []byte) (*Key, error) {
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return &Key{priv: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"private key parsing failed: "+err.Error(), nil)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"private key is not an EC key", nil)
	}
	return &Key{priv: ecKey}, nil
}

// Bytes exports the private key as PKCS#8 DER.
func (k *Key) Bytes() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"private key encoding failed: "+err.Error(), nil)
	}
	return der, nil
}

// PublicKey returns the public half of the pair.
func (k *Key) PublicKey() *ecdsa.PublicKey {
	return &k.priv.PublicKey
}

// GenerateCSR produces a PEM encoded PKCS#10 certificate signing request with
// CN=commonName, signed by the given key pair.
func (cs *CryptoSuite) GenerateCSR(commonName string, key *Key) ([]byte, error) {
	if commonName == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"commonName is required", nil)
	}
	if key == nil || key.priv == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"key pair is required", nil)
	}

	req := &csr.CertificateRequest{CN: commonName}
	csrPEM, err := csr.Generate(key.priv, req)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"CSR generation failed: "+err.Error(), nil)
	}
	return csrPEM, nil
}
