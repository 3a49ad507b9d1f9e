/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptosuite

import (
	"crypto/elliptic"
	"fmt"
	"sync"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

// Opts is the enumerated option set of a crypto suite. Two suites constructed
// from equal options are interchangeable.
type Opts struct {
	// SecurityLevel EC key strength, 256 or 384
	SecurityLevel int
	// HashAlgorithm hash family, "SHA2" or "SHA3"
	HashAlgorithm string
	// AsymmetricKeyType only "EC" is supported
	AsymmetricKeyType string
	// CertificateFormat only "X.509" is supported
	CertificateFormat string
	// SignatureAlgorithm "SHA256withECDSA" or "SHA384withECDSA"
	SignatureAlgorithm string
}

// DefaultOpts returns the option set used when the caller supplies none.
func DefaultOpts() Opts {
	return Opts{
		SecurityLevel:      256,
		HashAlgorithm:      "SHA2",
		AsymmetricKeyType:  "EC",
		CertificateFormat:  "X.509",
		SignatureAlgorithm: "SHA256withECDSA",
	}
}

func (o Opts) validate() error {
	if o.SecurityLevel != 256 && o.SecurityLevel != 384 {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			fmt.Sprintf("security level %d is not supported", o.SecurityLevel), nil)
	}
	if o.HashAlgorithm != "SHA2" && o.HashAlgorithm != "SHA3" {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			fmt.Sprintf("hash algorithm %s is not supported", o.HashAlgorithm), nil)
	}
	if o.AsymmetricKeyType != "" && o.AsymmetricKeyType != "EC" {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			fmt.Sprintf("asymmetric key type %s is not supported", o.AsymmetricKeyType), nil)
	}
	if o.CertificateFormat != "" && o.CertificateFormat != "X.509" {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			fmt.Sprintf("certificate format %s is not supported", o.CertificateFormat), nil)
	}
	switch o.SignatureAlgorithm {
	case "", "SHA256withECDSA", "SHA384withECDSA":
	default:
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			fmt.Sprintf("signature algorithm %s is not supported", o.SignatureAlgorithm), nil)
	}
	return nil
}

func (o Opts) curve() elliptic.Curve {
	if o.SecurityLevel == 384 {
		return elliptic.P384()
	}
	return elliptic.P256()
}

func (o Opts) cacheKey() string {
	return fmt.Sprintf("%d/%s/%s/%s/%s", o.SecurityLevel, o.HashAlgorithm,
		o.AsymmetricKeyType, o.CertificateFormat, o.SignatureAlgorithm)
}

var (
	suiteCacheMtx sync.Mutex
	suiteCache    = make(map[string]*CryptoSuite)
)

// GetSuite returns the suite for the given options, constructing it on first
// use. Suites with equal options share one instance.
func GetSuite(opts Opts) (*CryptoSuite, error) {
	suiteCacheMtx.Lock()
	defer suiteCacheMtx.Unlock()

	if cs, ok := suiteCache[opts.cacheKey()]; ok {
		return cs, nil
	}
	cs, err := New(opts)
	if err != nil {
		return nil, err
	}
	suiteCache[opts.cacheKey()] = cs
	return cs, nil
}
