/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptosuite

import (
	"crypto/x509"
	"encoding/pem"
	"io/ioutil"
	"strings"
	"sync"
	"time"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

// TrustStore is a set of trusted X.509 anchor certificates with a chain
// validation procedure. Additions keyed by subject and serial are idempotent:
// re-adding an anchor overwrites the previous entry.
type TrustStore struct {
	mtx     sync.RWMutex
	anchors map[string]*x509.Certificate
}

// NewTrustStore returns an empty trust store.
func NewTrustStore() *TrustStore {
	return &TrustStore{anchors: make(map[string]*x509.Certificate)}
}

func anchorKey(cert *x509.Certificate) string {
	return cert.Subject.String() + "/" + cert.SerialNumber.String()
}

// AddCert adds a parsed certificate as a trust anchor.
func (ts *TrustStore) AddCert(cert *x509.Certificate) error {
	if cert == nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"certificate is required", nil)
	}
	ts.mtx.Lock()
	ts.anchors[anchorKey(cert)] = cert
	ts.mtx.Unlock()
	return nil
}

// AddCertPEM parses one or more PEM certificates and adds each as an anchor.
func (ts *TrustStore) AddCertPEM(pemBytes []byte) error {
	if len(pemBytes) == 0 || strings.TrimSpace(string(pemBytes)) == "" {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"certificate PEM is required", nil)
	}
	certs, err := parseCertificatesPEM(pemBytes)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		if err := ts.AddCert(cert); err != nil {
			return err
		}
	}
	return nil
}

// AddCertFile reads a PEM file and adds its certificates as anchors.
func (ts *TrustStore) AddCertFile(path string) error {
	if path == "" {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"certificate file path is required", nil)
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"reading certificate file failed: "+err.Error(), nil)
	}
	return ts.AddCertPEM(raw)
}

// Size returns the number of distinct anchors.
func (ts *TrustStore) Size() int {
	ts.mtx.RLock()
	defer ts.mtx.RUnlock()
	return len(ts.anchors)
}

// Validate chain-builds cert to any anchor in the store. Expired certificates
// and self-signed certificates that are not themselves anchors validate
// false. Validation never returns an error for a well-formed certificate.
func (ts *TrustStore) Validate(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}

	roots := x509.NewCertPool()
	ts.mtx.RLock()
	for _, anchor := range ts.anchors {
		roots.AddCert(anchor)
	}
	ts.mtx.RUnlock()

	_, err := cert.Verify(x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: time.Now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err == nil
}

// ValidatePEM parses a PEM certificate and validates it against the store.
// Malformed PEM fails with a crypto error rather than validating false.
func (ts *TrustStore) ValidatePEM(pemBytes []byte) (bool, error) {
	cert, err := parseCertificatePEM(pemBytes)
	if err != nil {
		return false, err
	}
	return ts.Validate(cert), nil
}

func parseCertificatesPEM(pemBytes []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
				"certificate parsing failed: "+err.Error(), nil)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"no certificates found in PEM bytes", nil)
	}
	return certs, nil
}
