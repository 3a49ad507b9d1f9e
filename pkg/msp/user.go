/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package msp binds an enrolled user into the signing context used for
// transaction headers and serialized identities.
package msp

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/golang/protobuf/proto"
	mb "github.com/hyperledger/fabric-protos-go/msp"

	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

// User holds the enrollment material of one identity. A User is immutable
// once bound into a signing context.
type User struct {
	name        string
	mspID       string
	certPEM     []byte
	privateKey  *cryptosuite.Key
	roles       []string
	affiliation string
	account     string
}

// UserOption customizes optional User attributes.
type UserOption func(*User)

// WithRoles sets the user's roles.
func WithRoles(roles ...string) UserOption {
	return func(u *User) { u.roles = roles }
}

// WithAffiliation sets the user's affiliation.
func WithAffiliation(affiliation string) UserOption {
	return func(u *User) { u.affiliation = affiliation }
}

// WithAccount sets the user's account.
func WithAccount(account string) UserOption {
	return func(u *User) { u.account = account }
}

// NewUser builds a user from its enrollment certificate and private key.
// The key's public point must match the certificate's subject public key.
func NewUser(name, mspID string, certPEM []byte, privateKey *cryptosuite.Key, opts ...UserOption) (*User, error) {
	if name == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"user name is required", nil)
	}
	if mspID == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"mspID is required", nil)
	}
	if privateKey == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"private key is required", nil)
	}
	if err := matchKeyToCert(certPEM, privateKey); err != nil {
		return nil, err
	}

	u := &User{
		name:       name,
		mspID:      mspID,
		certPEM:    append([]byte(nil), certPEM...),
		privateKey: privateKey,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// matchKeyToCert verifies the private key's public point equals the
// certificate's subject public key.
func matchKeyToCert(certPEM []byte, key *cryptosuite.Key) error {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"no PEM block found in enrollment certificate", nil)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"enrollment certificate parsing failed: "+err.Error(), nil)
	}
	certPub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"enrollment certificate does not carry an EC public key", nil)
	}
	keyPub := key.PublicKey()
	if certPub.X.Cmp(keyPub.X) != 0 || certPub.Y.Cmp(keyPub.Y) != 0 {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"private key does not match enrollment certificate", nil)
	}
	return nil
}

// Name returns the user name.
func (u *User) Name() string {
	return u.name
}

// MSPID returns the user's MSP identifier.
func (u *User) MSPID() string {
	return u.mspID
}

// EnrollmentCertificate returns the PEM encoded enrollment certificate.
func (u *User) EnrollmentCertificate() []byte {
	return append([]byte(nil), u.certPEM...)
}

// PrivateKey returns the user's key pair.
func (u *User) PrivateKey() *cryptosuite.Key {
	return u.privateKey
}

// Roles returns the user's roles.
func (u *User) Roles() []string {
	return u.roles
}

// Affiliation returns the user's affiliation.
func (u *User) Affiliation() string {
	return u.affiliation
}

// Account returns the user's account.
func (u *User) Account() string {
	return u.account
}

// SerializedIdentity marshals the user into the creator identity placed in
// proposal signature headers.
func (u *User) SerializedIdentity() ([]byte, error) {
	creator, err := proto.Marshal(&mb.SerializedIdentity{
		Mspid:   u.mspID,
		IdBytes: u.certPEM,
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of serialized identity failed: "+err.Error(), nil)
	}
	return creator, nil
}

// ValidateEnrollment chain-builds the enrollment certificate to the channel
// MSP's trust anchors.
func (u *User) ValidateEnrollment(trustStore *cryptosuite.TrustStore) (bool, error) {
	return trustStore.ValidatePEM(u.certPEM)
}
