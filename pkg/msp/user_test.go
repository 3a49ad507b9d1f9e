/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package msp

import (
	"testing"

	"github.com/golang/protobuf/proto"
	mb "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/mocks"
)

func testEnrollment(t *testing.T, cn string) ([]byte, *cryptosuite.Key) {
	identity, err := mocks.NewTestIdentity(cn)
	require.NoError(t, err)
	key, err := cryptosuite.ImportPrivateKeyPEM(identity.KeyPEM)
	require.NoError(t, err)
	return identity.CertPEM, key
}

func TestNewUser(t *testing.T) {
	certPEM, key := testEnrollment(t, "admin")

	user, err := NewUser("admin", "Org1MSP", certPEM, key,
		WithRoles("admin"), WithAffiliation("org1.department1"), WithAccount("acct1"))
	require.NoError(t, err)

	assert.Equal(t, "admin", user.Name())
	assert.Equal(t, "Org1MSP", user.MSPID())
	assert.Equal(t, certPEM, user.EnrollmentCertificate())
	assert.Equal(t, []string{"admin"}, user.Roles())
	assert.Equal(t, "org1.department1", user.Affiliation())
	assert.Equal(t, "acct1", user.Account())
}

func TestNewUserValidation(t *testing.T) {
	certPEM, key := testEnrollment(t, "admin")

	_, err := NewUser("", "Org1MSP", certPEM, key)
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))

	_, err = NewUser("admin", "", certPEM, key)
	require.Error(t, err)

	_, err = NewUser("admin", "Org1MSP", certPEM, nil)
	require.Error(t, err)

	_, err = NewUser("admin", "Org1MSP", []byte("not a certificate"), key)
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.CryptoFailed))
}

func TestKeyMustMatchCertificate(t *testing.T) {
	certPEM, _ := testEnrollment(t, "admin")
	_, otherKey := testEnrollment(t, "someone-else")

	_, err := NewUser("admin", "Org1MSP", certPEM, otherKey)
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.CryptoFailed))
}

func TestSerializedIdentity(t *testing.T) {
	certPEM, key := testEnrollment(t, "admin")
	user, err := NewUser("admin", "Org1MSP", certPEM, key)
	require.NoError(t, err)

	creator, err := user.SerializedIdentity()
	require.NoError(t, err)

	sid := &mb.SerializedIdentity{}
	require.NoError(t, proto.Unmarshal(creator, sid))
	assert.Equal(t, "Org1MSP", sid.Mspid)
	assert.Equal(t, certPEM, sid.IdBytes)
}

func TestValidateEnrollment(t *testing.T) {
	certPEM, key := testEnrollment(t, "admin")
	user, err := NewUser("admin", "Org1MSP", certPEM, key)
	require.NoError(t, err)

	ts := cryptosuite.NewTrustStore()
	ok, err := user.ValidateEnrollment(ts)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ts.AddCertPEM(certPEM))
	ok, err = user.ValidateEnrollment(ts)
	require.NoError(t, err)
	assert.True(t, ok)
}
