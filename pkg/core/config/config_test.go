/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := New()

	assert.Equal(t, 30*time.Second, c.ProposalWaitTime())
	assert.Equal(t, 15*time.Second, c.ChannelConfigWaitTime())
	assert.Equal(t, 10*time.Minute, c.TransactionCleanupTimeout())
	assert.Equal(t, 200*time.Millisecond, c.OrdererRetryWaitTime())
	assert.Equal(t, 10*time.Second, c.OrdererWaitTime())
	assert.Equal(t, 5*time.Second, c.EventRegistrationWaitTime())
	assert.Equal(t, 500*time.Millisecond, c.PeerRetryWaitTime())
	assert.Equal(t, 50, c.ReconnectionWarningRate())
	assert.Equal(t, 5*time.Second, c.GenesisBlockWaitTime())
	assert.Equal(t, 256, c.SecurityLevel())
	assert.Equal(t, "SHA2", c.HashAlgorithm())
	assert.Equal(t, "SHA256withECDSA", c.SignatureAlgorithm())
	assert.True(t, c.ProposalConsistencyValidation())
	assert.Equal(t, 2*time.Minute, c.ServiceDiscoveryFrequency())
}

func TestEnvironmentOverride(t *testing.T) {
	os.Setenv("FABRIC_SDK_SECURITY_LEVEL", "384")
	os.Setenv("FABRIC_SDK_PROPOSAL_WAIT_TIME", "1000")
	defer os.Unsetenv("FABRIC_SDK_SECURITY_LEVEL")
	defer os.Unsetenv("FABRIC_SDK_PROPOSAL_WAIT_TIME")

	c := New()
	assert.Equal(t, 384, c.SecurityLevel())
	assert.Equal(t, time.Second, c.ProposalWaitTime())
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "client.yaml")
	content := []byte(`
security_level: 384
hash_algorithm: SHA3
`)
	require.NoError(t, ioutil.WriteFile(configFile, content, 0644))

	c, err := FromFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, 384, c.SecurityLevel())
	assert.Equal(t, "SHA3", c.HashAlgorithm())

	// Keys the file does not mention keep their defaults.
	assert.Equal(t, 10*time.Minute, c.TransactionCleanupTimeout())
}

func TestFromFileErrors(t *testing.T) {
	_, err := FromFile("")
	require.Error(t, err)

	_, err = FromFile("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestSecurityCurveMapping(t *testing.T) {
	c := New()
	mapping := c.SecurityCurveMapping()
	assert.Equal(t, "P-256", mapping[256])
	assert.Equal(t, "P-384", mapping[384])

	c.Set(KeySecurityCurveMapping, "256=P-256:bogus:x=P-521")
	mapping = c.SecurityCurveMapping()
	assert.Equal(t, map[int]string{256: "P-256"}, mapping)
}

func TestSet(t *testing.T) {
	c := New()
	c.Set(KeyProposalConsistencyValidate, false)
	assert.False(t, c.ProposalConsistencyValidation())

	c.Set(KeyServiceDiscoveryFrequency, 0)
	assert.Equal(t, time.Duration(0), c.ServiceDiscoveryFrequency())
}
