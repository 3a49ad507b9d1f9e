/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config reads client configuration options. Lookup precedence is
// environment variable, then configuration file, then built-in default.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var log = logging.MustGetLogger("fabric_client_go")

// Configuration keys recognized by the client.
const (
	KeyProposalWaitTime            = "proposal.wait.time"
	KeyChannelConfigWaitTime       = "channelconfig.wait_time"
	KeyTransactionCleanupTimeout   = "transaction_cleanup_timeout"
	KeyOrdererRetryWaitTime        = "orderer.retry_wait_time"
	KeyOrdererWaitTime             = "orderer.waitTimeMilliSecs"
	KeyEventRegistrationWaitTime   = "peer.eventRegistration.wait_time"
	KeyPeerRetryWaitTime           = "peer.retry_wait_time"
	KeyReconnectionWarningRate     = "eventhub.reconnection_warning_rate"
	KeyGenesisBlockWaitTime        = "channel.genesisblock_wait_time"
	KeySecurityLevel               = "security_level"
	KeySecurityCurveMapping        = "security_curve_mapping"
	KeyHashAlgorithm               = "hash_algorithm"
	KeySignatureAlgorithm          = "signature_algorithm"
	KeyProposalConsistencyValidate = "proposal.consistency_validation"
	KeyServiceDiscoveryFrequency   = "service_discovery.frequency_sec"
	KeyLoggingLevel                = "client.logging.level"
)

const envPrefix = "FABRIC_SDK"

// Config holds the resolved configuration for one client instance. There is
// no process-wide configuration state; each client carries its own Config.
type Config struct {
	v *viper.Viper
}

// New returns a Config populated with the built-in defaults and environment
// overrides only.
func New() *Config {
	return newConfig()
}

// FromFile returns a Config that reads the given key-value file (format
// detected by extension) underneath the environment overrides.
func FromFile(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, errors.New("configFile is required")
	}
	c := newConfig()
	c.v.SetConfigFile(configFile)
	if err := c.v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "loading config file %s failed", configFile)
	}
	log.Debugf("Using config file: %s", c.v.ConfigFileUsed())

	c.applyLogLevel()
	return c, nil
}

func newConfig() *Config {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	return &Config{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyProposalWaitTime, 30000)
	v.SetDefault(KeyChannelConfigWaitTime, 15000)
	v.SetDefault(KeyTransactionCleanupTimeout, 600000)
	v.SetDefault(KeyOrdererRetryWaitTime, 200)
	v.SetDefault(KeyOrdererWaitTime, 10000)
	v.SetDefault(KeyEventRegistrationWaitTime, 5000)
	v.SetDefault(KeyPeerRetryWaitTime, 500)
	v.SetDefault(KeyReconnectionWarningRate, 50)
	v.SetDefault(KeyGenesisBlockWaitTime, 5000)
	v.SetDefault(KeySecurityLevel, 256)
	v.SetDefault(KeySecurityCurveMapping, "256=P-256:384=P-384")
	v.SetDefault(KeyHashAlgorithm, "SHA2")
	v.SetDefault(KeySignatureAlgorithm, "SHA256withECDSA")
	v.SetDefault(KeyProposalConsistencyValidate, true)
	v.SetDefault(KeyServiceDiscoveryFrequency, 120)
}

func (c *Config) applyLogLevel() {
	levelString := c.v.GetString(KeyLoggingLevel)
	if levelString == "" {
		return
	}
	logLevel, err := logging.LogLevel(levelString)
	if err != nil {
		log.Warningf("Ignoring unknown logging level %s", levelString)
		return
	}
	logging.SetLevel(logLevel, "fabric_client_go")
}

func (c *Config) millis(key string) time.Duration {
	return time.Duration(c.v.GetInt64(key)) * time.Millisecond
}

// ProposalWaitTime is the per-peer endorsement deadline.
func (c *Config) ProposalWaitTime() time.Duration {
	return c.millis(KeyProposalWaitTime)
}

// ChannelConfigWaitTime is the config-block fetch timeout.
func (c *Config) ChannelConfigWaitTime() time.Duration {
	return c.millis(KeyChannelConfigWaitTime)
}

// TransactionCleanupTimeout is the maximum lifetime of a commit listener.
func (c *Config) TransactionCleanupTimeout() time.Duration {
	return c.millis(KeyTransactionCleanupTimeout)
}

// OrdererRetryWaitTime is the backoff between broadcast retries.
func (c *Config) OrdererRetryWaitTime() time.Duration {
	return c.millis(KeyOrdererRetryWaitTime)
}

// OrdererWaitTime is the per-broadcast deadline.
func (c *Config) OrdererWaitTime() time.Duration {
	return c.millis(KeyOrdererWaitTime)
}

// EventRegistrationWaitTime is the event-hub register-ack deadline.
func (c *Config) EventRegistrationWaitTime() time.Duration {
	return c.millis(KeyEventRegistrationWaitTime)
}

// PeerRetryWaitTime is the event-hub reconnect backoff.
func (c *Config) PeerRetryWaitTime() time.Duration {
	return c.millis(KeyPeerRetryWaitTime)
}

// ReconnectionWarningRate warns every N consecutive reconnect failures.
func (c *Config) ReconnectionWarningRate() int {
	return c.v.GetInt(KeyReconnectionWarningRate)
}

// GenesisBlockWaitTime is the genesis-block fetch deadline.
func (c *Config) GenesisBlockWaitTime() time.Duration {
	return c.millis(KeyGenesisBlockWaitTime)
}

// SecurityLevel is the EC key strength (256 or 384).
func (c *Config) SecurityLevel() int {
	return c.v.GetInt(KeySecurityLevel)
}

// SecurityCurveMapping maps key strength to named curves,
// e.g. "256=P-256:384=P-384".
func (c *Config) SecurityCurveMapping() map[int]string {
	mapping := make(map[int]string)
	for _, pair := range strings.Split(c.v.GetString(KeySecurityCurveMapping), ":") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		level, err := strconv.Atoi(kv[0])
		if err != nil {
			log.Warningf("Ignoring malformed curve mapping entry %s", pair)
			continue
		}
		mapping[level] = kv[1]
	}
	return mapping
}

// HashAlgorithm is the hash family, SHA2 or SHA3.
func (c *Config) HashAlgorithm() string {
	return c.v.GetString(KeyHashAlgorithm)
}

// SignatureAlgorithm is the signing algorithm name.
func (c *Config) SignatureAlgorithm() string {
	return c.v.GetString(KeySignatureAlgorithm)
}

// ProposalConsistencyValidation enforces consistent endorsements when true.
func (c *Config) ProposalConsistencyValidation() bool {
	return c.v.GetBool(KeyProposalConsistencyValidate)
}

// ServiceDiscoveryFrequency is the periodic discovery cadence. Zero disables
// the discovery scheduler.
func (c *Config) ServiceDiscoveryFrequency() time.Duration {
	return time.Duration(c.v.GetInt64(KeyServiceDiscoveryFrequency)) * time.Second
}

// Set overrides a single key. Intended for tests and programmatic tuning.
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}
