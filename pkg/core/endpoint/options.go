/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package endpoint

import (
	"io/ioutil"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

type config struct {
	rootCAsPEM             []byte
	clientCertPEM          []byte
	clientKeyPEM           []byte
	hostnameOverride       string
	trustServerCertificate bool
	properties             map[string]interface{}
	loadErr                error
}

// Option customizes endpoint construction.
type Option func(*config)

// WithRootCAsPEM supplies the PEM encoded trust roots for server
// certificate validation.
func WithRootCAsPEM(pemBytes []byte) Option {
	return func(c *config) { c.rootCAsPEM = pemBytes }
}

// WithClientTLS supplies the client certificate and key for mutual TLS.
// Both parts must be present; supplying only one is an argument error.
func WithClientTLS(certPEM, keyPEM []byte) Option {
	return func(c *config) {
		c.clientCertPEM = certPEM
		c.clientKeyPEM = keyPEM
	}
}

// WithClientTLSFiles loads the mutual-TLS pair from disk. A read failure
// surfaces at endpoint construction.
func WithClientTLSFiles(certFile, keyFile string) Option {
	return func(c *config) {
		cert, err := ioutil.ReadFile(certFile)
		if err != nil {
			c.loadErr = status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
				"client TLS certificate unreadable: "+err.Error(), nil)
			return
		}
		key, err := ioutil.ReadFile(keyFile)
		if err != nil {
			c.loadErr = status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
				"client TLS key unreadable: "+err.Error(), nil)
			return
		}
		c.clientCertPEM, c.clientKeyPEM = cert, key
	}
}

// WithHostnameOverride sets the expected server name, overriding CN
// extraction.
func WithHostnameOverride(name string) Option {
	return func(c *config) { c.hostnameOverride = name }
}

// WithTrustServerCertificate enables CN extraction from the supplied root CA
// PEM when no hostname override is given.
func WithTrustServerCertificate() Option {
	return func(c *config) { c.trustServerCertificate = true }
}

// WithProperties supplies transport properties. Keys prefixed "grpc." become
// channel options; values are coerced to integers when parseable.
func WithProperties(properties map[string]interface{}) Option {
	return func(c *config) { c.properties = properties }
}

func (c *config) validate() error {
	if c.loadErr != nil {
		return c.loadErr
	}
	haveCert := len(c.clientCertPEM) > 0
	haveKey := len(c.clientKeyPEM) > 0
	if haveCert != haveKey {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"mutual TLS requires both client key and certificate", nil)
	}
	return nil
}

// transportOptions are the grpc.* properties the dialer understands.
type transportOptions struct {
	MaxReceiveMessageLength int    `mapstructure:"grpc.max_receive_message_length"`
	MaxSendMessageLength    int    `mapstructure:"grpc.max_send_message_length"`
	KeepaliveTimeMs         int    `mapstructure:"grpc.keepalive_time_ms"`
	KeepaliveTimeoutMs      int    `mapstructure:"grpc.keepalive_timeout_ms"`
	KeepalivePermit         bool   `mapstructure:"grpc.keepalive_permit_without_calls"`
	Authority               string `mapstructure:"grpc.default_authority"`
}

// grpcOptions converts grpc.* properties into dial options.
func grpcOptions(properties map[string]interface{}) ([]grpc.DialOption, error) {
	if len(properties) == 0 {
		return nil, nil
	}

	normalized := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		if !strings.HasPrefix(k, "grpc.") {
			continue
		}
		if n, err := cast.ToIntE(v); err == nil {
			normalized[k] = n
		} else {
			normalized[k] = cast.ToString(v)
		}
	}
	if len(normalized) == 0 {
		return nil, nil
	}

	var topts transportOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &topts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"transport option decoder setup failed: "+err.Error(), nil)
	}
	if err := decoder.Decode(normalized); err != nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"transport options rejected: "+err.Error(), nil)
	}

	var opts []grpc.DialOption
	var callOpts []grpc.CallOption
	if topts.MaxReceiveMessageLength > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(topts.MaxReceiveMessageLength))
	}
	if topts.MaxSendMessageLength > 0 {
		callOpts = append(callOpts, grpc.MaxCallSendMsgSize(topts.MaxSendMessageLength))
	}
	if len(callOpts) > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(callOpts...))
	}
	if topts.KeepaliveTimeMs > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(topts.KeepaliveTimeMs) * time.Millisecond,
			Timeout:             time.Duration(topts.KeepaliveTimeoutMs) * time.Millisecond,
			PermitWithoutStream: topts.KeepalivePermit,
		}))
	}
	if topts.Authority != "" {
		opts = append(opts, grpc.WithAuthority(topts.Authority))
	}
	return opts, nil
}
