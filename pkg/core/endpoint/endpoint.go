/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package endpoint parses remote addresses and builds the gRPC transport
// credentials used by peer, orderer and event-hub clients.
package endpoint

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/op/go-logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

var logger = logging.MustGetLogger("fabric_client_go")

var urlPattern = regexp.MustCompile(`^(?i)(grpc|grpcs)://([^:/]+):(\d+)$`)

// cnCache caches the CN extracted from root-CA PEM bytes, keyed by the PEM
// text. Read-mostly; shared by all endpoints in the process.
var cnCache sync.Map

// Protocol is the transport scheme of an endpoint.
type Protocol string

// Supported protocols.
const (
	ProtocolGRPC  Protocol = "grpc"
	ProtocolGRPCS Protocol = "grpcs"
)

// Endpoint describes one remote service address together with its transport
// credentials. An Endpoint is immutable after construction and may be shared
// across channels.
type Endpoint struct {
	url         string
	protocol    Protocol
	host        string
	port        int
	serverName  string
	rootCAs     *x509.CertPool
	clientPair  *tls.Certificate
	tlsCertHash []byte
	options     map[string]interface{}
	dialOpts    []grpc.DialOption
}

// ParseURL validates s against the accepted grpc(s)://host:port form and
// returns its parts.
func ParseURL(s string) (Protocol, string, int, error) {
	m := urlPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", 0, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"URL must be of the form grpc(s)://host:port: "+s, nil)
	}
	port, err := strconv.Atoi(m[3])
	if err != nil || port < 1 || port > 65535 {
		return "", "", 0, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"URL port is out of range: "+s, nil)
	}
	return Protocol(strings.ToLower(m[1])), m[2], port, nil
}

// New builds an endpoint for the given URL. TLS material and transport
// options are supplied through Option values; the TLS client certificate
// digest used for channel-header binding is computed here, once.
func New(url string, opts ...Option) (*Endpoint, error) {
	protocol, host, port, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Endpoint{
		url:      url,
		protocol: protocol,
		host:     host,
		port:     port,
		options:  cfg.properties,
	}

	if protocol == ProtocolGRPCS {
		if err := e.buildTLS(cfg); err != nil {
			return nil, err
		}
	} else {
		e.dialOpts = append(e.dialOpts, grpc.WithInsecure())
	}

	extra, err := grpcOptions(cfg.properties)
	if err != nil {
		return nil, err
	}
	e.dialOpts = append(e.dialOpts, extra...)

	return e, nil
}

func (e *Endpoint) buildTLS(cfg *config) error {
	tlsConfig := &tls.Config{}

	if len(cfg.rootCAsPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.rootCAsPEM) {
			return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
				"no certificates parsed from root CA PEM", nil)
		}
		e.rootCAs = pool
		tlsConfig.RootCAs = pool
	}

	serverName := cfg.hostnameOverride
	if serverName == "" && cfg.trustServerCertificate && len(cfg.rootCAsPEM) > 0 {
		cn, err := commonNameFromPEM(cfg.rootCAsPEM)
		if err != nil {
			return err
		}
		serverName = cn
	}
	e.serverName = serverName
	tlsConfig.ServerName = serverName

	if len(cfg.clientCertPEM) > 0 {
		pair, err := tls.X509KeyPair(cfg.clientCertPEM, cfg.clientKeyPEM)
		if err != nil {
			return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
				"client TLS key pair rejected: "+err.Error(), nil)
		}
		e.clientPair = &pair
		tlsConfig.Certificates = []tls.Certificate{pair}

		digest := sha256.Sum256(pair.Certificate[0])
		e.tlsCertHash = digest[:]
	}

	e.dialOpts = append(e.dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	return nil
}

// commonNameFromPEM extracts the CN from the first certificate in the PEM,
// consulting the process-wide cache first.
func commonNameFromPEM(pemBytes []byte) (string, error) {
	key := string(pemBytes)
	if cn, ok := cnCache.Load(key); ok {
		return cn.(string), nil
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return "", status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"no PEM block found in root CA bytes", nil)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"root CA certificate parsing failed: "+err.Error(), nil)
	}

	cn := cert.Subject.CommonName
	cnCache.Store(key, cn)
	logger.Debugf("Cached CN %s for root CA PEM", cn)
	return cn, nil
}

// URL returns the endpoint URL as given.
func (e *Endpoint) URL() string {
	return e.url
}

// Protocol returns grpc or grpcs.
func (e *Endpoint) Protocol() Protocol {
	return e.protocol
}

// Host returns the host part of the URL.
func (e *Endpoint) Host() string {
	return e.host
}

// Port returns the port part of the URL.
func (e *Endpoint) Port() int {
	return e.port
}

// Address returns host:port, the form the gRPC dialer expects.
func (e *Endpoint) Address() string {
	return e.host + ":" + strconv.Itoa(e.port)
}

// Secured reports whether the endpoint uses TLS.
func (e *Endpoint) Secured() bool {
	return e.protocol == ProtocolGRPCS
}

// MutualTLS reports whether a client key pair was configured.
func (e *Endpoint) MutualTLS() bool {
	return e.clientPair != nil
}

// TLSCertHash is the SHA-256 digest over the DER encoded client TLS
// certificate, or nil when mutual TLS is not in use. The channel header
// references this digest to bind the creator identity to the transport.
func (e *Endpoint) TLSCertHash() []byte {
	return e.tlsCertHash
}

// Options returns the transport properties the endpoint was built with.
func (e *Endpoint) Options() map[string]interface{} {
	return e.options
}

// DialOptions returns the gRPC dial options for this endpoint.
func (e *Endpoint) DialOptions() []grpc.DialOption {
	return e.dialOpts
}
