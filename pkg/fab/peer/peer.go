/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package peer implements the endorser client: one Peer wraps one remote
// endorsing peer and sends signed proposals to it.
package peer

import (
	"context"
	"sync"
	"time"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/op/go-logging"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/hyperledger/fabric-client-go/pkg/core/endpoint"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

var logger = logging.MustGetLogger("fabric_client_go")

// Role is a bit set describing what a peer is used for within a channel.
type Role uint8

// Peer roles.
const (
	RoleEndorsing Role = 1 << iota
	RoleChaincodeQuery
	RoleLedgerQuery
	RoleEventSource
	RoleServiceDiscovery
)

// DefaultRoles is what a peer added without explicit roles can do.
const DefaultRoles = RoleEndorsing | RoleChaincodeQuery | RoleLedgerQuery | RoleEventSource

// Peer sends endorsement proposals to one remote endorsing peer. The gRPC
// connection is established lazily and reused until Close.
type Peer struct {
	endpoint *endpoint.Endpoint
	name     string
	mspID    string
	roles    Role

	connMtx sync.Mutex
	conn    *grpc.ClientConn
}

// Option customizes a peer.
type Option func(*Peer)

// WithName sets a display name. Defaults to the endpoint URL.
func WithName(name string) Option {
	return func(p *Peer) { p.name = name }
}

// WithMSPID records the MSP the peer belongs to.
func WithMSPID(mspID string) Option {
	return func(p *Peer) { p.mspID = mspID }
}

// WithRoles replaces the default role set.
func WithRoles(roles Role) Option {
	return func(p *Peer) { p.roles = roles }
}

// New wraps the endpoint into a peer client.
func New(ep *endpoint.Endpoint, opts ...Option) (*Peer, error) {
	if ep == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"endpoint is required", nil)
	}
	p := &Peer{
		endpoint: ep,
		name:     ep.URL(),
		roles:    DefaultRoles,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// URL returns the peer's endpoint URL.
func (p *Peer) URL() string {
	return p.endpoint.URL()
}

// Name returns the peer's display name.
func (p *Peer) Name() string {
	return p.name
}

// MSPID returns the MSP the peer belongs to, if recorded.
func (p *Peer) MSPID() string {
	return p.mspID
}

// Roles returns the peer's role set.
func (p *Peer) Roles() Role {
	return p.roles
}

// HasRole reports whether the peer carries the given role.
func (p *Peer) HasRole(role Role) bool {
	return p.roles&role != 0
}

// Endpoint returns the peer's endpoint.
func (p *Peer) Endpoint() *endpoint.Endpoint {
	return p.endpoint
}

func (p *Peer) connection() (*grpc.ClientConn, error) {
	p.connMtx.Lock()
	defer p.connMtx.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := grpc.Dial(p.endpoint.Address(), p.endpoint.DialOptions()...)
	if err != nil {
		return nil, status.New(status.EndorserClientStatus, status.ConnectionFailed.ToInt32(),
			"dial failed: "+err.Error(), nil).WithEndpoint(p.endpoint.URL())
	}
	p.conn = conn
	return conn, nil
}

// ProcessProposal sends the signed proposal and waits up to deadline for the
// endorsement. Transport failures and deadline expiry come back as typed
// errors carrying the peer's URL; the response itself is returned verbatim,
// including non-2xx endorser statuses, so the caller can collect all
// endorsements before judging them.
func (p *Peer) ProcessProposal(ctx context.Context, signed *pb.SignedProposal, deadline time.Duration) (*pb.ProposalResponse, error) {
	if signed == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"signed proposal is required", nil)
	}

	conn, err := p.connection()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	logger.Debugf("Sending proposal to %s", p.endpoint.URL())
	response, err := pb.NewEndorserClient(conn).ProcessProposal(ctx, signed)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, status.New(status.EndorserClientStatus, status.Timeout.ToInt32(),
				"proposal wait time expired", nil).WithEndpoint(p.endpoint.URL())
		}
		if s, ok := grpcstatus.FromError(err); ok {
			return nil, status.NewFromGRPCStatus(s).WithEndpoint(p.endpoint.URL())
		}
		return nil, status.New(status.EndorserClientStatus, status.ConnectionFailed.ToInt32(),
			err.Error(), nil).WithEndpoint(p.endpoint.URL())
	}
	if response == nil || response.Response == nil {
		return nil, status.New(status.EndorserClientStatus, status.ProposalFailed.ToInt32(),
			"endorser returned an empty response", nil).WithEndpoint(p.endpoint.URL())
	}
	return response, nil
}

// Close releases the cached connection. The peer can be reused afterwards;
// the next call dials again.
func (p *Peer) Close() {
	p.connMtx.Lock()
	defer p.connMtx.Unlock()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			logger.Warningf("Closing connection to %s failed: %s", p.endpoint.URL(), err)
		}
		p.conn = nil
	}
}
