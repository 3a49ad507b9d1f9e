/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package peer

import (
	"context"
	"time"

	discovery "github.com/hyperledger/fabric-protos-go/discovery"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

// SendDiscovery sends a signed discovery request to the peer's discovery
// service and waits up to deadline for the response.
func (p *Peer) SendDiscovery(ctx context.Context, request *discovery.SignedRequest, deadline time.Duration) (*discovery.Response, error) {
	if request == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"discovery request is required", nil)
	}
	if !p.HasRole(RoleServiceDiscovery) {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"peer "+p.URL()+" does not serve discovery", nil)
	}

	conn, err := p.connection()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	response, err := discovery.NewDiscoveryClient(conn).Discover(ctx, request)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, status.New(status.EndorserClientStatus, status.Timeout.ToInt32(),
				"discovery wait time expired", nil).WithEndpoint(p.endpoint.URL())
		}
		if s, ok := grpcstatus.FromError(err); ok {
			return nil, status.NewFromGRPCStatus(s).WithEndpoint(p.endpoint.URL())
		}
		return nil, status.New(status.EndorserClientStatus, status.ConnectionFailed.ToInt32(),
			err.Error(), nil).WithEndpoint(p.endpoint.URL())
	}
	return response, nil
}
