/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/golang/protobuf/proto"
	discovery "github.com/hyperledger/fabric-protos-go/discovery"
	gossip "github.com/hyperledger/fabric-protos-go/gossip"
	"google.golang.org/grpc"
)

// MockDiscoveryServer answers peer-membership queries with a canned set of
// peer endpoints per MSP.
type MockDiscoveryServer struct {
	PeersByOrg map[string][]string
	// Error makes every query come back rejected with this content.
	Error string

	requestsReceived int32
}

// RequestsReceived returns the number of discovery requests received so far.
func (m *MockDiscoveryServer) RequestsReceived() int {
	return int(atomic.LoadInt32(&m.requestsReceived))
}

// Discover returns the canned membership result.
func (m *MockDiscoveryServer) Discover(ctx context.Context, request *discovery.SignedRequest) (*discovery.Response, error) {
	atomic.AddInt32(&m.requestsReceived, 1)

	if m.Error != "" {
		return &discovery.Response{Results: []*discovery.QueryResult{{
			Result: &discovery.QueryResult_Error{Error: &discovery.Error{Content: m.Error}},
		}}}, nil
	}

	peersByOrg := make(map[string]*discovery.Peers)
	for mspID, endpoints := range m.PeersByOrg {
		peers := &discovery.Peers{}
		for _, endpoint := range endpoints {
			alive, err := proto.Marshal(&gossip.GossipMessage{
				Content: &gossip.GossipMessage_AliveMsg{AliveMsg: &gossip.AliveMessage{
					Membership: &gossip.Member{Endpoint: endpoint},
				}},
			})
			if err != nil {
				return nil, err
			}
			peers.Peers = append(peers.Peers, &discovery.Peer{
				MembershipInfo: &gossip.Envelope{Payload: alive},
			})
		}
		peersByOrg[mspID] = peers
	}
	return &discovery.Response{Results: []*discovery.QueryResult{{
		Result: &discovery.QueryResult_Members{
			Members: &discovery.PeerMembershipResult{PeersByOrg: peersByOrg},
		},
	}}}, nil
}

// StartDiscoveryServer serves the mock on an ephemeral local port.
func StartDiscoveryServer(m *MockDiscoveryServer) (addr string, stop func(), err error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen failed: %s", err)
	}
	server := grpc.NewServer()
	discovery.RegisterDiscoveryServer(server, m)
	go server.Serve(lis)
	return lis.Addr().String(), server.Stop, nil
}
