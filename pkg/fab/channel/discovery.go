/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package channel

import (
	"context"
	"sort"
	"time"

	"github.com/golang/protobuf/proto"
	discovery "github.com/hyperledger/fabric-protos-go/discovery"
	gossip "github.com/hyperledger/fabric-protos-go/gossip"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
)

// MemberPeer is one peer reported by service discovery.
type MemberPeer struct {
	MSPID    string
	Endpoint string
}

// Membership returns the peer set reported by the most recent discovery
// refresh, ordered by MSP ID then endpoint. Empty until the first refresh
// completes.
func (c *Channel) Membership() []MemberPeer {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	out := make([]MemberPeer, len(c.membership))
	copy(out, c.membership)
	return out
}

// discoveryLoop refreshes the channel membership view on the configured
// cadence until the channel shuts down.
func (c *Channel) discoveryLoop(stop chan struct{}, done chan struct{}) {
	defer close(done)

	freq := c.ctx.Config().ServiceDiscoveryFrequency()
	if freq <= 0 {
		return
	}
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.refreshMembership(context.Background()); err != nil {
				logger.Warningf("Service discovery on channel %s failed: %s", c.name, err)
			}
		}
	}
}

// refreshMembership asks a discovery-capable peer for the channel's peer
// membership and replaces the channel's membership view with the result.
func (c *Channel) refreshMembership(ctx context.Context) error {
	targets := c.Peers(peer.RoleServiceDiscovery)
	if len(targets) == 0 {
		return status.New(status.ClientStatus, status.NoPeersFound.ToInt32(),
			"no discovery peers on channel "+c.name, nil)
	}

	request, err := c.membershipRequest(targets[0])
	if err != nil {
		return err
	}

	response, err := targets[0].SendDiscovery(ctx, request, c.ctx.Config().ProposalWaitTime())
	if err != nil {
		return err
	}

	var discovered []MemberPeer
	for _, result := range response.Results {
		if e := result.GetError(); e != nil {
			return status.New(status.EndorserServerStatus, status.Unknown.ToInt32(),
				"discovery query rejected: "+e.Content, nil).WithEndpoint(targets[0].URL())
		}
		members := result.GetMembers()
		if members == nil {
			continue
		}
		for mspID, peers := range members.PeersByOrg {
			for _, p := range peers.Peers {
				discovered = append(discovered, MemberPeer{
					MSPID:    mspID,
					Endpoint: memberEndpoint(p),
				})
			}
		}
	}
	sort.Slice(discovered, func(i, j int) bool {
		if discovered[i].MSPID != discovered[j].MSPID {
			return discovered[i].MSPID < discovered[j].MSPID
		}
		return discovered[i].Endpoint < discovered[j].Endpoint
	})

	c.mtx.Lock()
	c.membership = discovered
	c.mtx.Unlock()

	logger.Infof("Service discovery on channel %s returned %d peers", c.name, len(discovered))
	return nil
}

// memberEndpoint digs the peer's network endpoint out of the gossip alive
// message carried in the discovery result.
func memberEndpoint(p *discovery.Peer) string {
	if p.MembershipInfo == nil {
		return ""
	}
	msg := &gossip.GossipMessage{}
	if err := proto.Unmarshal(p.MembershipInfo.Payload, msg); err != nil {
		return ""
	}
	return msg.GetAliveMsg().GetMembership().GetEndpoint()
}

// membershipRequest builds the signed peer-membership query.
func (c *Channel) membershipRequest(target *peer.Peer) (*discovery.SignedRequest, error) {
	creator, err := c.ctx.User().SerializedIdentity()
	if err != nil {
		return nil, err
	}

	payload, err := proto.Marshal(&discovery.Request{
		Authentication: &discovery.AuthInfo{
			ClientIdentity:    creator,
			ClientTlsCertHash: target.Endpoint().TLSCertHash(),
		},
		Queries: []*discovery.Query{{
			Channel: c.name,
			Query: &discovery.Query_PeerQuery{
				PeerQuery: &discovery.PeerMembershipQuery{},
			},
		}},
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of discovery request failed: "+err.Error(), nil)
	}

	signature, err := c.ctx.Suite().Sign(c.ctx.User().PrivateKey(), payload)
	if err != nil {
		return nil, err
	}
	return &discovery.SignedRequest{Payload: payload, Signature: signature}, nil
}
