/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package channel

import (
	"context"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
	"github.com/hyperledger/fabric-client-go/pkg/fab/txn"
)

// ExecuteTransaction drives the full pipeline for one request: build and
// sign the proposal, fan it out to the endorsing peers, validate the
// endorsements and submit the envelope, then wait for the commit.
func (c *Channel) ExecuteTransaction(ctx context.Context, request txn.Request, opts SubmitOpts) (*TransactionResult, error) {
	if c.State() != Initialized {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel "+c.name+" is not initialized", nil)
	}

	proposal, responses, err := c.endorse(ctx, request)
	if err != nil {
		return nil, err
	}
	return c.SendTransaction(ctx, proposal, responses, opts)
}

// InstallChaincode sends the install proposal to the endorsing peers. No
// transaction is submitted: installation is a peer-local operation.
func (c *Channel) InstallChaincode(ctx context.Context, request txn.Request) ([]*ProposalResponse, error) {
	request.Kind = txn.KindInstall
	request.ChannelID = ""

	proposal, err := txn.NewProposal(c.ctx.Suite(), c.ctx.User(), request)
	if err != nil {
		return nil, err
	}
	responses, err := c.SendProposal(ctx, proposal, nil)
	if err != nil {
		return responses, err
	}
	return responses, c.requireEndorsements(responses)
}

// endorse builds the proposal for the request and gathers consistent
// endorsements for it. A divergent or failed endorsement set stops the
// transaction before anything reaches the orderer.
func (c *Channel) endorse(ctx context.Context, request txn.Request) (*txn.Proposal, []*ProposalResponse, error) {
	request.ChannelID = c.name

	targets := c.Peers(peer.RoleEndorsing)
	if len(targets) == 0 {
		return nil, nil, status.New(status.ClientStatus, status.NoPeersFound.ToInt32(),
			"no endorsing peers on channel "+c.name, nil)
	}

	// Mutual-TLS binding: the channel header carries the digest of the
	// client certificate the transport presents.
	if request.TLSCertHash == nil {
		request.TLSCertHash = targets[0].Endpoint().TLSCertHash()
	}

	// Instantiate and upgrade default to a member-of-MSP endorsement policy.
	if (request.Kind == txn.KindInstantiate || request.Kind == txn.KindUpgrade) && len(request.EndorsementPolicy) == 0 {
		policy, err := txn.SignedByMSPMember(c.ctx.User().MSPID())
		if err != nil {
			return nil, nil, err
		}
		request.EndorsementPolicy = policy
	}

	proposal, err := txn.NewProposal(c.ctx.Suite(), c.ctx.User(), request)
	if err != nil {
		return nil, nil, err
	}
	responses, err := c.SendProposal(ctx, proposal, targets)
	if err != nil && len(responses) == 0 {
		return nil, nil, err
	}
	if err := c.requireEndorsements(responses); err != nil {
		return nil, nil, err
	}
	return proposal, responses, nil
}
