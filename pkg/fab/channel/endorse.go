/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package channel

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/golang/protobuf/proto"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-client-go/pkg/errors/multi"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
	"github.com/hyperledger/fabric-client-go/pkg/fab/txn"
)

// ProposalResponse is one endorser's answer, tagged with the endorser URL.
type ProposalResponse struct {
	Endorser     string
	Status       int32
	Payload      []byte
	ProposalHash []byte
	Response     *pb.ProposalResponse
}

// Successful reports whether the endorser accepted the proposal.
func (r *ProposalResponse) Successful() bool {
	return r.Status >= 200 && r.Status < 400
}

// SendProposal signs the proposal and dispatches it concurrently to the
// given peers, each with a proposal-wait-time deadline. All responses are
// gathered; per-peer failures are folded into a multi error returned
// alongside the successful responses.
func (c *Channel) SendProposal(ctx context.Context, proposal *txn.Proposal, targets []*peer.Peer) ([]*ProposalResponse, error) {
	if err := c.checkNotShutdown(); err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"proposal is required", nil)
	}
	if len(targets) == 0 {
		targets = c.Peers(peer.RoleEndorsing)
	}
	if len(targets) == 0 {
		return nil, status.New(status.ClientStatus, status.NoPeersFound.ToInt32(),
			"no endorsing peers on channel "+c.name, nil)
	}

	signed, err := txn.SignProposal(c.ctx.Suite(), c.ctx.User(), proposal.Proposal)
	if err != nil {
		return nil, err
	}

	deadline := c.ctx.Config().ProposalWaitTime()

	var mtx sync.Mutex
	var responses []*ProposalResponse
	var errs multi.Errors
	var wg sync.WaitGroup
	for _, p := range targets {
		wg.Add(1)
		go func(p *peer.Peer) {
			defer wg.Done()
			response, err := p.ProcessProposal(ctx, signed, deadline)
			mtx.Lock()
			defer mtx.Unlock()
			if err != nil {
				logger.Debugf("Endorser %s failed: %s", p.URL(), err)
				errs = append(errs, err)
				return
			}
			parsed, err := parseResponse(p.URL(), response)
			if err != nil {
				errs = append(errs, err)
				return
			}
			responses = append(responses, parsed)
		}(p)
	}
	wg.Wait()

	return responses, errs.ToError()
}

func parseResponse(endorser string, response *pb.ProposalResponse) (*ProposalResponse, error) {
	parsed := &ProposalResponse{
		Endorser: endorser,
		Status:   response.Response.Status,
		Payload:  response.Response.Payload,
		Response: response,
	}
	if len(response.Payload) > 0 {
		prp := &pb.ProposalResponsePayload{}
		if err := proto.Unmarshal(response.Payload, prp); err != nil {
			return nil, status.New(status.EndorserClientStatus, status.ProposalFailed.ToInt32(),
				"decoding proposal response payload failed: "+err.Error(), nil).WithEndpoint(endorser)
		}
		parsed.ProposalHash = prp.ProposalHash
	}
	return parsed, nil
}

// ValidateConsistency groups the successful responses into consistency sets
// keyed by (proposal hash, payload) and requires a single set. A divergence
// fails with an endorsement-mismatch error carrying every response.
func ValidateConsistency(responses []*ProposalResponse) error {
	groups := make(map[string][]*ProposalResponse)
	for _, r := range responses {
		if !r.Successful() {
			continue
		}
		key := hex.EncodeToString(r.ProposalHash) + "/" + string(r.Payload)
		groups[key] = append(groups[key], r)
	}
	if len(groups) <= 1 {
		return nil
	}

	details := make([]interface{}, 0, len(responses))
	for _, r := range responses {
		details = append(details, r)
	}
	return status.New(status.ClientStatus, status.EndorsementMismatch.ToInt32(),
		"endorsement responses diverge", details)
}

// requireEndorsements checks that every gathered response is successful and,
// when consistency validation is enabled, that they form one consistency set.
func (c *Channel) requireEndorsements(responses []*ProposalResponse) error {
	if len(responses) == 0 {
		return status.New(status.ClientStatus, status.MissingEndorsement.ToInt32(),
			"no endorsements were gathered", nil)
	}
	for _, r := range responses {
		if !r.Successful() {
			return status.NewFromProposalResponse(r.Response, r.Endorser)
		}
	}
	if c.ctx.Config().ProposalConsistencyValidation() {
		return ValidateConsistency(responses)
	}
	return nil
}
