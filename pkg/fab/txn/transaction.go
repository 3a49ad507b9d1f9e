/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package txn

import (
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

// CreateTransactionPayload assembles the transaction payload from the
// original proposal and the gathered endorsements. The proposal's own header
// is reused so the committed transaction carries the identical nonce and
// creator the endorsers signed over.
func CreateTransactionPayload(proposal *Proposal, responses []*pb.ProposalResponse) ([]byte, error) {
	if proposal == nil || proposal.Proposal == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"proposal is required", nil)
	}
	if len(responses) == 0 {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"at least one proposal response is required", nil)
	}

	header := &cb.Header{}
	if err := proto.Unmarshal(proposal.Proposal.Header, header); err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"unmarshal of proposal header failed: "+err.Error(), nil)
	}

	// The transient map must not travel in the committed transaction, so the
	// proposal payload is re-marshaled with only the invocation input.
	ccPayload := &pb.ChaincodeProposalPayload{}
	if err := proto.Unmarshal(proposal.Proposal.Payload, ccPayload); err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"unmarshal of proposal payload failed: "+err.Error(), nil)
	}
	ccPayloadBytes, err := proto.Marshal(&pb.ChaincodeProposalPayload{Input: ccPayload.Input})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of chaincode proposal payload failed: "+err.Error(), nil)
	}

	endorsements := make([]*pb.Endorsement, len(responses))
	for i, r := range responses {
		endorsements[i] = r.Endorsement
	}
	actionPayloadBytes, err := proto.Marshal(&pb.ChaincodeActionPayload{
		ChaincodeProposalPayload: ccPayloadBytes,
		Action: &pb.ChaincodeEndorsedAction{
			ProposalResponsePayload: responses[0].Payload,
			Endorsements:            endorsements,
		},
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of chaincode action payload failed: "+err.Error(), nil)
	}

	txBytes, err := proto.Marshal(&pb.Transaction{
		Actions: []*pb.TransactionAction{{
			Header:  header.SignatureHeader,
			Payload: actionPayloadBytes,
		}},
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of transaction failed: "+err.Error(), nil)
	}

	payloadBytes, err := proto.Marshal(&cb.Payload{Header: header, Data: txBytes})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of transaction payload failed: "+err.Error(), nil)
	}
	return payloadBytes, nil
}
