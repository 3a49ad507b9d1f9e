/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package channel

import (
	"context"
	"strconv"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-client-go/pkg/errors/multi"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
	"github.com/hyperledger/fabric-client-go/pkg/fab/txn"
)

// QueryByChaincode sends a query proposal to chaincode-query peers and
// returns the first successful response payload. No transaction is
// submitted.
func (c *Channel) QueryByChaincode(ctx context.Context, chaincodeID, fcn string, args [][]byte) ([]byte, error) {
	return c.queryFirst(ctx, txn.Request{
		Kind:        txn.KindQuery,
		ChannelID:   c.name,
		ChaincodeID: chaincodeID,
		Fcn:         fcn,
		Args:        args,
	}, peer.RoleChaincodeQuery)
}

// queryFirst builds the query proposal and consults candidate peers one at a
// time, short-circuiting on the first success.
func (c *Channel) queryFirst(ctx context.Context, request txn.Request, role peer.Role) ([]byte, error) {
	if err := c.checkNotShutdown(); err != nil {
		return nil, err
	}

	candidates := c.Peers(role)
	if len(candidates) == 0 {
		return nil, status.New(status.ClientStatus, status.NoPeersFound.ToInt32(),
			"no peers with the requested role on channel "+c.name, nil)
	}

	proposal, err := txn.NewProposal(c.ctx.Suite(), c.ctx.User(), request)
	if err != nil {
		return nil, err
	}
	signed, err := txn.SignProposal(c.ctx.Suite(), c.ctx.User(), proposal.Proposal)
	if err != nil {
		return nil, err
	}

	deadline := c.ctx.Config().ProposalWaitTime()
	var errs multi.Errors
	for _, p := range candidates {
		response, err := p.ProcessProposal(ctx, signed, deadline)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if response.Response.Status < 200 || response.Response.Status >= 400 {
			errs = append(errs, status.NewFromProposalResponse(response, p.URL()))
			continue
		}
		return response.Response.Payload, nil
	}
	return nil, errs.ToError()
}

// QueryInfo fetches the blockchain summary of the channel from QSCC.
func (c *Channel) QueryInfo(ctx context.Context) (*cb.BlockchainInfo, error) {
	payload, err := c.qscc(ctx, "GetChainInfo", [][]byte{[]byte(c.name)})
	if err != nil {
		return nil, err
	}
	info := &cb.BlockchainInfo{}
	if err := proto.Unmarshal(payload, info); err != nil {
		return nil, queryDecodeError("blockchain info", err)
	}
	return info, nil
}

// QueryBlock fetches the block with the given number from QSCC.
func (c *Channel) QueryBlock(ctx context.Context, number uint64) (*cb.Block, error) {
	payload, err := c.qscc(ctx, "GetBlockByNumber", [][]byte{
		[]byte(c.name),
		[]byte(strconv.FormatUint(number, 10)),
	})
	if err != nil {
		return nil, err
	}
	return decodeBlock(payload)
}

// QueryBlockByHash fetches the block with the given header hash from QSCC.
func (c *Channel) QueryBlockByHash(ctx context.Context, hash []byte) (*cb.Block, error) {
	if len(hash) == 0 {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"block hash is required", nil)
	}
	payload, err := c.qscc(ctx, "GetBlockByHash", [][]byte{[]byte(c.name), hash})
	if err != nil {
		return nil, err
	}
	return decodeBlock(payload)
}

// QueryTransaction fetches a processed transaction by ID from QSCC.
func (c *Channel) QueryTransaction(ctx context.Context, txID string) (*pb.ProcessedTransaction, error) {
	if txID == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"transaction ID is required", nil)
	}
	payload, err := c.qscc(ctx, "GetTransactionByID", [][]byte{[]byte(c.name), []byte(txID)})
	if err != nil {
		return nil, err
	}
	tx := &pb.ProcessedTransaction{}
	if err := proto.Unmarshal(payload, tx); err != nil {
		return nil, queryDecodeError("processed transaction", err)
	}
	return tx, nil
}

// QueryInstantiatedChaincodes lists the chaincodes instantiated on the
// channel via LSCC.
func (c *Channel) QueryInstantiatedChaincodes(ctx context.Context) (*pb.ChaincodeQueryResponse, error) {
	payload, err := c.queryFirst(ctx, txn.Request{
		Kind:        txn.KindQuery,
		ChannelID:   c.name,
		ChaincodeID: txn.LSCC,
		Fcn:         "getchaincodes",
	}, peer.RoleLedgerQuery)
	if err != nil {
		return nil, err
	}
	response := &pb.ChaincodeQueryResponse{}
	if err := proto.Unmarshal(payload, response); err != nil {
		return nil, queryDecodeError("chaincode query response", err)
	}
	return response, nil
}

// qscc routes a ledger query through the QSCC system chaincode on any
// ledger-query peer.
func (c *Channel) qscc(ctx context.Context, fcn string, args [][]byte) ([]byte, error) {
	return c.queryFirst(ctx, txn.Request{
		Kind:        txn.KindQuery,
		ChannelID:   c.name,
		ChaincodeID: txn.QSCC,
		Fcn:         fcn,
		Args:        args,
	}, peer.RoleLedgerQuery)
}

// JoinChannel asks the channel's endorsing peers to join the ledger, handing
// each the genesis block through CSCC. The channel must hold at least one
// orderer to fetch the genesis block from.
func (c *Channel) JoinChannel(ctx context.Context) error {
	if err := c.checkNotShutdown(); err != nil {
		return err
	}

	genesis, err := c.GenesisBlock(ctx)
	if err != nil {
		return err
	}
	genesisBytes, err := proto.Marshal(genesis)
	if err != nil {
		return status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of genesis block failed: "+err.Error(), nil)
	}

	targets := c.Peers(peer.RoleEndorsing)
	if len(targets) == 0 {
		return status.New(status.ClientStatus, status.NoPeersFound.ToInt32(),
			"no endorsing peers on channel "+c.name, nil)
	}

	// CSCC join proposals carry no channel ID: the peer is not yet part of
	// the channel being joined.
	proposal, err := txn.NewProposal(c.ctx.Suite(), c.ctx.User(), txn.Request{
		Kind:        txn.KindInvoke,
		ChaincodeID: txn.CSCC,
		Fcn:         "JoinChain",
		Args:        [][]byte{genesisBytes},
	})
	if err != nil {
		return err
	}
	signed, err := txn.SignProposal(c.ctx.Suite(), c.ctx.User(), proposal.Proposal)
	if err != nil {
		return err
	}

	deadline := c.ctx.Config().ProposalWaitTime()
	var errs multi.Errors
	for _, p := range targets {
		response, err := p.ProcessProposal(ctx, signed, deadline)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if response.Response.Status != 200 {
			errs = append(errs, status.NewFromProposalResponse(response, p.URL()))
		}
	}
	return errs.ToError()
}

func decodeBlock(payload []byte) (*cb.Block, error) {
	block := &cb.Block{}
	if err := proto.Unmarshal(payload, block); err != nil {
		return nil, queryDecodeError("block", err)
	}
	return block, nil
}

func queryDecodeError(what string, err error) error {
	return status.New(status.EndorserClientStatus, status.BlockDecodeFailed.ToInt32(),
		"decoding "+what+" failed: "+err.Error(), nil)
}
