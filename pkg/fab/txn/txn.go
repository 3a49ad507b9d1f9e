/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package txn assembles the protobuf artifacts of the endorse/order/commit
// protocol: transaction identifiers, channel and signature headers, chaincode
// proposals and the signed envelopes built from endorsed proposals.
package txn

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

const nonceLength = 24

// TransactionID carries a transaction identifier together with the nonce and
// creator bytes it was computed from. The same pair must appear in the
// signature header of the proposal, otherwise commit matching breaks.
type TransactionID struct {
	ID      string
	Nonce   []byte
	Creator []byte
}

// NewTransactionID draws a fresh nonce and derives the transaction identifier
// as hex(hash(nonce || creator)) using the suite's configured hash.
func NewTransactionID(suite *cryptosuite.CryptoSuite, user *msp.User) (TransactionID, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return TransactionID{}, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"nonce generation failed: "+err.Error(), nil)
	}

	creator, err := user.SerializedIdentity()
	if err != nil {
		return TransactionID{}, err
	}

	return TransactionID{
		ID:      txIDFromParts(suite, nonce, creator),
		Nonce:   nonce,
		Creator: creator,
	}, nil
}

func txIDFromParts(suite *cryptosuite.CryptoSuite, nonce, creator []byte) string {
	digest := suite.Hash(append(append([]byte(nil), nonce...), creator...))
	return hex.EncodeToString(digest)
}

// ChannelHeaderOpts parameterizes channel header construction.
type ChannelHeaderOpts struct {
	Type        cb.HeaderType
	ChannelID   string
	TxID        TransactionID
	Epoch       uint64
	ChaincodeID string
	TLSCertHash []byte
}

// CreateChannelHeader builds a channel header with a fresh timestamp. The TLS
// certificate hash binds the creator identity to the mutual-TLS transport and
// must be present whenever the target endpoint uses a client certificate.
func CreateChannelHeader(opts ChannelHeaderOpts) (*cb.ChannelHeader, error) {
	ts := ptypes.TimestampNow()

	header := &cb.ChannelHeader{
		Type:        int32(opts.Type),
		Version:     1,
		ChannelId:   opts.ChannelID,
		TxId:        opts.TxID.ID,
		Epoch:       opts.Epoch,
		Timestamp:   ts,
		TlsCertHash: opts.TLSCertHash,
	}

	if opts.ChaincodeID != "" {
		ext, err := proto.Marshal(&pb.ChaincodeHeaderExtension{
			ChaincodeId: &pb.ChaincodeID{Name: opts.ChaincodeID},
		})
		if err != nil {
			return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
				"marshal of chaincode header extension failed: "+err.Error(), nil)
		}
		header.Extension = ext
	}

	return header, nil
}

// CreateHeader pairs the channel header with a signature header carrying the
// identical nonce and creator used to derive the transaction identifier.
func CreateHeader(txID TransactionID, channelHeader *cb.ChannelHeader) (*cb.Header, error) {
	signatureHeader, err := proto.Marshal(&cb.SignatureHeader{
		Creator: txID.Creator,
		Nonce:   txID.Nonce,
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of signature header failed: "+err.Error(), nil)
	}
	channelHeaderBytes, err := proto.Marshal(channelHeader)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of channel header failed: "+err.Error(), nil)
	}
	return &cb.Header{
		ChannelHeader:   channelHeaderBytes,
		SignatureHeader: signatureHeader,
	}, nil
}

// SignProposal signs the marshaled proposal with the user's enrollment key.
func SignProposal(suite *cryptosuite.CryptoSuite, user *msp.User, proposal *pb.Proposal) (*pb.SignedProposal, error) {
	proposalBytes, err := proto.Marshal(proposal)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of proposal failed: "+err.Error(), nil)
	}
	signature, err := suite.Sign(user.PrivateKey(), proposalBytes)
	if err != nil {
		return nil, err
	}
	return &pb.SignedProposal{ProposalBytes: proposalBytes, Signature: signature}, nil
}

// CreateSignedEnvelope signs the payload bytes and wraps them into an
// envelope ready for broadcast.
func CreateSignedEnvelope(suite *cryptosuite.CryptoSuite, user *msp.User, payload []byte) (*cb.Envelope, error) {
	signature, err := suite.Sign(user.PrivateKey(), payload)
	if err != nil {
		return nil, err
	}
	return &cb.Envelope{Payload: payload, Signature: signature}, nil
}
