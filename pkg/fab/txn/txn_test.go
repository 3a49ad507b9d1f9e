/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package txn

import (
	"encoding/hex"
	"testing"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	mb "github.com/hyperledger/fabric-protos-go/msp"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/mocks"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

func testContext(t *testing.T) (*cryptosuite.CryptoSuite, *msp.User) {
	suite, err := cryptosuite.GetSuite(cryptosuite.DefaultOpts())
	require.NoError(t, err)

	identity, err := mocks.NewTestIdentity("testUser")
	require.NoError(t, err)
	key, err := cryptosuite.ImportPrivateKeyPEM(identity.KeyPEM)
	require.NoError(t, err)
	user, err := msp.NewUser("testUser", "Org1MSP", identity.CertPEM, key)
	require.NoError(t, err)

	return suite, user
}

func TestTransactionIDDerivation(t *testing.T) {
	suite, user := testContext(t)

	txID, err := NewTransactionID(suite, user)
	require.NoError(t, err)
	assert.Len(t, txID.Nonce, 24)

	creator, err := user.SerializedIdentity()
	require.NoError(t, err)
	assert.Equal(t, creator, txID.Creator)

	expected := hex.EncodeToString(suite.Hash(append(append([]byte(nil), txID.Nonce...), creator...)))
	assert.Equal(t, expected, txID.ID)

	// A second identifier draws a fresh nonce.
	other, err := NewTransactionID(suite, user)
	require.NoError(t, err)
	assert.NotEqual(t, txID.ID, other.ID)
}

func unmarshalProposal(t *testing.T, proposal *pb.Proposal) (*cb.ChannelHeader, *cb.SignatureHeader, *pb.ChaincodeProposalPayload) {
	header := &cb.Header{}
	require.NoError(t, proto.Unmarshal(proposal.Header, header))

	channelHeader := &cb.ChannelHeader{}
	require.NoError(t, proto.Unmarshal(header.ChannelHeader, channelHeader))
	signatureHeader := &cb.SignatureHeader{}
	require.NoError(t, proto.Unmarshal(header.SignatureHeader, signatureHeader))

	payload := &pb.ChaincodeProposalPayload{}
	require.NoError(t, proto.Unmarshal(proposal.Payload, payload))

	return channelHeader, signatureHeader, payload
}

func invocationArgs(t *testing.T, payload *pb.ChaincodeProposalPayload) (*pb.ChaincodeSpec, [][]byte) {
	cis := &pb.ChaincodeInvocationSpec{}
	require.NoError(t, proto.Unmarshal(payload.Input, cis))
	return cis.ChaincodeSpec, cis.ChaincodeSpec.Input.Args
}

func TestInvokeProposalHeaders(t *testing.T) {
	suite, user := testContext(t)

	proposal, err := NewProposal(suite, user, Request{
		Kind:        KindInvoke,
		ChannelID:   "mychannel",
		ChaincodeID: "example_cc",
		Fcn:         "move",
		Args:        [][]byte{[]byte("a"), []byte("b"), []byte("10")},
		TLSCertHash: []byte("tls-digest"),
	})
	require.NoError(t, err)

	channelHeader, signatureHeader, payload := unmarshalProposal(t, proposal.Proposal)

	assert.Equal(t, int32(cb.HeaderType_ENDORSER_TRANSACTION), channelHeader.Type)
	assert.Equal(t, "mychannel", channelHeader.ChannelId)
	assert.Equal(t, proposal.TxID.ID, channelHeader.TxId)
	assert.Equal(t, []byte("tls-digest"), channelHeader.TlsCertHash)
	assert.NotNil(t, channelHeader.Timestamp)

	ext := &pb.ChaincodeHeaderExtension{}
	require.NoError(t, proto.Unmarshal(channelHeader.Extension, ext))
	assert.Equal(t, "example_cc", ext.ChaincodeId.Name)

	// The signature header must carry the exact nonce and creator the
	// transaction identifier was derived from.
	assert.Equal(t, proposal.TxID.Nonce, signatureHeader.Nonce)
	assert.Equal(t, proposal.TxID.Creator, signatureHeader.Creator)

	spec, args := invocationArgs(t, payload)
	assert.Equal(t, "example_cc", spec.ChaincodeId.Name)
	require.Len(t, args, 4)
	assert.Equal(t, []byte("move"), args[0])
	assert.Equal(t, []byte("10"), args[3])
}

func TestProposalCarriesTransientMap(t *testing.T) {
	suite, user := testContext(t)

	proposal, err := NewProposal(suite, user, Request{
		Kind:         KindInvoke,
		ChannelID:    "mychannel",
		ChaincodeID:  "example_cc",
		TransientMap: map[string][]byte{"secret": []byte("s3cr3t")},
	})
	require.NoError(t, err)

	_, _, payload := unmarshalProposal(t, proposal.Proposal)
	assert.Equal(t, []byte("s3cr3t"), payload.TransientMap["secret"])
}

func TestUnknownChaincodeType(t *testing.T) {
	suite, user := testContext(t)

	_, err := NewProposal(suite, user, Request{
		Kind:        KindInvoke,
		ChannelID:   "mychannel",
		ChaincodeID: "example_cc",
		Lang:        "haskell",
	})
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))
}

func TestRequestValidation(t *testing.T) {
	suite, user := testContext(t)

	_, err := NewProposal(suite, user, Request{Kind: KindInvoke})
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))

	_, err = NewProposal(suite, user, Request{Kind: KindInstall, ChaincodeID: "cc"})
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))

	_, err = NewProposal(suite, user, Request{Kind: KindInstantiate, ChaincodeID: "cc", ChannelID: "ch"})
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))
}

func TestInstallProposalArgs(t *testing.T) {
	suite, user := testContext(t)

	proposal, err := NewProposal(suite, user, Request{
		Kind:             KindInstall,
		ChaincodeID:      "example_cc",
		ChaincodePath:    "github.com/example_cc",
		ChaincodeVersion: "v1",
		Package:          []byte("targz"),
	})
	require.NoError(t, err)

	channelHeader, _, payload := unmarshalProposal(t, proposal.Proposal)
	assert.Empty(t, channelHeader.ChannelId)

	spec, args := invocationArgs(t, payload)
	assert.Equal(t, LSCC, spec.ChaincodeId.Name)
	require.Len(t, args, 2)
	assert.Equal(t, []byte("install"), args[0])

	cds := &pb.ChaincodeDeploymentSpec{}
	require.NoError(t, proto.Unmarshal(args[1], cds))
	assert.Equal(t, "example_cc", cds.ChaincodeSpec.ChaincodeId.Name)
	assert.Equal(t, "github.com/example_cc", cds.ChaincodeSpec.ChaincodeId.Path)
	assert.Equal(t, []byte("targz"), cds.CodePackage)
}

func TestInstantiateArgLayout(t *testing.T) {
	suite, user := testContext(t)

	base := Request{
		Kind:             KindInstantiate,
		ChannelID:        "mychannel",
		ChaincodeID:      "example_cc",
		ChaincodeVersion: "v1",
	}

	// No optional values: just action, channel and deployment spec.
	proposal, err := NewProposal(suite, user, base)
	require.NoError(t, err)
	_, _, payload := unmarshalProposal(t, proposal.Proposal)
	_, args := invocationArgs(t, payload)
	require.Len(t, args, 3)
	assert.Equal(t, []byte("deploy"), args[0])
	assert.Equal(t, []byte("mychannel"), args[1])

	// An interior gap gets a placeholder; trailing absents are dropped.
	withESCC := base
	withESCC.ESCC = "escc"
	proposal, err = NewProposal(suite, user, withESCC)
	require.NoError(t, err)
	_, _, payload = unmarshalProposal(t, proposal.Proposal)
	_, args = invocationArgs(t, payload)
	require.Len(t, args, 5)
	assert.Empty(t, args[3])
	assert.Equal(t, []byte("escc"), args[4])

	// All optionals present keeps every position.
	full := base
	full.EndorsementPolicy = []byte("policy")
	full.ESCC = "escc"
	full.VSCC = "vscc"
	full.CollectionConfig = []byte("collections")
	proposal, err = NewProposal(suite, user, full)
	require.NoError(t, err)
	_, _, payload = unmarshalProposal(t, proposal.Proposal)
	_, args = invocationArgs(t, payload)
	require.Len(t, args, 7)
	assert.Equal(t, []byte("policy"), args[3])
	assert.Equal(t, []byte("collections"), args[6])
}

func TestUpgradeAction(t *testing.T) {
	suite, user := testContext(t)

	proposal, err := NewProposal(suite, user, Request{
		Kind:             KindUpgrade,
		ChannelID:        "mychannel",
		ChaincodeID:      "example_cc",
		ChaincodeVersion: "v2",
	})
	require.NoError(t, err)

	_, _, payload := unmarshalProposal(t, proposal.Proposal)
	_, args := invocationArgs(t, payload)
	assert.Equal(t, []byte("upgrade"), args[0])
}

func TestSignProposalVerifies(t *testing.T) {
	suite, user := testContext(t)

	proposal, err := NewProposal(suite, user, Request{
		Kind:        KindQuery,
		ChannelID:   "mychannel",
		ChaincodeID: "example_cc",
	})
	require.NoError(t, err)

	signed, err := SignProposal(suite, user, proposal.Proposal)
	require.NoError(t, err)

	ok, err := suite.Verify(user.EnrollmentCertificate(), "", signed.Signature, signed.ProposalBytes)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransactionPayloadDropsTransientMap(t *testing.T) {
	suite, user := testContext(t)

	proposal, err := NewProposal(suite, user, Request{
		Kind:         KindInvoke,
		ChannelID:    "mychannel",
		ChaincodeID:  "example_cc",
		TransientMap: map[string][]byte{"secret": []byte("s3cr3t")},
	})
	require.NoError(t, err)

	responses := []*pb.ProposalResponse{
		{
			Payload:     []byte("prp-bytes"),
			Endorsement: &pb.Endorsement{Endorser: []byte("peer0"), Signature: []byte("sig0")},
		},
		{
			Payload:     []byte("prp-bytes"),
			Endorsement: &pb.Endorsement{Endorser: []byte("peer1"), Signature: []byte("sig1")},
		},
	}

	payloadBytes, err := CreateTransactionPayload(proposal, responses)
	require.NoError(t, err)

	payload := &cb.Payload{}
	require.NoError(t, proto.Unmarshal(payloadBytes, payload))

	// The committed header is byte-identical to the endorsed one.
	originalHeader := &cb.Header{}
	require.NoError(t, proto.Unmarshal(proposal.Proposal.Header, originalHeader))
	assert.Equal(t, originalHeader.SignatureHeader, payload.Header.SignatureHeader)
	assert.Equal(t, originalHeader.ChannelHeader, payload.Header.ChannelHeader)

	tx := &pb.Transaction{}
	require.NoError(t, proto.Unmarshal(payload.Data, tx))
	require.Len(t, tx.Actions, 1)

	action := &pb.ChaincodeActionPayload{}
	require.NoError(t, proto.Unmarshal(tx.Actions[0].Payload, action))
	require.Len(t, action.Action.Endorsements, 2)
	assert.Equal(t, []byte("prp-bytes"), action.Action.ProposalResponsePayload)

	ccPayload := &pb.ChaincodeProposalPayload{}
	require.NoError(t, proto.Unmarshal(action.ChaincodeProposalPayload, ccPayload))
	assert.Empty(t, ccPayload.TransientMap)
	assert.NotEmpty(t, ccPayload.Input)
}

func TestTransactionPayloadRequiresResponses(t *testing.T) {
	suite, user := testContext(t)

	proposal, err := NewProposal(suite, user, Request{
		Kind:        KindInvoke,
		ChannelID:   "mychannel",
		ChaincodeID: "example_cc",
	})
	require.NoError(t, err)

	_, err = CreateTransactionPayload(proposal, nil)
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))
}

func TestSignedEnvelope(t *testing.T) {
	suite, user := testContext(t)

	envelope, err := CreateSignedEnvelope(suite, user, []byte("payload"))
	require.NoError(t, err)

	ok, err := suite.Verify(user.EnrollmentCertificate(), "", envelope.Signature, envelope.Payload)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignedByMSPMemberPolicy(t *testing.T) {
	policyBytes, err := SignedByMSPMember("Org1MSP")
	require.NoError(t, err)

	envelope := &cb.SignaturePolicyEnvelope{}
	require.NoError(t, proto.Unmarshal(policyBytes, envelope))
	require.Len(t, envelope.Identities, 1)

	role := &mb.MSPRole{}
	require.NoError(t, proto.Unmarshal(envelope.Identities[0].Principal, role))
	assert.Equal(t, "Org1MSP", role.MspIdentifier)
	assert.Equal(t, mb.MSPRole_MEMBER, role.Role)

	nOutOf := envelope.Rule.GetNOutOf()
	require.NotNil(t, nOutOf)
	assert.Equal(t, int32(1), nOutOf.N)
	require.Len(t, nOutOf.Rules, 1)
	assert.Equal(t, int32(0), nOutOf.Rules[0].GetSignedBy())

	_, err = SignedByMSPMember("")
	require.Error(t, err)
}
