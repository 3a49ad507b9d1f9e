/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package txn

import (
	"strings"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

// System chaincode names.
const (
	LSCC = "lscc"
	QSCC = "qscc"
	CSCC = "cscc"
)

// Lifecycle actions understood by LSCC.
const (
	lsccInstall = "install"
	lsccDeploy  = "deploy"
	lsccUpgrade = "upgrade"
)

// Kind selects the proposal variant.
type Kind int

// Proposal variants.
const (
	KindInstall Kind = iota
	KindInstantiate
	KindUpgrade
	KindInvoke
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindInstall:
		return "install"
	case KindInstantiate:
		return "instantiate"
	case KindUpgrade:
		return "upgrade"
	case KindInvoke:
		return "invoke"
	case KindQuery:
		return "query"
	}
	return "unknown"
}

// Request holds the inputs of one proposal. Lifecycle variants route through
// LSCC; invoke and query target the named chaincode directly.
type Request struct {
	Kind             Kind
	ChannelID        string
	ChaincodeID      string
	ChaincodePath    string
	ChaincodeVersion string
	Lang             string
	Fcn              string
	Args             [][]byte
	TransientMap     map[string][]byte

	// Install only: the TAR.GZ source archive.
	Package []byte

	// Instantiate/upgrade only. Trailing empty values are omitted from the
	// LSCC argument list; placeholders are inserted for interior gaps.
	EndorsementPolicy []byte
	ESCC              string
	VSCC              string
	CollectionConfig  []byte

	TLSCertHash []byte
}

// Proposal is an assembled, not yet signed, proposal.
type Proposal struct {
	TxID     TransactionID
	Proposal *pb.Proposal
}

// chaincodeSpecType maps a language name onto the chaincode spec type.
// Unknown languages are an argument error.
func chaincodeSpecType(lang string) (pb.ChaincodeSpec_Type, error) {
	switch strings.ToLower(lang) {
	case "", "golang", "go":
		return pb.ChaincodeSpec_GOLANG, nil
	case "java":
		return pb.ChaincodeSpec_JAVA, nil
	case "node":
		return pb.ChaincodeSpec_NODE, nil
	}
	return pb.ChaincodeSpec_UNDEFINED, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
		"unknown chaincode type: "+lang, nil)
}

// NewProposal assembles the proposal for the request, deriving a fresh
// transaction identifier bound to the user's serialized identity.
func NewProposal(suite *cryptosuite.CryptoSuite, user *msp.User, req Request) (*Proposal, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	txID, err := NewTransactionID(suite, user)
	if err != nil {
		return nil, err
	}

	cis, target, err := invocationSpec(req)
	if err != nil {
		return nil, err
	}
	cisBytes, err := proto.Marshal(cis)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of chaincode invocation spec failed: "+err.Error(), nil)
	}

	channelHeader, err := CreateChannelHeader(ChannelHeaderOpts{
		Type:        cb.HeaderType_ENDORSER_TRANSACTION,
		ChannelID:   req.ChannelID,
		TxID:        txID,
		ChaincodeID: target,
		TLSCertHash: req.TLSCertHash,
	})
	if err != nil {
		return nil, err
	}
	header, err := CreateHeader(txID, channelHeader)
	if err != nil {
		return nil, err
	}
	headerBytes, err := proto.Marshal(header)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of proposal header failed: "+err.Error(), nil)
	}

	payloadBytes, err := proto.Marshal(&pb.ChaincodeProposalPayload{
		Input:        cisBytes,
		TransientMap: req.TransientMap,
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of chaincode proposal payload failed: "+err.Error(), nil)
	}

	return &Proposal{
		TxID:     txID,
		Proposal: &pb.Proposal{Header: headerBytes, Payload: payloadBytes},
	}, nil
}

func validateRequest(req Request) error {
	if req.ChaincodeID == "" {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"chaincodeID is required", nil)
	}
	switch req.Kind {
	case KindInstall:
		if len(req.Package) == 0 {
			return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
				"chaincode package is required for install", nil)
		}
	case KindInstantiate, KindUpgrade:
		if req.ChannelID == "" {
			return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
				"channelID is required for "+req.Kind.String(), nil)
		}
		if req.ChaincodeVersion == "" {
			return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
				"chaincode version is required for "+req.Kind.String(), nil)
		}
	case KindInvoke, KindQuery:
	default:
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"unknown proposal kind", nil)
	}
	return nil
}

// invocationSpec dispatches on the request kind and returns the invocation
// spec plus the chaincode name referenced by the channel header.
func invocationSpec(req Request) (*pb.ChaincodeInvocationSpec, string, error) {
	switch req.Kind {
	case KindInstall:
		return installSpec(req)
	case KindInstantiate:
		return lifecycleSpec(req, lsccDeploy)
	case KindUpgrade:
		return lifecycleSpec(req, lsccUpgrade)
	default:
		return directSpec(req)
	}
}

func directSpec(req Request) (*pb.ChaincodeInvocationSpec, string, error) {
	specType, err := chaincodeSpecType(req.Lang)
	if err != nil {
		return nil, "", err
	}
	args := req.Args
	if req.Fcn != "" {
		args = append([][]byte{[]byte(req.Fcn)}, args...)
	}
	cis := &pb.ChaincodeInvocationSpec{ChaincodeSpec: &pb.ChaincodeSpec{
		Type:        specType,
		ChaincodeId: &pb.ChaincodeID{Name: req.ChaincodeID},
		Input:       &pb.ChaincodeInput{Args: args},
	}}
	return cis, req.ChaincodeID, nil
}

func installSpec(req Request) (*pb.ChaincodeInvocationSpec, string, error) {
	cdsBytes, err := deploymentSpec(req, req.Package)
	if err != nil {
		return nil, "", err
	}
	cis := &pb.ChaincodeInvocationSpec{ChaincodeSpec: &pb.ChaincodeSpec{
		Type:        pb.ChaincodeSpec_GOLANG,
		ChaincodeId: &pb.ChaincodeID{Name: LSCC},
		Input:       &pb.ChaincodeInput{Args: [][]byte{[]byte(lsccInstall), cdsBytes}},
	}}
	return cis, LSCC, nil
}

func lifecycleSpec(req Request, action string) (*pb.ChaincodeInvocationSpec, string, error) {
	cdsBytes, err := deploymentSpec(req, nil)
	if err != nil {
		return nil, "", err
	}

	args := [][]byte{[]byte(action), []byte(req.ChannelID), cdsBytes}
	args = append(args, positionalTail(
		req.EndorsementPolicy,
		[]byte(req.ESCC),
		[]byte(req.VSCC),
		req.CollectionConfig,
	)...)

	cis := &pb.ChaincodeInvocationSpec{ChaincodeSpec: &pb.ChaincodeSpec{
		Type:        pb.ChaincodeSpec_GOLANG,
		ChaincodeId: &pb.ChaincodeID{Name: LSCC},
		Input:       &pb.ChaincodeInput{Args: args},
	}}
	return cis, LSCC, nil
}

// positionalTail keeps the LSCC argument positions stable: trailing absent
// values are dropped, interior absent values become empty placeholders.
func positionalTail(values ...[]byte) [][]byte {
	last := -1
	for i, v := range values {
		if len(v) > 0 {
			last = i
		}
	}
	tail := make([][]byte, 0, last+1)
	for i := 0; i <= last; i++ {
		v := values[i]
		if len(v) == 0 {
			v = []byte{}
		}
		tail = append(tail, v)
	}
	return tail
}

func deploymentSpec(req Request, codePackage []byte) ([]byte, error) {
	specType, err := chaincodeSpecType(req.Lang)
	if err != nil {
		return nil, err
	}
	cds := &pb.ChaincodeDeploymentSpec{
		ChaincodeSpec: &pb.ChaincodeSpec{
			Type: specType,
			ChaincodeId: &pb.ChaincodeID{
				Name:    req.ChaincodeID,
				Path:    req.ChaincodePath,
				Version: req.ChaincodeVersion,
			},
			Input: &pb.ChaincodeInput{Args: req.Args},
		},
		CodePackage: codePackage,
	}
	cdsBytes, err := proto.Marshal(cds)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of chaincode deployment spec failed: "+err.Error(), nil)
	}
	return cdsBytes, nil
}
