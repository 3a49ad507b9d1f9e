/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package txn

import (
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	mb "github.com/hyperledger/fabric-protos-go/msp"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

// SignedByMSPMember builds the default endorsement policy used when an
// instantiate or upgrade request names none: any member of the given MSP.
func SignedByMSPMember(mspID string) ([]byte, error) {
	if mspID == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"mspID is required", nil)
	}

	memberRole, err := proto.Marshal(&mb.MSPRole{
		Role:          mb.MSPRole_MEMBER,
		MspIdentifier: mspID,
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of MSP role failed: "+err.Error(), nil)
	}

	signedBy := &cb.SignaturePolicy{
		Type: &cb.SignaturePolicy_SignedBy{SignedBy: 0},
	}
	oneOfOne := &cb.SignaturePolicy{
		Type: &cb.SignaturePolicy_NOutOf_{NOutOf: &cb.SignaturePolicy_NOutOf{
			N:     1,
			Rules: []*cb.SignaturePolicy{signedBy},
		}},
	}

	policyBytes, err := proto.Marshal(&cb.SignaturePolicyEnvelope{
		Version: 0,
		Rule:    oneOfOne,
		Identities: []*mb.MSPPrincipal{{
			PrincipalClassification: mb.MSPPrincipal_ROLE,
			Principal:               memberRole,
		}},
	})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of signature policy failed: "+err.Error(), nil)
	}
	return policyBytes, nil
}
