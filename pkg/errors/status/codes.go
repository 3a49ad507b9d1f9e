/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package status

import (
	"strconv"

	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	grpcCodes "google.golang.org/grpc/codes"
)

// Code represents a status code
type Code uint32

const (
	// OK is returned on success.
	OK Code = 0

	// Unknown represents status codes that are uncategorized or unknown to the client
	Unknown Code = 1

	// ConnectionFailed is returned when a network connection attempt fails
	ConnectionFailed Code = 2

	// EndorsementMismatch is returned when the endorsement consistency set
	// contains more than one group of responses
	EndorsementMismatch Code = 3

	// InvalidArgument is returned on bad caller input. Never retried.
	InvalidArgument Code = 4

	// Timeout operation timed out
	Timeout Code = 5

	// NoPeersFound no peers were configured for the requested role
	NoPeersFound Code = 6

	// MultipleErrors multiple errors occurred
	MultipleErrors Code = 7

	// SignatureVerificationFailed is when signature fails verification
	SignatureVerificationFailed Code = 8

	// MissingEndorsement is if an endorsement is missing
	MissingEndorsement Code = 9

	// CryptoFailed covers PEM/DER parse failures, unknown algorithms and
	// key/certificate mismatches
	CryptoFailed Code = 10

	// ProposalFailed is a peer-side endorsement refusal or bad status
	ProposalFailed Code = 11

	// BroadcastFailed is an ordering-service rejection or envelope build failure
	BroadcastFailed Code = 12

	// ShuttingDown is returned when the owning component was closed while the
	// operation was in flight
	ShuttingDown Code = 13

	// RegistrationFailed is an event stream registration that was not
	// acknowledged in time
	RegistrationFailed Code = 14

	// BlockDecodeFailed is a malformed block received from an event source
	BlockDecodeFailed Code = 15
)

// CodeName maps the codes in this package to human-readable strings
var CodeName = map[int32]string{
	0:  "OK",
	1:  "UNKNOWN",
	2:  "CONNECTION_FAILED",
	3:  "ENDORSEMENT_MISMATCH",
	4:  "INVALID_ARGUMENT",
	5:  "TIMEOUT",
	6:  "NO_PEERS_FOUND",
	7:  "MULTIPLE_ERRORS",
	8:  "SIGNATURE_VERIFICATION_FAILED",
	9:  "MISSING_ENDORSEMENT",
	10: "CRYPTO_FAILED",
	11: "PROPOSAL_FAILED",
	12: "BROADCAST_FAILED",
	13: "SHUTTING_DOWN",
	14: "REGISTRATION_FAILED",
	15: "BLOCK_DECODE_FAILED",
}

// ToInt32 cast to int32
func (c Code) ToInt32() int32 {
	return int32(c)
}

// String representation of the code
func (c Code) String() string {
	if s, ok := CodeName[c.ToInt32()]; ok {
		return s
	}
	return strconv.Itoa(int(c))
}

// ToSDKStatusCode cast to client status code
func ToSDKStatusCode(c int32) Code {
	return Code(c)
}

// ToGRPCStatusCode cast to gRPC status code
func ToGRPCStatusCode(c int32) grpcCodes.Code {
	return grpcCodes.Code(c)
}

// ToFabricCommonStatusCode cast to common.Status
func ToFabricCommonStatusCode(c int32) common.Status {
	return common.Status(c)
}

// ToTransactionValidationCode cast to transaction validation status code
func ToTransactionValidationCode(c int32) pb.TxValidationCode {
	return pb.TxValidationCode(c)
}
