/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package status defines metadata for errors returned by fabric-client-go.
// Status codes are divided by group, where each group represents a particular
// component and the codes correspond to those returned by the component.
// Callers use the code, not the message, to decide how to handle a failure.
package status

import (
	"fmt"

	"github.com/pkg/errors"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/hyperledger/fabric-client-go/pkg/errors/multi"
	grpcstatus "google.golang.org/grpc/status"
)

// Status provides additional information about an unsuccessful operation.
// Essentially, this object contains metadata about an error returned by
// the client.
type Status struct {
	// Group status group
	Group Group
	// Code status code
	Code int32
	// Message status message
	Message string
	// Endpoint the remote endpoint the operation was addressed to, if any
	Endpoint string
	// Details any additional status details
	Details []interface{}
}

// Group of status to help users infer status codes from various components
type Group int32

const (
	// UnknownStatus unknown status group
	UnknownStatus Group = iota

	// GRPCTransportStatus is the status associated with requests made over
	// gRPC connections
	GRPCTransportStatus

	// EndorserServerStatus status returned by the endorser server
	EndorserServerStatus
	// EventServerStatus status returned by the event service
	EventServerStatus
	// OrdererServerStatus status returned by the ordering service
	OrdererServerStatus

	// EndorserClientStatus status returned from the endorser client
	EndorserClientStatus
	// OrdererClientStatus status returned from the orderer client
	OrdererClientStatus
	// EventClientStatus status returned from the event hub client
	EventClientStatus
	// ClientStatus is a generic client status
	ClientStatus
)

// GroupName maps the groups in this package to human-readable strings
var GroupName = map[int32]string{
	0: "Unknown",
	1: "gRPC Transport Status",
	2: "Endorser Server Status",
	3: "Event Server Status",
	4: "Orderer Server Status",
	5: "Endorser Client Status",
	6: "Orderer Client Status",
	7: "Event Client Status",
	8: "Client Status",
}

func (g Group) String() string {
	if s, ok := GroupName[int32(g)]; ok {
		return s
	}
	return UnknownStatus.String()
}

// FromError returns a Status representing err if available,
// otherwise it returns nil, false.
func FromError(err error) (s *Status, ok bool) {
	if err == nil {
		return &Status{Code: int32(OK)}, true
	}
	if s, ok := err.(*Status); ok {
		return s, true
	}
	unwrappedErr := errors.Cause(err)
	if s, ok := unwrappedErr.(*Status); ok {
		return s, true
	}
	if m, ok := unwrappedErr.(multi.Errors); ok {
		// Return all of the errors in the details
		var errs []interface{}
		for _, err := range m {
			errs = append(errs, err)
		}
		return New(ClientStatus, MultipleErrors.ToInt32(), m.Error(), errs), true
	}

	return nil, false
}

func (s *Status) Error() string {
	if s.Endpoint != "" {
		return fmt.Sprintf("%s Code: (%d) %s. Endpoint: %s. Description: %s", s.Group.String(), s.Code, s.codeString(), s.Endpoint, s.Message)
	}
	return fmt.Sprintf("%s Code: (%d) %s. Description: %s", s.Group.String(), s.Code, s.codeString(), s.Message)
}

func (s *Status) codeString() string {
	switch s.Group {
	case GRPCTransportStatus:
		return ToGRPCStatusCode(s.Code).String()
	case EndorserServerStatus, OrdererServerStatus:
		return ToFabricCommonStatusCode(s.Code).String()
	case EventServerStatus:
		return ToTransactionValidationCode(s.Code).String()
	case EndorserClientStatus, OrdererClientStatus, EventClientStatus, ClientStatus:
		return ToSDKStatusCode(s.Code).String()
	default:
		return Unknown.String()
	}
}

// New returns a Status with the given parameters
func New(group Group, code int32, msg string, details []interface{}) *Status {
	return &Status{Group: group, Code: code, Message: msg, Details: details}
}

// WithEndpoint returns a copy of the Status tagged with the remote endpoint
func (s *Status) WithEndpoint(endpoint string) *Status {
	ns := *s
	ns.Endpoint = endpoint
	return &ns
}

// NewFromProposalResponse creates a status created from the given ProposalResponse
func NewFromProposalResponse(res *pb.ProposalResponse, endorser string) *Status {
	if res == nil {
		return nil
	}
	details := []interface{}{endorser, res.Response.Payload}

	return &Status{Group: EndorserServerStatus, Code: res.Response.Status,
		Message: res.Response.Message, Endpoint: endorser, Details: details}
}

// NewFromGRPCStatus new Status from gRPC status response
func NewFromGRPCStatus(s *grpcstatus.Status) *Status {
	if s == nil {
		return nil
	}
	details := make([]interface{}, len(s.Proto().Details))
	for i, detail := range s.Proto().Details {
		details[i] = detail
	}

	return &Status{Group: GRPCTransportStatus, Code: s.Proto().Code,
		Message: s.Message(), Details: details}
}

// IsCode checks if err resolves to a Status in the given group carrying
// the given code
func IsCode(err error, group Group, code Code) bool {
	s, ok := FromError(err)
	if !ok {
		return false
	}
	return s.Group == group && s.Code == code.ToInt32()
}

// IsTimeout lets callers distinguish "took too long" from "refused"
func IsTimeout(err error) bool {
	s, ok := FromError(err)
	if !ok {
		return false
	}
	return s.Code == Timeout.ToInt32()
}
