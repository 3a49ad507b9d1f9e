/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mocks provides in-process gRPC servers and identity fixtures for
// the package tests.
package mocks

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"google.golang.org/grpc"
)

// MockEndorserServer answers endorsement proposals. The response payload and
// proposal hash are configurable so tests can drive the consistency
// validation both ways.
type MockEndorserServer struct {
	ProposalError   error
	Status          int32
	ResponsePayload []byte
	ProposalHash    []byte
	// Delay postpones every response, for timeout tests.
	Delay time.Duration

	proposalsReceived int32
}

// ProposalsReceived returns the number of proposals received so far.
func (m *MockEndorserServer) ProposalsReceived() int {
	return int(atomic.LoadInt32(&m.proposalsReceived))
}

// ProcessProposal returns a canned endorsement, or the configured error.
func (m *MockEndorserServer) ProcessProposal(ctx context.Context, proposal *pb.SignedProposal) (*pb.ProposalResponse, error) {
	atomic.AddInt32(&m.proposalsReceived, 1)
	if m.ProposalError != nil {
		return nil, m.ProposalError
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	status := m.Status
	if status == 0 {
		status = 200
	}
	return &pb.ProposalResponse{
		Response: &pb.Response{
			Status:  status,
			Payload: m.ResponsePayload,
		},
		Endorsement: &pb.Endorsement{
			Endorser:  []byte("endorser"),
			Signature: []byte("signature"),
		},
		Payload: m.proposalResponsePayload(),
	}, nil
}

func (m *MockEndorserServer) proposalResponsePayload() []byte {
	prpBytes, err := proto.Marshal(&pb.ProposalResponsePayload{
		ProposalHash: m.ProposalHash,
		Extension:    []byte{},
	})
	if err != nil {
		return nil
	}
	return prpBytes
}

// StartEndorserServer serves the mock on an ephemeral local port and returns
// the address to dial. The server stops when stop is called.
func StartEndorserServer(m *MockEndorserServer) (addr string, stop func(), err error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen failed: %s", err)
	}
	server := grpc.NewServer()
	pb.RegisterEndorserServer(server, m)
	go server.Serve(lis)
	return lis.Addr().String(), server.Stop, nil
}
