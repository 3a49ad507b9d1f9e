/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"fmt"
	"net"
	"sync"

	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"google.golang.org/grpc"
)

// MockBroadcastServer implements the atomic broadcast service. Broadcast
// acknowledgements and delivered blocks are configurable per test.
type MockBroadcastServer struct {
	// BroadcastStatus is returned for every broadcast. Defaults to SUCCESS.
	BroadcastStatus cb.Status
	// FailFirst makes the given number of broadcasts fail with
	// SERVICE_UNAVAILABLE before acknowledgements succeed.
	FailFirst int
	// DeliverBlocks are streamed to every deliver request, followed by a
	// SUCCESS status.
	DeliverBlocks []*cb.Block
	// DeliverError ends deliver streams immediately.
	DeliverError error

	mtx       sync.Mutex
	envelopes []*cb.Envelope
	delivers  int
}

// Broadcast receives envelopes and acknowledges each one.
func (m *MockBroadcastServer) Broadcast(server ab.AtomicBroadcast_BroadcastServer) error {
	for {
		envelope, err := server.Recv()
		if err != nil {
			return nil
		}

		m.mtx.Lock()
		m.envelopes = append(m.envelopes, envelope)
		status := m.BroadcastStatus
		if status == 0 {
			status = cb.Status_SUCCESS
		}
		if m.FailFirst > 0 {
			m.FailFirst--
			status = cb.Status_SERVICE_UNAVAILABLE
		}
		m.mtx.Unlock()

		if err := server.Send(&ab.BroadcastResponse{Status: status}); err != nil {
			return err
		}
	}
}

// BroadcastsReceived returns the number of envelopes received so far.
func (m *MockBroadcastServer) BroadcastsReceived() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.envelopes)
}

// Envelopes returns a copy of the received envelopes.
func (m *MockBroadcastServer) Envelopes() []*cb.Envelope {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]*cb.Envelope(nil), m.envelopes...)
}

// DeliversReceived returns the number of deliver requests received so far.
func (m *MockBroadcastServer) DeliversReceived() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.delivers
}

// Deliver streams the configured blocks after consuming the seek envelope.
func (m *MockBroadcastServer) Deliver(server ab.AtomicBroadcast_DeliverServer) error {
	if m.DeliverError != nil {
		return m.DeliverError
	}
	if _, err := server.Recv(); err != nil {
		return nil
	}
	m.mtx.Lock()
	m.delivers++
	m.mtx.Unlock()
	for _, block := range m.DeliverBlocks {
		if err := server.Send(&ab.DeliverResponse{
			Type: &ab.DeliverResponse_Block{Block: block},
		}); err != nil {
			return err
		}
	}
	return server.Send(&ab.DeliverResponse{
		Type: &ab.DeliverResponse_Status{Status: cb.Status_SUCCESS},
	})
}

// StartBroadcastServer serves the mock on an ephemeral local port.
func StartBroadcastServer(m *MockBroadcastServer) (addr string, stop func(), err error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen failed: %s", err)
	}
	server := grpc.NewServer()
	ab.RegisterAtomicBroadcastServer(server, m)
	go server.Serve(lis)
	return lis.Addr().String(), server.Stop, nil
}
