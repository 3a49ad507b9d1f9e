/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/core/endpoint"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/mocks"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

// mockStream is one scripted delivery stream. Tests queue responses on the
// buffered channel and read back the seek envelope the hub sent.
type mockStream struct {
	ctx       context.Context
	envelopes chan *cb.Envelope
	responses chan *pb.DeliverResponse
	fail      chan error
	released  int32
}

func newMockStream(ctx context.Context) *mockStream {
	return &mockStream{
		ctx:       ctx,
		envelopes: make(chan *cb.Envelope, 8),
		responses: make(chan *pb.DeliverResponse, 16),
		fail:      make(chan error, 1),
	}
}

func (s *mockStream) Send(envelope *cb.Envelope) error {
	s.envelopes <- envelope
	return nil
}

func (s *mockStream) Recv() (*pb.DeliverResponse, error) {
	select {
	case r := <-s.responses:
		return r, nil
	case err := <-s.fail:
		return nil, err
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// mockProvider hands out one mockStream per connection attempt.
type mockProvider struct {
	mtx      sync.Mutex
	streams  []*mockStream
	failures int
}

func (p *mockProvider) provide(ctx context.Context) (DeliverConnection, func(), error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.failures > 0 {
		p.failures--
		return nil, nil, status.New(status.EventClientStatus, status.ConnectionFailed.ToInt32(),
			"scripted connection failure", nil)
	}
	s := newMockStream(ctx)
	p.streams = append(p.streams, s)
	return s, func() { atomic.StoreInt32(&s.released, 1) }, nil
}

func (p *mockProvider) connections() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.streams)
}

// waitStream blocks until the i-th connection attempt happened.
func (p *mockProvider) waitStream(t *testing.T, i int) *mockStream {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p.mtx.Lock()
		if len(p.streams) > i {
			s := p.streams[i]
			p.mtx.Unlock()
			return s
		}
		p.mtx.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection attempt %d never happened", i)
	return nil
}

func testHub(t *testing.T, provider *mockProvider, options ...Option) *Hub {
	suite, err := cryptosuite.GetSuite(cryptosuite.DefaultOpts())
	require.NoError(t, err)
	identity, err := mocks.NewTestIdentity("eventUser")
	require.NoError(t, err)
	key, err := cryptosuite.ImportPrivateKeyPEM(identity.KeyPEM)
	require.NoError(t, err)
	user, err := msp.NewUser("eventUser", "Org1MSP", identity.CertPEM, key)
	require.NoError(t, err)

	ep, err := endpoint.New("grpc://localhost:7051")
	require.NoError(t, err)

	opts := Opts{
		RegistrationWaitTime:    time.Second,
		RetryWaitTime:           10 * time.Millisecond,
		ReconnectionWarningRate: 50,
	}
	options = append([]Option{WithConnectionProvider(provider.provide)}, options...)
	hub, err := New("mychannel", ep, suite, user, opts, options...)
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	return hub
}

func makeBlock(t *testing.T, number uint64, txIDs []string, codes []pb.TxValidationCode) *cb.Block {
	var data [][]byte
	for _, txID := range txIDs {
		channelHeader, err := proto.Marshal(&cb.ChannelHeader{
			Type:      int32(cb.HeaderType_ENDORSER_TRANSACTION),
			ChannelId: "mychannel",
			TxId:      txID,
		})
		require.NoError(t, err)
		payload, err := proto.Marshal(&cb.Payload{
			Header: &cb.Header{ChannelHeader: channelHeader},
		})
		require.NoError(t, err)
		envelope, err := proto.Marshal(&cb.Envelope{Payload: payload})
		require.NoError(t, err)
		data = append(data, envelope)
	}

	filter := make([]byte, len(txIDs))
	for i := range filter {
		code := pb.TxValidationCode_VALID
		if i < len(codes) {
			code = codes[i]
		}
		filter[i] = byte(code)
	}
	metadata := make([][]byte, cb.BlockMetadataIndex_TRANSACTIONS_FILTER+1)
	metadata[cb.BlockMetadataIndex_TRANSACTIONS_FILTER] = filter

	return &cb.Block{
		Header:   &cb.BlockHeader{Number: number},
		Data:     &cb.BlockData{Data: data},
		Metadata: &cb.BlockMetadata{Metadata: metadata},
	}
}

func blockResponse(block *cb.Block) *pb.DeliverResponse {
	return &pb.DeliverResponse{Type: &pb.DeliverResponse_Block{Block: block}}
}

func seekStart(t *testing.T, envelope *cb.Envelope) *ab.SeekPosition {
	payload := &cb.Payload{}
	require.NoError(t, proto.Unmarshal(envelope.Payload, payload))
	seekInfo := &ab.SeekInfo{}
	require.NoError(t, proto.Unmarshal(payload.Data, seekInfo))
	assert.Equal(t, ab.SeekInfo_BLOCK_UNTIL_READY, seekInfo.Behavior)
	return seekInfo.Start
}

func TestConnectRegistersAndAcks(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	var received []uint64
	var mtx sync.Mutex
	hub.RegisterBlockEvent(func(block *cb.Block) {
		mtx.Lock()
		received = append(received, block.Header.Number)
		mtx.Unlock()
	})

	// Pre-load the registration acknowledgement so the synchronous Connect
	// can complete the handshake.
	ready := make(chan struct{})
	go func() {
		s := provider.waitStream(t, 0)
		envelope := <-s.envelopes
		// A hub that has seen nothing registers from the newest block.
		assert.NotNil(t, seekStart(t, envelope).GetNewest())
		s.responses <- blockResponse(makeBlock(t, 5, nil, nil))
		close(ready)
	}()

	require.NoError(t, hub.Connect())
	<-ready
	assert.True(t, hub.IsConnected())

	last, seen := hub.LastBlockNum()
	assert.True(t, seen)
	assert.Equal(t, uint64(5), last)

	// Connect is idempotent while connected.
	require.NoError(t, hub.Connect())

	assert.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return len(received) == 1 && received[0] == 5
	}, time.Second, 10*time.Millisecond)
}

func TestConnectRegistrationTimeout(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)
	hub.opts.RegistrationWaitTime = 50 * time.Millisecond

	err := hub.Connect()
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.EventClientStatus, status.RegistrationFailed))
	assert.Equal(t, Disconnected, hub.Status())
}

func TestReconnectResumesAfterLastBlock(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	var received []uint64
	var mtx sync.Mutex
	hub.RegisterBlockEvent(func(block *cb.Block) {
		mtx.Lock()
		received = append(received, block.Header.Number)
		mtx.Unlock()
	})

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 7, nil, nil))
	}()
	require.NoError(t, hub.Connect())

	// Drop the stream; the monitor reconnects in the background.
	first := provider.waitStream(t, 0)
	first.fail <- fmt.Errorf("stream dropped")

	second := provider.waitStream(t, 1)
	envelope := <-second.envelopes

	// After seeing block 7 the replay cursor resumes at 8.
	start := seekStart(t, envelope)
	require.NotNil(t, start.GetSpecified())
	assert.Equal(t, uint64(8), start.GetSpecified().Number)

	second.responses <- blockResponse(makeBlock(t, 8, nil, nil))
	assert.Eventually(t, hub.IsConnected, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return len(received) == 2 && received[1] == 8
	}, time.Second, 10*time.Millisecond)
}

func TestReconnectSurvivesFailedAttempts(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 1, nil, nil))
	}()
	require.NoError(t, hub.Connect())

	// The next two connection attempts fail before one succeeds.
	provider.mtx.Lock()
	provider.failures = 2
	provider.mtx.Unlock()
	provider.waitStream(t, 0).fail <- fmt.Errorf("stream dropped")

	second := provider.waitStream(t, 1)
	<-second.envelopes
	second.responses <- blockResponse(makeBlock(t, 2, nil, nil))
	assert.Eventually(t, hub.IsConnected, 5*time.Second, 10*time.Millisecond)
}

func TestStaleBlocksDropped(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	var received []uint64
	var mtx sync.Mutex
	hub.RegisterBlockEvent(func(block *cb.Block) {
		mtx.Lock()
		received = append(received, block.Header.Number)
		mtx.Unlock()
	})

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 5, nil, nil))
		s.responses <- blockResponse(makeBlock(t, 5, nil, nil))
		s.responses <- blockResponse(makeBlock(t, 4, nil, nil))
		s.responses <- blockResponse(makeBlock(t, 6, nil, nil))
	}()
	require.NoError(t, hub.Connect())

	assert.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return len(received) == 2
	}, time.Second, 10*time.Millisecond)

	mtx.Lock()
	defer mtx.Unlock()
	assert.Equal(t, []uint64{5, 6}, received)
}

func TestGapHandler(t *testing.T) {
	provider := &mockProvider{}
	var gapLastSeen, gapReceived uint64
	gapCalled := make(chan struct{})
	hub := testHub(t, provider, WithGapHandler(func(lastSeen, received uint64) {
		gapLastSeen, gapReceived = lastSeen, received
		close(gapCalled)
	}))

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 5, nil, nil))
		s.responses <- blockResponse(makeBlock(t, 9, nil, nil))
	}()
	require.NoError(t, hub.Connect())

	select {
	case <-gapCalled:
	case <-time.After(time.Second):
		t.Fatal("gap handler was not called")
	}
	assert.Equal(t, uint64(5), gapLastSeen)
	assert.Equal(t, uint64(9), gapReceived)

	// The block after the gap still counts as seen.
	assert.Eventually(t, func() bool {
		last, _ := hub.LastBlockNum()
		return last == 9
	}, time.Second, 10*time.Millisecond)
}

func TestTxListenerFiresExactlyOnce(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	var fired int32
	var gotCode pb.TxValidationCode
	hub.RegisterTxEvent("tx-42", func(txID string, code pb.TxValidationCode) {
		atomic.AddInt32(&fired, 1)
		gotCode = code
	})

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 1,
			[]string{"tx-41", "tx-42"},
			[]pb.TxValidationCode{pb.TxValidationCode_VALID, pb.TxValidationCode_MVCC_READ_CONFLICT}))
		// The same transaction appearing again does not fire twice.
		s.responses <- blockResponse(makeBlock(t, 2, []string{"tx-42"}, nil))
	}()
	require.NoError(t, hub.Connect())

	assert.Eventually(t, func() bool {
		last, _ := hub.LastBlockNum()
		return last == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, pb.TxValidationCode_MVCC_READ_CONFLICT, gotCode)
}

func TestUnregisteredTxListenerNeverFires(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	var fired int32
	hub.RegisterTxEvent("tx-7", func(string, pb.TxValidationCode) {
		atomic.AddInt32(&fired, 1)
	})
	hub.UnregisterTxEvent("tx-7")

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 1, []string{"tx-7"}, nil))
	}()
	require.NoError(t, hub.Connect())

	assert.Eventually(t, func() bool {
		_, seen := hub.LastBlockNum()
		return seen
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestMalformedBlockIsFatal(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 1, nil, nil))
		s.responses <- blockResponse(&cb.Block{
			Header: &cb.BlockHeader{Number: 2},
			Data:   &cb.BlockData{Data: [][]byte{[]byte("garbage")}},
		})
	}()
	require.NoError(t, hub.Connect())

	// The hub disconnects for good: no reconnection attempt follows.
	assert.Eventually(t, func() bool {
		return hub.Status() == Disconnected
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, provider.connections())
}

func TestUnregisterBlockEventStopsDelivery(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	var received int32
	id := hub.RegisterBlockEvent(func(*cb.Block) {
		atomic.AddInt32(&received, 1)
	})

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 1, nil, nil))
	}()
	require.NoError(t, hub.Connect())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1
	}, time.Second, 10*time.Millisecond)

	hub.UnregisterBlockEvent(id)

	provider.waitStream(t, 0).responses <- blockResponse(makeBlock(t, 2, nil, nil))
	assert.Eventually(t, func() bool {
		last, _ := hub.LastBlockNum()
		return last == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&received))
}

func TestCloseShutsDown(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 1, nil, nil))
	}()
	require.NoError(t, hub.Connect())

	hub.Close()
	assert.Equal(t, Shutdown, hub.Status())

	err := hub.Connect()
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.EventClientStatus, status.ShuttingDown))
}

func TestDisconnectAllowsReconnect(t *testing.T) {
	provider := &mockProvider{}
	hub := testHub(t, provider)

	go func() {
		s := provider.waitStream(t, 0)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 3, nil, nil))
	}()
	require.NoError(t, hub.Connect())

	hub.Disconnect()
	assert.Equal(t, Disconnected, hub.Status())

	go func() {
		s := provider.waitStream(t, 1)
		<-s.envelopes
		s.responses <- blockResponse(makeBlock(t, 4, nil, nil))
	}()
	require.NoError(t, hub.Connect())
	assert.True(t, hub.IsConnected())

	last, _ := hub.LastBlockNum()
	assert.Equal(t, uint64(4), last)
}

func TestNewValidation(t *testing.T) {
	ep, err := endpoint.New("grpc://localhost:7051")
	require.NoError(t, err)

	_, err = New("", ep, nil, nil, Opts{})
	require.Error(t, err)
	_, err = New("mychannel", nil, nil, nil, Opts{})
	require.Error(t, err)
}
