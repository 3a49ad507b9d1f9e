/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package events implements the event hub: a stateful consumer of a peer's
// block delivery stream with registration handshake, reconnection and
// at-least-once block replay. Commit listeners keyed by transaction ID are
// fired exactly once and removed on first match.
package events

import (
	"context"
	"sync"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/op/go-logging"
	"google.golang.org/grpc"

	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/core/endpoint"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

var logger = logging.MustGetLogger("fabric_client_go")

// Status is the connection state of the hub.
type Status int32

// Hub states.
const (
	Disconnected Status = iota
	Connecting
	Connected
	Shutdown
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Shutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}

// TxCallback receives the validation code of a committed transaction.
type TxCallback func(txID string, code pb.TxValidationCode)

// GapHandler is told when the stream skipped ahead: a block arrived whose
// number is larger than the last seen plus one.
type GapHandler func(lastSeen, received uint64)

// DeliverConnection is one established delivery stream.
type DeliverConnection interface {
	Send(*cb.Envelope) error
	Recv() (*pb.DeliverResponse, error)
}

// ConnectionProvider opens a delivery stream. The returned release function
// tears down the underlying transport.
type ConnectionProvider func(ctx context.Context) (DeliverConnection, func(), error)

// Opts carries the timing knobs of the hub.
type Opts struct {
	// RegistrationWaitTime bounds the wait for the first response after the
	// seek envelope was sent.
	RegistrationWaitTime time.Duration
	// RetryWaitTime is the backoff between reconnection attempts.
	RetryWaitTime time.Duration
	// ReconnectionWarningRate emits a warning every N consecutive failures.
	ReconnectionWarningRate int
}

// Hub consumes the block stream of one event-source peer.
type Hub struct {
	channelID string
	suite     *cryptosuite.CryptoSuite
	user      *msp.User
	provider  ConnectionProvider
	opts      Opts

	mtx            sync.RWMutex
	status         Status
	reconnectCount int
	lastBlockNum   uint64
	seenBlock      bool
	blockListeners map[uint64]*blockListener
	txListeners    map[string]TxCallback
	gapHandler     GapHandler
	nextListenerID uint64
	cancel         context.CancelFunc
	monitorDone    chan struct{}
}

// Option customizes a hub.
type Option func(*Hub)

// WithConnectionProvider replaces the gRPC stream factory.
func WithConnectionProvider(provider ConnectionProvider) Option {
	return func(h *Hub) { h.provider = provider }
}

// WithGapHandler installs the replay-gap notification.
func WithGapHandler(handler GapHandler) Option {
	return func(h *Hub) { h.gapHandler = handler }
}

// New builds a hub consuming the delivery stream of the peer behind ep.
func New(channelID string, ep *endpoint.Endpoint, suite *cryptosuite.CryptoSuite, user *msp.User, opts Opts, options ...Option) (*Hub, error) {
	if channelID == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channelID is required", nil)
	}
	if ep == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"endpoint is required", nil)
	}
	h := &Hub{
		channelID:      channelID,
		suite:          suite,
		user:           user,
		provider:       grpcProvider(ep),
		opts:           opts,
		status:         Disconnected,
		blockListeners: make(map[uint64]*blockListener),
		txListeners:    make(map[string]TxCallback),
	}
	for _, opt := range options {
		opt(h)
	}
	return h, nil
}

func grpcProvider(ep *endpoint.Endpoint) ConnectionProvider {
	return func(ctx context.Context) (DeliverConnection, func(), error) {
		conn, err := grpc.Dial(ep.Address(), ep.DialOptions()...)
		if err != nil {
			return nil, nil, status.New(status.EventClientStatus, status.ConnectionFailed.ToInt32(),
				"dial failed: "+err.Error(), nil).WithEndpoint(ep.URL())
		}
		stream, err := pb.NewDeliverClient(conn).Deliver(ctx)
		if err != nil {
			conn.Close()
			return nil, nil, status.New(status.EventClientStatus, status.ConnectionFailed.ToInt32(),
				"opening deliver stream failed: "+err.Error(), nil).WithEndpoint(ep.URL())
		}
		return stream, func() { conn.Close() }, nil
	}
}

// Status returns the current connection state.
func (h *Hub) Status() Status {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return h.status
}

// IsConnected reports whether the stream is up.
func (h *Hub) IsConnected() bool {
	return h.Status() == Connected
}

// LastBlockNum returns the highest block number seen and whether any block
// has been seen at all.
func (h *Hub) LastBlockNum() (uint64, bool) {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return h.lastBlockNum, h.seenBlock
}

// Connect establishes the stream and starts the monitor that keeps it alive.
// The first connection attempt is synchronous; subsequent drops are retried
// in the background with backoff.
func (h *Hub) Connect() error {
	h.mtx.Lock()
	switch h.status {
	case Shutdown:
		h.mtx.Unlock()
		return status.New(status.EventClientStatus, status.ShuttingDown.ToInt32(),
			"event hub is shut down", nil)
	case Connected, Connecting:
		h.mtx.Unlock()
		return nil
	}
	h.status = Connecting
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.monitorDone = make(chan struct{})
	h.mtx.Unlock()

	conn, release, err := h.connectOnce(ctx)
	if err != nil {
		h.mtx.Lock()
		h.status = Disconnected
		h.cancel = nil
		h.mtx.Unlock()
		cancel()
		close(h.monitorDone)
		return err
	}

	go h.monitor(ctx, conn, release)
	return nil
}

// connectOnce opens a stream, sends the signed seek envelope and waits for
// the first response as the registration acknowledgement.
func (h *Hub) connectOnce(ctx context.Context) (DeliverConnection, func(), error) {
	conn, release, err := h.provider(ctx)
	if err != nil {
		return nil, nil, err
	}

	envelope, err := h.seekEnvelope()
	if err != nil {
		release()
		return nil, nil, err
	}
	if err := conn.Send(envelope); err != nil {
		release()
		return nil, nil, status.New(status.EventClientStatus, status.RegistrationFailed.ToInt32(),
			"sending registration failed: "+err.Error(), nil)
	}

	type recvResult struct {
		response *pb.DeliverResponse
		err      error
	}
	first := make(chan recvResult, 1)
	go func() {
		response, err := conn.Recv()
		first <- recvResult{response, err}
	}()

	select {
	case r := <-first:
		if r.err != nil {
			release()
			return nil, nil, status.New(status.EventClientStatus, status.RegistrationFailed.ToInt32(),
				"registration stream failed: "+r.err.Error(), nil)
		}
		if err := h.handleResponse(r.response); err != nil {
			release()
			return nil, nil, err
		}
	case <-time.After(h.opts.RegistrationWaitTime):
		release()
		return nil, nil, status.New(status.EventClientStatus, status.RegistrationFailed.ToInt32(),
			"registration was not acknowledged in time", nil)
	case <-ctx.Done():
		release()
		return nil, nil, status.New(status.EventClientStatus, status.ShuttingDown.ToInt32(),
			"event hub is closing", nil)
	}

	h.mtx.Lock()
	h.status = Connected
	h.reconnectCount = 0
	h.mtx.Unlock()
	logger.Debugf("Event hub for channel %s connected", h.channelID)
	return conn, release, nil
}

// monitor owns the stream: it receives until the stream fails, then cycles
// through reconnection attempts until the hub is stopped.
func (h *Hub) monitor(ctx context.Context, conn DeliverConnection, release func()) {
	defer close(h.monitorDone)
	for {
		fatal := h.receive(ctx, conn)
		release()
		if fatal || ctx.Err() != nil {
			h.setDisconnected()
			return
		}

		h.setDisconnected()
		var err error
		conn, release, err = h.reconnect(ctx)
		if err != nil {
			return
		}
	}
}

// receive pumps the stream. It returns true when the hub must not reconnect.
func (h *Hub) receive(ctx context.Context, conn DeliverConnection) bool {
	for {
		response, err := conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			logger.Warningf("Event stream for channel %s dropped: %s", h.channelID, err)
			return false
		}
		if err := h.handleResponse(response); err != nil {
			if status.IsCode(err, status.EventClientStatus, status.BlockDecodeFailed) {
				logger.Criticalf("Malformed block on channel %s, shutting event hub down: %s", h.channelID, err)
				return true
			}
			logger.Warningf("Event stream for channel %s failed: %s", h.channelID, err)
			return false
		}
	}
}

func (h *Hub) reconnect(ctx context.Context) (DeliverConnection, func(), error) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(h.opts.RetryWaitTime):
		}

		h.mtx.Lock()
		h.status = Connecting
		h.mtx.Unlock()

		conn, release, err := h.connectOnce(ctx)
		if err == nil {
			return conn, release, nil
		}

		h.mtx.Lock()
		h.status = Disconnected
		h.reconnectCount++
		count := h.reconnectCount
		h.mtx.Unlock()

		if h.opts.ReconnectionWarningRate > 0 && count%h.opts.ReconnectionWarningRate == 0 {
			logger.Warningf("Event hub for channel %s failed %d consecutive reconnection attempts: %s",
				h.channelID, count, err)
		} else {
			logger.Debugf("Event hub reconnection attempt %d for channel %s failed: %s", count, h.channelID, err)
		}
	}
}

func (h *Hub) setDisconnected() {
	h.mtx.Lock()
	if h.status != Shutdown {
		h.status = Disconnected
	}
	h.mtx.Unlock()
}

// Disconnect stops the stream and the reconnection monitor. The hub can be
// connected again afterwards.
func (h *Hub) Disconnect() {
	h.mtx.Lock()
	cancel := h.cancel
	done := h.monitorDone
	h.cancel = nil
	h.mtx.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	h.setDisconnected()
}

// Close shuts the hub down for good: the stream is stopped, remaining block
// listeners are drained and further Connect calls fail.
func (h *Hub) Close() {
	h.Disconnect()

	h.mtx.Lock()
	h.status = Shutdown
	listeners := h.blockListeners
	h.blockListeners = make(map[uint64]*blockListener)
	h.txListeners = make(map[string]TxCallback)
	h.mtx.Unlock()

	for _, l := range listeners {
		l.close()
	}
}
