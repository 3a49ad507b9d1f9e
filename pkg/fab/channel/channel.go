/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package channel implements the transaction orchestrator: the channel
// lifecycle, endorsement fan-out with consistency validation, envelope
// submission with commit tracking and the ledger query surface.
package channel

import (
	"context"
	"sync"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/op/go-logging"

	clientctx "github.com/hyperledger/fabric-client-go/pkg/context"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/events"
	"github.com/hyperledger/fabric-client-go/pkg/fab/orderer"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
	"github.com/hyperledger/fabric-client-go/pkg/fab/txn"
)

var logger = logging.MustGetLogger("fabric_client_go")

// State is the lifecycle state of a channel.
type State int32

// Channel lifecycle.
const (
	Created State = iota
	Initialized
	Shutdown
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Initialized:
		return "INITIALIZED"
	case Shutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}

// Channel orchestrates the endorse/order/commit pipeline for one ledger.
// Reads may run concurrently; lifecycle transitions and registry writes are
// serialized behind the mutex.
type Channel struct {
	name string
	ctx  *clientctx.Client

	// initMtx serializes Initialize so only one attempt runs the fetch and
	// starts the discovery ticker; latecomers observe its outcome.
	initMtx sync.Mutex

	mtx             sync.RWMutex
	state           State
	peers           map[string]*peer.Peer
	orderers        map[string]*orderer.Orderer
	hubs            map[string]*events.Hub
	lastConfigBlock *cb.Block
	commitListeners map[string]chan commitResult
	membership      []MemberPeer
	discoveryStop   chan struct{}
	discoveryDone   chan struct{}
}

// New builds a channel in the CREATED state.
func New(name string, ctx *clientctx.Client) (*Channel, error) {
	if name == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel name is required", nil)
	}
	if ctx == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"client context is required", nil)
	}
	return &Channel{
		name:     name,
		ctx:      ctx,
		state:    Created,
		peers:    make(map[string]*peer.Peer),
		orderers: make(map[string]*orderer.Orderer),
		hubs:     make(map[string]*events.Hub),
	}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// State returns the lifecycle state.
func (c *Channel) State() State {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.state
}

func (c *Channel) checkNotShutdown() error {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.state == Shutdown {
		return status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" is shut down", nil)
	}
	return nil
}

// AddPeer registers a peer with the channel. The channel holds a reference
// only; the peer may be shared with other channels.
func (c *Channel) AddPeer(p *peer.Peer) error {
	if p == nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"peer is required", nil)
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.state == Shutdown {
		return status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" is shut down", nil)
	}
	c.peers[p.URL()] = p
	return nil
}

// RemovePeer drops the peer from the channel registry.
func (c *Channel) RemovePeer(url string) {
	c.mtx.Lock()
	delete(c.peers, url)
	c.mtx.Unlock()
}

// Peers returns the registered peers, optionally filtered by role.
func (c *Channel) Peers(role peer.Role) []*peer.Peer {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	var out []*peer.Peer
	for _, p := range c.peers {
		if role == 0 || p.HasRole(role) {
			out = append(out, p)
		}
	}
	return out
}

// AddOrderer registers an orderer with the channel.
func (c *Channel) AddOrderer(o *orderer.Orderer) error {
	if o == nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"orderer is required", nil)
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.state == Shutdown {
		return status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" is shut down", nil)
	}
	c.orderers[o.URL()] = o
	return nil
}

// RemoveOrderer drops the orderer from the channel registry.
func (c *Channel) RemoveOrderer(url string) {
	c.mtx.Lock()
	delete(c.orderers, url)
	c.mtx.Unlock()
}

// Orderers returns the registered orderers.
func (c *Channel) Orderers() []*orderer.Orderer {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	out := make([]*orderer.Orderer, 0, len(c.orderers))
	for _, o := range c.orderers {
		out = append(out, o)
	}
	return out
}

// AddEventHub registers an event hub with the channel.
func (c *Channel) AddEventHub(url string, hub *events.Hub) error {
	if hub == nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"event hub is required", nil)
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.state == Shutdown {
		return status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" is shut down", nil)
	}
	c.hubs[url] = hub
	return nil
}

// EventHubs returns the registered event hubs.
func (c *Channel) EventHubs() []*events.Hub {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	out := make([]*events.Hub, 0, len(c.hubs))
	for _, h := range c.hubs {
		out = append(out, h)
	}
	return out
}

// Initialize moves the channel from CREATED to INITIALIZED: it requires at
// least one peer and one orderer, fetches the latest config block from an
// orderer, connects the event hubs and starts the discovery ticker.
func (c *Channel) Initialize(ctx context.Context) error {
	c.initMtx.Lock()
	defer c.initMtx.Unlock()

	c.mtx.Lock()
	switch c.state {
	case Shutdown:
		c.mtx.Unlock()
		return status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" is shut down", nil)
	case Initialized:
		c.mtx.Unlock()
		return nil
	}
	if len(c.peers) == 0 {
		c.mtx.Unlock()
		return status.New(status.ClientStatus, status.NoPeersFound.ToInt32(),
			"channel "+c.name+" has no peers", nil)
	}
	if len(c.orderers) == 0 {
		c.mtx.Unlock()
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel "+c.name+" has no orderers", nil)
	}
	c.mtx.Unlock()

	configBlock, err := c.fetchConfigBlock(ctx, newestSeek())
	if err != nil {
		return err
	}

	for _, hub := range c.EventHubs() {
		if err := hub.Connect(); err != nil {
			return err
		}
	}

	c.mtx.Lock()
	if c.state == Shutdown {
		c.mtx.Unlock()
		return status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" is shut down", nil)
	}
	c.lastConfigBlock = configBlock
	c.state = Initialized
	c.discoveryStop = make(chan struct{})
	c.discoveryDone = make(chan struct{})
	stop, done := c.discoveryStop, c.discoveryDone
	c.mtx.Unlock()

	go c.discoveryLoop(stop, done)

	logger.Infof("Channel %s initialized", c.name)
	return nil
}

// ConfigBlock returns the last config block fetched during initialization.
func (c *Channel) ConfigBlock() *cb.Block {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.lastConfigBlock
}

// GenesisBlock fetches block zero of the channel from an orderer.
func (c *Channel) GenesisBlock(ctx context.Context) (*cb.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ctx.Config().GenesisBlockWaitTime())
	defer cancel()
	return c.fetchConfigBlock(ctx, specifiedSeek(0))
}

func newestSeek() *ab.SeekInfo {
	position := &ab.SeekPosition{Type: &ab.SeekPosition_Newest{Newest: &ab.SeekNewest{}}}
	return &ab.SeekInfo{Start: position, Stop: position, Behavior: ab.SeekInfo_BLOCK_UNTIL_READY}
}

func specifiedSeek(number uint64) *ab.SeekInfo {
	position := &ab.SeekPosition{Type: &ab.SeekPosition_Specified{
		Specified: &ab.SeekSpecified{Number: number},
	}}
	return &ab.SeekInfo{Start: position, Stop: position, Behavior: ab.SeekInfo_BLOCK_UNTIL_READY}
}

// fetchConfigBlock requests one block from the first responsive orderer.
func (c *Channel) fetchConfigBlock(ctx context.Context, seek *ab.SeekInfo) (*cb.Block, error) {
	orderers := c.Orderers()
	if len(orderers) == 0 {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel "+c.name+" has no orderers", nil)
	}

	envelope, err := c.seekEnvelope(seek)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.ctx.Config().ChannelConfigWaitTime())
	defer cancel()

	var lastErr error
	for _, o := range orderers {
		blocks, errs := o.Deliver(ctx, envelope)
		select {
		case block, ok := <-blocks:
			if ok && block != nil {
				return block, nil
			}
			lastErr = status.New(status.OrdererClientStatus, status.Unknown.ToInt32(),
				"deliver returned no block", nil).WithEndpoint(o.URL())
		case err := <-errs:
			lastErr = err
		case <-ctx.Done():
			return nil, status.New(status.OrdererClientStatus, status.Timeout.ToInt32(),
				"config block fetch timed out", nil).WithEndpoint(o.URL())
		}
	}
	return nil, lastErr
}

func (c *Channel) seekEnvelope(seek *ab.SeekInfo) (*cb.Envelope, error) {
	seekBytes, err := proto.Marshal(seek)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of seek info failed: "+err.Error(), nil)
	}
	txID, err := txn.NewTransactionID(c.ctx.Suite(), c.ctx.User())
	if err != nil {
		return nil, err
	}
	channelHeader, err := txn.CreateChannelHeader(txn.ChannelHeaderOpts{
		Type:      cb.HeaderType_DELIVER_SEEK_INFO,
		ChannelID: c.name,
		TxID:      txID,
	})
	if err != nil {
		return nil, err
	}
	header, err := txn.CreateHeader(txID, channelHeader)
	if err != nil {
		return nil, err
	}
	payloadBytes, err := proto.Marshal(&cb.Payload{Header: header, Data: seekBytes})
	if err != nil {
		return nil, status.New(status.ClientStatus, status.CryptoFailed.ToInt32(),
			"marshal of seek payload failed: "+err.Error(), nil)
	}
	return txn.CreateSignedEnvelope(c.ctx.Suite(), c.ctx.User(), payloadBytes)
}

// Close moves the channel to SHUTDOWN: the discovery ticker stops, pending
// commit listeners are drained with a shutting-down error, then every peer,
// orderer and event hub is closed in parallel.
func (c *Channel) Close() {
	c.mtx.Lock()
	if c.state == Shutdown {
		c.mtx.Unlock()
		return
	}
	c.state = Shutdown
	stop, done := c.discoveryStop, c.discoveryDone
	c.discoveryStop, c.discoveryDone = nil, nil
	peers := c.peers
	orderers := c.orderers
	hubs := c.hubs
	c.peers = make(map[string]*peer.Peer)
	c.orderers = make(map[string]*orderer.Orderer)
	c.hubs = make(map[string]*events.Hub)
	c.mtx.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	c.drainCommitListeners()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer.Peer) {
			defer wg.Done()
			p.Close()
		}(p)
	}
	for _, o := range orderers {
		wg.Add(1)
		go func(o *orderer.Orderer) {
			defer wg.Done()
			o.Close()
		}(o)
	}
	for _, h := range hubs {
		wg.Add(1)
		go func(h *events.Hub) {
			defer wg.Done()
			h.Close()
		}(h)
	}
	wg.Wait()
	logger.Infof("Channel %s shut down", c.name)
}
