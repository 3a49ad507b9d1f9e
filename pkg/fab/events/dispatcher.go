/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package events

import (
	"math"
	"sync"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/txn"
)

const listenerBufferSize = 16

// blockListener owns one subscriber: blocks are queued on a private channel
// and delivered by a dedicated goroutine, so a listener always observes
// blocks in arrival order while distinct listeners proceed independently.
type blockListener struct {
	mtx    sync.Mutex
	closed bool
	ch     chan *cb.Block
	done   chan struct{}
}

func newBlockListener(callback func(*cb.Block)) *blockListener {
	l := &blockListener{
		ch:   make(chan *cb.Block, listenerBufferSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(l.done)
		for block := range l.ch {
			callback(block)
		}
	}()
	return l
}

func (l *blockListener) deliver(block *cb.Block) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.closed {
		l.ch <- block
	}
}

func (l *blockListener) close() {
	l.mtx.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mtx.Unlock()
	<-l.done
}

// RegisterBlockEvent subscribes the callback to committed blocks and returns
// a registration handle for UnregisterBlockEvent.
func (h *Hub) RegisterBlockEvent(callback func(*cb.Block)) uint64 {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.nextListenerID++
	id := h.nextListenerID
	h.blockListeners[id] = newBlockListener(callback)
	return id
}

// UnregisterBlockEvent removes the subscription and waits for its queue to
// drain.
func (h *Hub) UnregisterBlockEvent(id uint64) {
	h.mtx.Lock()
	l, ok := h.blockListeners[id]
	delete(h.blockListeners, id)
	h.mtx.Unlock()
	if ok {
		l.close()
	}
}

// RegisterTxEvent installs a commit listener for the given transaction ID.
// The callback fires at most once and the registration is removed on the
// first matching transaction.
func (h *Hub) RegisterTxEvent(txID string, callback TxCallback) {
	h.mtx.Lock()
	h.txListeners[txID] = callback
	h.mtx.Unlock()
}

// UnregisterTxEvent removes a commit listener that has not fired.
func (h *Hub) UnregisterTxEvent(txID string) {
	h.mtx.Lock()
	delete(h.txListeners, txID)
	h.mtx.Unlock()
}

func (h *Hub) handleResponse(response *pb.DeliverResponse) error {
	switch t := response.Type.(type) {
	case *pb.DeliverResponse_Status:
		return status.New(status.EventServerStatus, int32(t.Status),
			"event stream returned status "+t.Status.String(), nil)
	case *pb.DeliverResponse_Block:
		return h.handleBlock(t.Block)
	default:
		return status.New(status.EventClientStatus, status.Unknown.ToInt32(),
			"unknown deliver response type", nil)
	}
}

// handleBlock updates the replay cursor and fans the block out. Stale or
// duplicate blocks are dropped so every listener sees strictly increasing
// block numbers.
func (h *Hub) handleBlock(block *cb.Block) error {
	if block == nil || block.Header == nil || block.Data == nil {
		return status.New(status.EventClientStatus, status.BlockDecodeFailed.ToInt32(),
			"received block without header or data", nil)
	}
	number := block.Header.Number

	h.mtx.Lock()
	if h.seenBlock && number <= h.lastBlockNum {
		h.mtx.Unlock()
		logger.Debugf("Dropping replayed block %d on channel %s", number, h.channelID)
		return nil
	}
	gap := h.seenBlock && number > h.lastBlockNum+1
	lastSeen := h.lastBlockNum
	h.lastBlockNum = number
	h.seenBlock = true
	gapHandler := h.gapHandler
	listeners := make([]*blockListener, 0, len(h.blockListeners))
	for _, l := range h.blockListeners {
		listeners = append(listeners, l)
	}
	h.mtx.Unlock()

	if gap {
		logger.Warningf("Replay gap on channel %s: last seen block %d, received %d", h.channelID, lastSeen, number)
		if gapHandler != nil {
			gapHandler(lastSeen, number)
		}
	}

	if err := h.notifyTxListeners(block); err != nil {
		return err
	}
	for _, l := range listeners {
		l.deliver(block)
	}
	return nil
}

// notifyTxListeners walks the block's envelopes and resolves matching commit
// listeners with the transaction's validation code.
func (h *Hub) notifyTxListeners(block *cb.Block) error {
	var filter []byte
	if block.Metadata != nil && len(block.Metadata.Metadata) > int(cb.BlockMetadataIndex_TRANSACTIONS_FILTER) {
		filter = block.Metadata.Metadata[cb.BlockMetadataIndex_TRANSACTIONS_FILTER]
	}

	for i, envelopeBytes := range block.Data.Data {
		envelope := &cb.Envelope{}
		if err := proto.Unmarshal(envelopeBytes, envelope); err != nil {
			return blockDecodeError("envelope", err)
		}
		payload := &cb.Payload{}
		if err := proto.Unmarshal(envelope.Payload, payload); err != nil {
			return blockDecodeError("payload", err)
		}
		if payload.Header == nil {
			return status.New(status.EventClientStatus, status.BlockDecodeFailed.ToInt32(),
				"transaction payload has no header", nil)
		}
		channelHeader := &cb.ChannelHeader{}
		if err := proto.Unmarshal(payload.Header.ChannelHeader, channelHeader); err != nil {
			return blockDecodeError("channel header", err)
		}

		code := pb.TxValidationCode_VALID
		if i < len(filter) {
			code = pb.TxValidationCode(filter[i])
		}

		h.mtx.Lock()
		callback, ok := h.txListeners[channelHeader.TxId]
		if ok {
			delete(h.txListeners, channelHeader.TxId)
		}
		h.mtx.Unlock()

		if ok {
			logger.Debugf("Transaction %s committed with code %s", channelHeader.TxId, code)
			callback(channelHeader.TxId, code)
		}
	}
	return nil
}

func blockDecodeError(what string, err error) error {
	return status.New(status.EventClientStatus, status.BlockDecodeFailed.ToInt32(),
		"decoding "+what+" failed: "+err.Error(), nil)
}

// seekEnvelope builds the signed registration envelope. The replay cursor
// resumes from the block after the last one seen, or from the newest block
// when nothing has been delivered yet.
func (h *Hub) seekEnvelope() (*cb.Envelope, error) {
	h.mtx.RLock()
	seenBlock := h.seenBlock
	lastBlockNum := h.lastBlockNum
	h.mtx.RUnlock()

	var start *ab.SeekPosition
	if seenBlock {
		start = &ab.SeekPosition{Type: &ab.SeekPosition_Specified{
			Specified: &ab.SeekSpecified{Number: lastBlockNum + 1},
		}}
	} else {
		start = &ab.SeekPosition{Type: &ab.SeekPosition_Newest{Newest: &ab.SeekNewest{}}}
	}
	stop := &ab.SeekPosition{Type: &ab.SeekPosition_Specified{
		Specified: &ab.SeekSpecified{Number: math.MaxUint64},
	}}
	seekBytes, err := proto.Marshal(&ab.SeekInfo{
		Start:    start,
		Stop:     stop,
		Behavior: ab.SeekInfo_BLOCK_UNTIL_READY,
	})
	if err != nil {
		return nil, status.New(status.EventClientStatus, status.RegistrationFailed.ToInt32(),
			"marshal of seek info failed: "+err.Error(), nil)
	}

	txID, err := txn.NewTransactionID(h.suite, h.user)
	if err != nil {
		return nil, err
	}
	channelHeader, err := txn.CreateChannelHeader(txn.ChannelHeaderOpts{
		Type:      cb.HeaderType_DELIVER_SEEK_INFO,
		ChannelID: h.channelID,
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
		return nil, status.New(status.EventClientStatus, status.RegistrationFailed.ToInt32(),
			"marshal of seek payload failed: "+err.Error(), nil)
	}
	return txn.CreateSignedEnvelope(h.suite, h.user, payloadBytes)
}
