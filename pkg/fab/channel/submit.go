/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package channel

import (
	"context"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-client-go/pkg/errors/retry"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/events"
	"github.com/hyperledger/fabric-client-go/pkg/fab/txn"
)

// TransactionResult reports a committed transaction.
type TransactionResult struct {
	TxID           string
	ValidationCode pb.TxValidationCode
	Payload        []byte
}

// SubmitOpts customizes one submission.
type SubmitOpts struct {
	// Retry decides whether a failed broadcast is retried. Defaults to the
	// bounded retry handler with the configured orderer backoff.
	Retry retry.Handler
}

type commitResult struct {
	code pb.TxValidationCode
	err  error
}

// SendTransaction assembles the endorsed transaction into a signed envelope,
// registers a commit listener for the transaction ID, broadcasts the
// envelope and waits for the commit. The listener is registered strictly
// before broadcast so a fast commit cannot be missed.
func (c *Channel) SendTransaction(ctx context.Context, proposal *txn.Proposal, responses []*ProposalResponse, opts SubmitOpts) (*TransactionResult, error) {
	if err := c.checkNotShutdown(); err != nil {
		return nil, err
	}
	if err := c.requireEndorsements(responses); err != nil {
		return nil, err
	}

	pbResponses := make([]*pb.ProposalResponse, len(responses))
	for i, r := range responses {
		pbResponses[i] = r.Response
	}
	payload, err := txn.CreateTransactionPayload(proposal, pbResponses)
	if err != nil {
		return nil, err
	}
	envelope, err := txn.CreateSignedEnvelope(c.ctx.Suite(), c.ctx.User(), payload)
	if err != nil {
		return nil, err
	}

	hubs := c.EventHubs()
	if len(hubs) == 0 {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel "+c.name+" has no event hubs", nil)
	}

	txID := proposal.TxID.ID
	commit, err := c.registerCommitListener(txID, hubs)
	if err != nil {
		return nil, err
	}

	if err := c.broadcast(ctx, envelope, opts.Retry); err != nil {
		c.unregisterCommitListener(txID, hubs)
		return nil, err
	}

	select {
	case r := <-commit:
		// The hub that observed the commit removed its own registration;
		// clear the remaining hubs.
		c.unregisterCommitListener(txID, hubs)
		if r.err != nil {
			return nil, r.err
		}
		if r.code != pb.TxValidationCode_VALID {
			return nil, status.New(status.EventServerStatus, int32(r.code),
				"transaction "+txID+" failed validation", nil)
		}
		return &TransactionResult{
			TxID:           txID,
			ValidationCode: r.code,
			Payload:        responses[0].Payload,
		}, nil
	case <-time.After(c.ctx.Config().TransactionCleanupTimeout()):
		c.unregisterCommitListener(txID, hubs)
		return nil, status.New(status.ClientStatus, status.Timeout.ToInt32(),
			"commit of transaction "+txID+" was not observed in time", nil)
	case <-ctx.Done():
		c.unregisterCommitListener(txID, hubs)
		return nil, status.New(status.ClientStatus, status.Timeout.ToInt32(),
			"commit wait cancelled for transaction "+txID, nil)
	}
}

// registerCommitListener installs the transaction listener on every event
// hub and tracks it for shutdown draining. The first hub to observe the
// transaction resolves the result; duplicates are dropped by the buffered
// channel.
func (c *Channel) registerCommitListener(txID string, hubs []*events.Hub) (chan commitResult, error) {
	commit := make(chan commitResult, 1)

	c.mtx.Lock()
	if c.state == Shutdown {
		c.mtx.Unlock()
		return nil, status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" is shut down", nil)
	}
	if c.commitListeners == nil {
		c.commitListeners = make(map[string]chan commitResult)
	}
	c.commitListeners[txID] = commit
	c.mtx.Unlock()

	callback := func(id string, code pb.TxValidationCode) {
		c.resolveCommitListener(id, commitResult{code: code})
	}
	for _, hub := range hubs {
		hub.RegisterTxEvent(txID, callback)
	}
	logger.Debugf("Commit listener registered for %s", txID)
	return commit, nil
}

func (c *Channel) resolveCommitListener(txID string, r commitResult) {
	c.mtx.Lock()
	commit, ok := c.commitListeners[txID]
	if ok {
		delete(c.commitListeners, txID)
	}
	c.mtx.Unlock()
	if ok {
		commit <- r
	}
}

func (c *Channel) unregisterCommitListener(txID string, hubs []*events.Hub) {
	for _, hub := range hubs {
		hub.UnregisterTxEvent(txID)
	}
	c.mtx.Lock()
	delete(c.commitListeners, txID)
	c.mtx.Unlock()
}

// drainCommitListeners resolves every outstanding commit wait with a
// shutting-down error.
func (c *Channel) drainCommitListeners() {
	c.mtx.Lock()
	listeners := c.commitListeners
	c.commitListeners = nil
	c.mtx.Unlock()

	for txID, commit := range listeners {
		commit <- commitResult{err: status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"channel "+c.name+" shut down while transaction "+txID+" was in flight", nil)}
	}
}

// broadcast hands the envelope to the orderers, cycling through them and
// retrying per the handler until one acknowledges the envelope.
func (c *Channel) broadcast(ctx context.Context, envelope *cb.Envelope, handler retry.Handler) error {
	orderers := c.Orderers()
	if len(orderers) == 0 {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel "+c.name+" has no orderers", nil)
	}
	if handler == nil {
		handler = retry.New(retry.Opts{
			Attempts:       retry.DefaultAttempts,
			InitialBackoff: c.ctx.Config().OrdererRetryWaitTime(),
			MaxBackoff:     retry.DefaultMaxBackoff,
			BackoffFactor:  retry.DefaultBackoffFactor,
		})
	}

	deadline := c.ctx.Config().OrdererWaitTime()
	next := 0
	for {
		o := orderers[next%len(orderers)]
		next++

		_, err := o.Broadcast(ctx, envelope, deadline)
		if err == nil {
			return nil
		}
		if !handler.Required(err) {
			return status.New(status.OrdererClientStatus, status.BroadcastFailed.ToInt32(),
				"broadcast failed: "+err.Error(), []interface{}{err})
		}
		logger.Debugf("Retrying broadcast on channel %s after: %s", c.name, err)
	}
}
