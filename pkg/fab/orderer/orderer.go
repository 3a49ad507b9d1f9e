/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package orderer implements the ordering-service client: envelope broadcast
// and the deliver stream used for config-block fetches.
package orderer

import (
	"context"
	"io"
	"sync"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/op/go-logging"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/hyperledger/fabric-client-go/pkg/core/endpoint"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

var logger = logging.MustGetLogger("fabric_client_go")

// Orderer broadcasts envelopes to one ordering-service endpoint and streams
// delivery for channel-config reads. The gRPC connection is established
// lazily and reused until Close.
type Orderer struct {
	endpoint *endpoint.Endpoint
	name     string

	connMtx sync.Mutex
	conn    *grpc.ClientConn
}

// Option customizes an orderer.
type Option func(*Orderer)

// WithName sets a display name. Defaults to the endpoint URL.
func WithName(name string) Option {
	return func(o *Orderer) { o.name = name }
}

// New wraps the endpoint into an orderer client.
func New(ep *endpoint.Endpoint, opts ...Option) (*Orderer, error) {
	if ep == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"endpoint is required", nil)
	}
	o := &Orderer{endpoint: ep, name: ep.URL()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// URL returns the orderer's endpoint URL.
func (o *Orderer) URL() string {
	return o.endpoint.URL()
}

// Name returns the orderer's display name.
func (o *Orderer) Name() string {
	return o.name
}

// Endpoint returns the orderer's endpoint.
func (o *Orderer) Endpoint() *endpoint.Endpoint {
	return o.endpoint
}

func (o *Orderer) connection() (*grpc.ClientConn, error) {
	o.connMtx.Lock()
	defer o.connMtx.Unlock()
	if o.conn != nil {
		return o.conn, nil
	}
	conn, err := grpc.Dial(o.endpoint.Address(), o.endpoint.DialOptions()...)
	if err != nil {
		return nil, status.New(status.OrdererClientStatus, status.ConnectionFailed.ToInt32(),
			"dial failed: "+err.Error(), nil).WithEndpoint(o.endpoint.URL())
	}
	o.conn = conn
	return conn, nil
}

// Broadcast hands the signed envelope to the ordering service and waits up to
// deadline for the acknowledgement. A response status other than SUCCESS is
// an orderer-server error carrying that status code.
func (o *Orderer) Broadcast(ctx context.Context, envelope *cb.Envelope, deadline time.Duration) (*ab.BroadcastResponse, error) {
	if envelope == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"envelope is required", nil)
	}

	conn, err := o.connection()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	stream, err := ab.NewAtomicBroadcastClient(conn).Broadcast(ctx)
	if err != nil {
		return nil, o.streamError(err)
	}
	if err := stream.Send(envelope); err != nil {
		return nil, o.streamError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, o.streamError(err)
	}

	response, err := stream.Recv()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, status.New(status.OrdererClientStatus, status.Timeout.ToInt32(),
				"broadcast wait time expired", nil).WithEndpoint(o.endpoint.URL())
		}
		return nil, o.streamError(err)
	}
	if response.Status != cb.Status_SUCCESS {
		return response, status.New(status.OrdererServerStatus, int32(response.Status),
			response.Info, nil).WithEndpoint(o.endpoint.URL())
	}
	logger.Debugf("Broadcast to %s acknowledged", o.endpoint.URL())
	return response, nil
}

// Deliver sends the signed seek envelope and streams the requested blocks.
// The block channel is closed after the terminating SUCCESS status; any
// failure is placed on the buffered error channel and ends the stream.
func (o *Orderer) Deliver(ctx context.Context, envelope *cb.Envelope) (chan *cb.Block, chan error) {
	blocks := make(chan *cb.Block)
	errs := make(chan error, 1)

	if envelope == nil {
		errs <- status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"envelope is required", nil)
		close(blocks)
		return blocks, errs
	}

	conn, err := o.connection()
	if err != nil {
		errs <- err
		close(blocks)
		return blocks, errs
	}

	stream, err := ab.NewAtomicBroadcastClient(conn).Deliver(ctx)
	if err != nil {
		errs <- o.streamError(err)
		close(blocks)
		return blocks, errs
	}
	if err := stream.Send(envelope); err != nil {
		errs <- o.streamError(err)
		close(blocks)
		return blocks, errs
	}

	go func() {
		defer close(blocks)
		for {
			response, err := stream.Recv()
			if err != nil {
				errs <- o.streamError(err)
				return
			}
			switch t := response.Type.(type) {
			case *ab.DeliverResponse_Status:
				if t.Status == cb.Status_SUCCESS {
					return
				}
				errs <- status.New(status.OrdererServerStatus, int32(t.Status),
					"deliver ended with non-success status", nil).WithEndpoint(o.endpoint.URL())
				return
			case *ab.DeliverResponse_Block:
				logger.Debugf("Received block %d from %s", t.Block.Header.Number, o.endpoint.URL())
				select {
				case blocks <- t.Block:
				case <-ctx.Done():
					errs <- status.New(status.OrdererClientStatus, status.Timeout.ToInt32(),
						"deliver abandoned: "+ctx.Err().Error(), nil).WithEndpoint(o.endpoint.URL())
					return
				}
			default:
				errs <- status.New(status.OrdererClientStatus, status.Unknown.ToInt32(),
					"unknown deliver response type", nil).WithEndpoint(o.endpoint.URL())
				return
			}
		}
	}()

	return blocks, errs
}

func (o *Orderer) streamError(err error) error {
	if err == io.EOF {
		return status.New(status.OrdererClientStatus, status.ConnectionFailed.ToInt32(),
			"stream closed by ordering service", nil).WithEndpoint(o.endpoint.URL())
	}
	if s, ok := grpcstatus.FromError(err); ok {
		return status.NewFromGRPCStatus(s).WithEndpoint(o.endpoint.URL())
	}
	return status.New(status.OrdererClientStatus, status.BroadcastFailed.ToInt32(),
		err.Error(), nil).WithEndpoint(o.endpoint.URL())
}

// Close releases the cached connection.
func (o *Orderer) Close() {
	o.connMtx.Lock()
	defer o.connMtx.Unlock()
	if o.conn != nil {
		if err := o.conn.Close(); err != nil {
			logger.Warningf("Closing connection to %s failed: %s", o.endpoint.URL(), err)
		}
		o.conn = nil
	}
}
