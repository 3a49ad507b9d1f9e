/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	reqContext "context"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/orderer"
	"github.com/hyperledger/fabric-client-go/pkg/fab/txn"
)

// CreateChannelRequest carries a channel-creation transaction produced by the
// channel config tooling.
type CreateChannelRequest struct {
	Name string
	// Orderer receives the creation transaction.
	Orderer *orderer.Orderer
	// Envelope is the marshaled config-update envelope for the new channel.
	Envelope []byte
}

// CreateChannel signs the channel-creation transaction with the client's user
// and broadcasts it to the orderer. The envelope must carry a CONFIG_UPDATE
// payload for the named channel.
func (c *Client) CreateChannel(ctx reqContext.Context, request CreateChannelRequest) error {
	if request.Name == "" {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel name is required", nil)
	}
	if request.Orderer == nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"orderer is required", nil)
	}
	if len(request.Envelope) == 0 {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel transaction envelope is required", nil)
	}

	envelope := &cb.Envelope{}
	if err := proto.Unmarshal(request.Envelope, envelope); err != nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"decoding channel transaction failed: "+err.Error(), nil)
	}
	payload := &cb.Payload{}
	if err := proto.Unmarshal(envelope.Payload, payload); err != nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"decoding channel transaction payload failed: "+err.Error(), nil)
	}
	if payload.Header == nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel transaction has no header", nil)
	}
	channelHeader := &cb.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, channelHeader); err != nil {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"decoding channel header failed: "+err.Error(), nil)
	}
	if cb.HeaderType(channelHeader.Type) != cb.HeaderType_CONFIG_UPDATE {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel transaction is not a config update", nil)
	}
	if channelHeader.ChannelId != request.Name {
		return status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel transaction is for channel "+channelHeader.ChannelId+", not "+request.Name, nil)
	}

	signed, err := txn.CreateSignedEnvelope(c.ctx.Suite(), c.ctx.User(), envelope.Payload)
	if err != nil {
		return err
	}

	logger.Infof("Creating channel %s", request.Name)
	_, err = request.Orderer.Broadcast(ctx, signed, c.ctx.Config().OrdererWaitTime())
	return err
}
