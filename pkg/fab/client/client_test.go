/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"context"
	"testing"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/fabric-client-go/pkg/core/config"
	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/channel"
	"github.com/hyperledger/fabric-client-go/pkg/fab/mocks"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

func testUser(t *testing.T) *msp.User {
	identity, err := mocks.NewTestIdentity("clientUser")
	require.NoError(t, err)
	key, err := cryptosuite.ImportPrivateKeyPEM(identity.KeyPEM)
	require.NoError(t, err)
	user, err := msp.NewUser("clientUser", "Org1MSP", identity.CertPEM, key)
	require.NoError(t, err)
	return user
}

func newTestClient(t *testing.T) *Client {
	c, err := New(config.New(), testUser(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewClient(t *testing.T) {
	user := testUser(t)

	c, err := New(config.New(), user)
	require.NoError(t, err)
	defer c.Close()
	assert.NotNil(t, c.Suite())
	assert.Same(t, user, c.User())
	assert.NotNil(t, c.Context())

	_, err = New(nil, user)
	require.Error(t, err)
	_, err = New(config.New(), nil)
	require.Error(t, err)
}

func TestNewClientRejectsBadSecurityOptions(t *testing.T) {
	cfg := config.New()
	cfg.Set(config.KeySecurityLevel, 512)

	_, err := New(cfg, testUser(t))
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.CryptoFailed))
}

func TestChannelRegistry(t *testing.T) {
	c := newTestClient(t)

	ch, err := c.NewChannel("mychannel")
	require.NoError(t, err)
	assert.Equal(t, "mychannel", ch.Name())

	_, err = c.NewChannel("mychannel")
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))

	got, ok := c.Channel("mychannel")
	require.True(t, ok)
	assert.Same(t, ch, got)

	c.RemoveChannel("mychannel")
	_, ok = c.Channel("mychannel")
	assert.False(t, ok)
	assert.Equal(t, channel.Shutdown, ch.State())

	// Removing an unknown channel is a no-op.
	c.RemoveChannel("nosuchchannel")
}

func TestEndpointFactories(t *testing.T) {
	c := newTestClient(t)

	p, err := c.NewPeer("grpc://localhost:7051", nil, peer.WithMSPID("Org1MSP"))
	require.NoError(t, err)
	assert.Equal(t, "Org1MSP", p.MSPID())

	_, err = c.NewPeer("localhost:7051", nil)
	require.Error(t, err)

	o, err := c.NewOrderer("grpc://localhost:7050", nil)
	require.NoError(t, err)
	assert.Equal(t, "grpc://localhost:7050", o.URL())

	_, err = c.NewOrderer("http://localhost:7050", nil)
	require.Error(t, err)

	hub, err := c.NewEventHub("mychannel", "grpc://localhost:7053", nil)
	require.NoError(t, err)
	assert.NotNil(t, hub)

	_, err = c.NewEventHub("mychannel", "localhost:7053", nil)
	require.Error(t, err)
}

func TestRestoreChannel(t *testing.T) {
	c := newTestClient(t)

	ch, err := c.NewChannel("mychannel")
	require.NoError(t, err)

	p, err := c.NewPeer("grpc://peer0:7051", nil, peer.WithName("peer0"), peer.WithMSPID("Org1MSP"))
	require.NoError(t, err)
	require.NoError(t, ch.AddPeer(p))
	o, err := c.NewOrderer("grpc://orderer0:7050", nil)
	require.NoError(t, err)
	require.NoError(t, ch.AddOrderer(o))
	hub, err := c.NewEventHub("mychannel", "grpc://peer0:7053", nil)
	require.NoError(t, err)
	require.NoError(t, ch.AddEventHub("grpc://peer0:7053", hub))

	blob, err := ch.Serialize()
	require.NoError(t, err)
	original := ch.Snapshot()

	// A snapshot cannot be restored while its name is taken.
	_, err = c.RestoreChannel(blob, nil)
	require.Error(t, err)

	c.RemoveChannel("mychannel")
	restored, err := c.RestoreChannel(blob, nil)
	require.NoError(t, err)
	assert.Equal(t, original, restored.Snapshot())

	registered, ok := c.Channel("mychannel")
	require.True(t, ok)
	assert.Same(t, restored, registered)

	_, err = c.RestoreChannel([]byte("not a channel"), nil)
	require.Error(t, err)
}

func channelTxEnvelope(t *testing.T, name string) []byte {
	channelHeader, err := proto.Marshal(&cb.ChannelHeader{
		Type:      int32(cb.HeaderType_CONFIG_UPDATE),
		ChannelId: name,
	})
	require.NoError(t, err)
	payload, err := proto.Marshal(&cb.Payload{
		Header: &cb.Header{ChannelHeader: channelHeader},
		Data:   []byte("config update"),
	})
	require.NoError(t, err)
	envelope, err := proto.Marshal(&cb.Envelope{Payload: payload})
	require.NoError(t, err)
	return envelope
}

func TestCreateChannel(t *testing.T) {
	c := newTestClient(t)

	mock := &mocks.MockBroadcastServer{}
	addr, stop, err := mocks.StartBroadcastServer(mock)
	require.NoError(t, err)
	t.Cleanup(stop)
	o, err := c.NewOrderer("grpc://"+addr, nil)
	require.NoError(t, err)
	defer o.Close()

	require.NoError(t, c.CreateChannel(context.Background(), CreateChannelRequest{
		Name:     "newchannel",
		Orderer:  o,
		Envelope: channelTxEnvelope(t, "newchannel"),
	}))
	assert.Equal(t, 1, mock.BroadcastsReceived())

	// The broadcast envelope is signed by this client's user, not the tool
	// that produced the transaction.
	signed := mock.Envelopes()[0]
	assert.NotEmpty(t, signed.Signature)
}

func TestCreateChannelValidation(t *testing.T) {
	c := newTestClient(t)
	o, err := c.NewOrderer("grpc://localhost:7050", nil)
	require.NoError(t, err)

	cases := []CreateChannelRequest{
		{Orderer: o, Envelope: channelTxEnvelope(t, "newchannel")},
		{Name: "newchannel", Envelope: channelTxEnvelope(t, "newchannel")},
		{Name: "newchannel", Orderer: o},
		{Name: "newchannel", Orderer: o, Envelope: []byte("garbage")},
		// The transaction names a different channel.
		{Name: "newchannel", Orderer: o, Envelope: channelTxEnvelope(t, "otherchannel")},
	}
	for _, request := range cases {
		err := c.CreateChannel(context.Background(), request)
		require.Error(t, err)
		assert.True(t, status.IsCode(err, status.ClientStatus, status.InvalidArgument))
	}
}

func TestClose(t *testing.T) {
	c := newTestClient(t)

	ch, err := c.NewChannel("mychannel")
	require.NoError(t, err)

	c.Close()
	assert.Equal(t, channel.Shutdown, ch.State())

	_, err = c.NewChannel("another")
	require.Error(t, err)
	assert.True(t, status.IsCode(err, status.ClientStatus, status.ShuttingDown))

	// Close is idempotent.
	c.Close()
}
