/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package client is the application facade: it owns the crypto suite, the
// signing user and the channel registry, and it constructs the peers,
// orderers and event hubs the channels are wired with.
package client

import (
	"sync"

	"github.com/op/go-logging"

	"github.com/hyperledger/fabric-client-go/pkg/context"
	"github.com/hyperledger/fabric-client-go/pkg/core/config"
	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/core/endpoint"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/channel"
	"github.com/hyperledger/fabric-client-go/pkg/fab/events"
	"github.com/hyperledger/fabric-client-go/pkg/fab/orderer"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

var logger = logging.MustGetLogger("fabric_client_go")

// Client is one client instance. All dependencies are explicit: the client
// carries its own configuration, crypto suite and user, and channels created
// by it share that context.
type Client struct {
	ctx *context.Client

	mtx      sync.Mutex
	channels map[string]*channel.Channel
	closed   bool
}

// New builds a client for the given user. The crypto suite is derived from
// the configuration's security options; suites with equal options are shared.
func New(cfg *config.Config, user *msp.User) (*Client, error) {
	if cfg == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"config is required", nil)
	}

	suite, err := cryptosuite.GetSuite(cryptosuite.Opts{
		SecurityLevel:      cfg.SecurityLevel(),
		HashAlgorithm:      cfg.HashAlgorithm(),
		SignatureAlgorithm: cfg.SignatureAlgorithm(),
		AsymmetricKeyType:  "EC",
		CertificateFormat:  "X.509",
	})
	if err != nil {
		return nil, err
	}

	ctx, err := context.New(cfg, suite, user)
	if err != nil {
		return nil, err
	}
	return &Client{
		ctx:      ctx,
		channels: make(map[string]*channel.Channel),
	}, nil
}

// Context returns the client's dependency context.
func (c *Client) Context() *context.Client {
	return c.ctx
}

// Suite returns the client's crypto suite.
func (c *Client) Suite() *cryptosuite.CryptoSuite {
	return c.ctx.Suite()
}

// User returns the client's signing identity.
func (c *Client) User() *msp.User {
	return c.ctx.User()
}

// NewChannel creates a channel and registers it under its name. Creating a
// second channel with the same name is an argument error.
func (c *Client) NewChannel(name string) (*channel.Channel, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return nil, status.New(status.ClientStatus, status.ShuttingDown.ToInt32(),
			"client is closed", nil)
	}
	if _, ok := c.channels[name]; ok {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"channel "+name+" already exists", nil)
	}
	ch, err := channel.New(name, c.ctx)
	if err != nil {
		return nil, err
	}
	c.channels[name] = ch
	return ch, nil
}

// Channel returns the registered channel with the given name.
func (c *Client) Channel(name string) (*channel.Channel, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ch, ok := c.channels[name]
	return ch, ok
}

// RemoveChannel unregisters and shuts down the named channel.
func (c *Client) RemoveChannel(name string) {
	c.mtx.Lock()
	ch, ok := c.channels[name]
	delete(c.channels, name)
	c.mtx.Unlock()
	if ok {
		ch.Close()
	}
}

// NewPeer builds a peer client for the URL.
func (c *Client) NewPeer(url string, endpointOpts []endpoint.Option, peerOpts ...peer.Option) (*peer.Peer, error) {
	ep, err := endpoint.New(url, endpointOpts...)
	if err != nil {
		return nil, err
	}
	return peer.New(ep, peerOpts...)
}

// NewOrderer builds an orderer client for the URL.
func (c *Client) NewOrderer(url string, endpointOpts []endpoint.Option, ordererOpts ...orderer.Option) (*orderer.Orderer, error) {
	ep, err := endpoint.New(url, endpointOpts...)
	if err != nil {
		return nil, err
	}
	return orderer.New(ep, ordererOpts...)
}

// NewEventHub builds an event hub consuming the block stream of the peer
// behind the URL on the given channel.
func (c *Client) NewEventHub(channelID, url string, endpointOpts []endpoint.Option, hubOpts ...events.Option) (*events.Hub, error) {
	ep, err := endpoint.New(url, endpointOpts...)
	if err != nil {
		return nil, err
	}
	cfg := c.ctx.Config()
	return events.New(channelID, ep, c.ctx.Suite(), c.ctx.User(), events.Opts{
		RegistrationWaitTime:    cfg.EventRegistrationWaitTime(),
		RetryWaitTime:           cfg.PeerRetryWaitTime(),
		ReconnectionWarningRate: cfg.ReconnectionWarningRate(),
	}, hubOpts...)
}

// RestoreChannel rebuilds a channel from a serialized snapshot. Endpoint
// credentials are not part of the snapshot, so the caller supplies them per
// URL through the resolver.
func (c *Client) RestoreChannel(blob []byte, endpointOpts func(url string) []endpoint.Option) (*channel.Channel, error) {
	snapshot, err := channel.Deserialize(blob)
	if err != nil {
		return nil, err
	}
	if endpointOpts == nil {
		endpointOpts = func(string) []endpoint.Option { return nil }
	}

	ch, err := c.NewChannel(snapshot.Name)
	if err != nil {
		return nil, err
	}

	for _, info := range snapshot.Peers {
		p, err := c.NewPeer(info.URL, endpointOpts(info.URL),
			peer.WithName(info.Name), peer.WithMSPID(info.MSPID), peer.WithRoles(info.Roles))
		if err != nil {
			c.RemoveChannel(snapshot.Name)
			return nil, err
		}
		if err := ch.AddPeer(p); err != nil {
			c.RemoveChannel(snapshot.Name)
			return nil, err
		}
	}
	for _, info := range snapshot.Orderers {
		o, err := c.NewOrderer(info.URL, endpointOpts(info.URL), orderer.WithName(info.Name))
		if err != nil {
			c.RemoveChannel(snapshot.Name)
			return nil, err
		}
		if err := ch.AddOrderer(o); err != nil {
			c.RemoveChannel(snapshot.Name)
			return nil, err
		}
	}
	for _, url := range snapshot.EventHubs {
		hub, err := c.NewEventHub(snapshot.Name, url, endpointOpts(url))
		if err != nil {
			c.RemoveChannel(snapshot.Name)
			return nil, err
		}
		if err := ch.AddEventHub(url, hub); err != nil {
			c.RemoveChannel(snapshot.Name)
			return nil, err
		}
	}

	logger.Debugf("Restored channel %s with %d peers and %d orderers",
		snapshot.Name, len(snapshot.Peers), len(snapshot.Orderers))
	return ch, nil
}

// Close shuts down every registered channel. The client cannot be reused.
func (c *Client) Close() {
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	c.channels = make(map[string]*channel.Channel)
	c.mtx.Unlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch *channel.Channel) {
			defer wg.Done()
			ch.Close()
		}(ch)
	}
	wg.Wait()
}
