/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package context carries the dependencies shared by every component of one
// client instance. There is no process-wide state: each client owns its own
// configuration, crypto suite and signing user.
package context

import (
	"github.com/hyperledger/fabric-client-go/pkg/core/config"
	"github.com/hyperledger/fabric-client-go/pkg/core/cryptosuite"
	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/msp"
)

// Client binds the configuration, crypto suite and signing identity of one
// client instance.
type Client struct {
	config *config.Config
	suite  *cryptosuite.CryptoSuite
	user   *msp.User
}

// New validates and binds the dependencies.
func New(cfg *config.Config, suite *cryptosuite.CryptoSuite, user *msp.User) (*Client, error) {
	if cfg == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"config is required", nil)
	}
	if suite == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"crypto suite is required", nil)
	}
	if user == nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"user is required", nil)
	}
	return &Client{config: cfg, suite: suite, user: user}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Suite returns the crypto suite.
func (c *Client) Suite() *cryptosuite.CryptoSuite {
	return c.suite
}

// User returns the signing identity.
func (c *Client) User() *msp.User {
	return c.user
}
