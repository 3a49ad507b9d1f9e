/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package fabricclient enables Go developers to build applications that
// interact with Hyperledger Fabric networks.
//
// Packages for end developer usage
//
// pkg/fab/client: The main entry point. A client binds a configuration and a
// signing identity, and owns the channel registry plus the factories for
// peers, orderers and event hubs.
//
// pkg/fab/channel: Channel transaction capabilities: endorsement fan-out with
// consistency validation, envelope submission with commit tracking, ledger
// queries and chaincode lifecycle operations.
//
// pkg/fab/events: Block delivery consumption with registration handshake,
// automatic reconnection and block replay.
//
// Basic workflow
//
//      1) Build a config.Config and an msp.User, then create a client with
//         client.New.
//      2) Create a channel with NewChannel and attach peers, orderers and
//         event hubs built by the client's factories.
//      3) Initialize the channel, then drive transactions with
//         ExecuteTransaction and queries with the Query funcs.
//      4) Call Close on the client to release connections.
//
package fabricclient
