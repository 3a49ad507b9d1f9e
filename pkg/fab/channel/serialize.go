/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package channel

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	"github.com/hyperledger/fabric-client-go/pkg/fab/peer"
)

// snapshotMagic prefixes serialized channels; the trailing byte is the
// format version.
var snapshotMagic = []byte("fabchan\x01")

// PeerInfo is the serialized form of one peer registration.
type PeerInfo struct {
	URL   string    `json:"url"`
	Name  string    `json:"name,omitempty"`
	MSPID string    `json:"mspId,omitempty"`
	Roles peer.Role `json:"roles"`
}

// OrdererInfo is the serialized form of one orderer registration.
type OrdererInfo struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Snapshot captures the observable wiring of a channel: its name and the
// endpoints it is attached to. TLS material and keys are never serialized;
// restoring a snapshot requires the endpoint credentials to be supplied
// again.
type Snapshot struct {
	Name      string        `json:"name"`
	Peers     []PeerInfo    `json:"peers"`
	Orderers  []OrdererInfo `json:"orderers"`
	EventHubs []string      `json:"eventHubs"`
}

// Snapshot captures the channel's current registrations.
func (c *Channel) Snapshot() *Snapshot {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	s := &Snapshot{Name: c.name}
	for _, p := range c.peers {
		s.Peers = append(s.Peers, PeerInfo{
			URL:   p.URL(),
			Name:  p.Name(),
			MSPID: p.MSPID(),
			Roles: p.Roles(),
		})
	}
	for _, o := range c.orderers {
		s.Orderers = append(s.Orderers, OrdererInfo{URL: o.URL(), Name: o.Name()})
	}
	for url := range c.hubs {
		s.EventHubs = append(s.EventHubs, url)
	}

	sort.Slice(s.Peers, func(i, j int) bool { return s.Peers[i].URL < s.Peers[j].URL })
	sort.Slice(s.Orderers, func(i, j int) bool { return s.Orderers[i].URL < s.Orderers[j].URL })
	sort.Strings(s.EventHubs)
	return s
}

// Serialize encodes the channel's snapshot into a version-prefixed blob.
func (c *Channel) Serialize() ([]byte, error) {
	encoded, err := json.Marshal(c.Snapshot())
	if err != nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"encoding channel snapshot failed: "+err.Error(), nil)
	}
	return append(append([]byte(nil), snapshotMagic...), encoded...), nil
}

// Deserialize decodes a blob produced by Serialize. Unknown prefixes or
// versions are an argument error.
func Deserialize(blob []byte) (*Snapshot, error) {
	if !bytes.HasPrefix(blob, snapshotMagic) {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"blob is not a serialized channel", nil)
	}
	s := &Snapshot{}
	if err := json.Unmarshal(blob[len(snapshotMagic):], s); err != nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"decoding channel snapshot failed: "+err.Error(), nil)
	}
	if s.Name == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"serialized channel has no name", nil)
	}
	return s, nil
}
