package wire

import (
	"encoding/json"

	"github.com/softadastra/softadastra-net/internal/netx"
)

// Hello is exchanged once after the secure channel comes up.
type Hello struct {
	Name     string `json:"name"`
	Listen   string `json:"listen"`
	Protocol string `json:"protocol"`
}

// PeerInfo describes another peer we know about.
type PeerInfo struct {
	ID   netx.PeerID `json:"id"`
	Addr string      `json:"addr"`
	Name string      `json:"name"`
}

// PeerList carries a bounded random sample of known-alive peers.
type PeerList struct {
	Peers []PeerInfo `json:"peers"`
}

// Vector summarizes the highest counter observed per origin peer.
type Vector map[netx.PeerID]uint64

// Covers reports whether v has seen at least counter from origin.
func (v Vector) Covers(origin netx.PeerID, counter uint64) bool {
	return v[origin] >= counter
}

// Observe raises the origin's watermark if counter is higher.
func (v Vector) Observe(origin netx.PeerID, counter uint64) {
	if v[origin] < counter {
		v[origin] = counter
	}
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for id, c := range v {
		out[id] = c
	}
	return out
}

// SyncRequest asks the remote side for every entry our vector is missing.
type SyncRequest struct {
	Vector Vector `json:"vector"`
}

// Entry is one versioned key/value. Origin+Counter form the logical clock;
// ties across origins are broken by PeerID ordering.
type Entry struct {
	Key       string      `json:"key"`
	Value     []byte      `json:"value,omitempty"`
	Origin    netx.PeerID `json:"origin"`
	Counter   uint64      `json:"counter"`
	Tombstone bool        `json:"tombstone,omitempty"`
}

// SyncData is one batch of a sync round. Done marks the final batch.
type SyncData struct {
	Entries []Entry `json:"entries"`
	Done    bool    `json:"done"`
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
