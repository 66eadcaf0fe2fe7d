package node

import "github.com/softadastra/softadastra-net/internal/netx"

type EventType string

const (
	EventPeerConnected    EventType = "peer_connected"
	EventPeerDisconnected EventType = "peer_disconnected"
	EventEntriesApplied   EventType = "entries_applied"
)

type Event struct {
	Type     EventType
	PeerID   netx.PeerID
	PeerAddr string
	PeerName string
	Count    int
}
