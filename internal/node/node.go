package node

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/antientropy"
	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/registry"
	"github.com/softadastra/softadastra-net/internal/wire"
)

// Node ties the transport, peer registry, discovery gossip and sync
// engine together. One goroutine pair runs per peer session; the registry
// and state store are the only shared state and each sits behind its own
// lock.
type Node struct {
	cfg Config
	id  *Identity
	log *zap.Logger

	addr netx.Addr

	reg    *registry.Registry
	engine *antientropy.Engine

	mu       sync.RWMutex
	sessions map[netx.PeerID]*session
	dialing  map[netx.Addr]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events chan Event
}

func New(cfg Config, engine *antientropy.Engine) (*Node, error) {
	cfg.applyDefaults()

	id := cfg.Identity
	if id == nil {
		var err error
		id, err = NewIdentity()
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		id:       id,
		log:      cfg.Logger.Named("node"),
		reg:      registry.New(id.ID, cfg.Liveness),
		engine:   engine,
		sessions: make(map[netx.PeerID]*session),
		dialing:  make(map[netx.Addr]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, 128),
	}
	return n, nil
}

// ID returns this node's peer ID.
func (n *Node) ID() netx.PeerID { return n.id.ID }

// ListenAddr returns where this node is listening.
func (n *Node) ListenAddr() netx.Addr { return n.addr }

// Name returns this node's display name.
func (n *Node) Name() string { return n.cfg.Name }

// Registry exposes the peer registry for read-side callers.
func (n *Node) Registry() *registry.Registry { return n.reg }

// Events returns the node's event stream.
func (n *Node) Events() <-chan Event { return n.events }

// Start brings the node online: listener, accept loop, gossip tick,
// liveness sweeper, and bootstrap dialers.
func (n *Node) Start() error {
	addr, err := n.cfg.Network.Listen(n.cfg.BindAddr)
	if err != nil {
		return err
	}
	n.addr = addr
	n.log.Info("listening",
		zap.String("addr", string(n.addr)),
		zap.String("peer_id", shortID(n.id.ID)))

	n.wg.Add(3)
	go n.acceptLoop()
	go n.gossipLoop()
	go n.sweepLoop()

	for _, a := range n.cfg.Bootstraps {
		if a == "" {
			continue
		}
		n.wg.Add(1)
		go n.dialWithBackoff(a)
	}
	return nil
}

// Stop shuts the node down and waits for its loops to exit.
func (n *Node) Stop() error {
	n.cancel()
	err := n.cfg.Network.Close()

	n.mu.Lock()
	for _, s := range n.sessions {
		s.close()
	}
	n.mu.Unlock()

	n.wg.Wait()
	return err
}

// SessionCount returns the number of established sessions.
func (n *Node) SessionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sessions)
}

// SessionIDs returns a snapshot of connected peer IDs.
func (n *Node) SessionIDs() []netx.PeerID {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ids := make([]netx.PeerID, 0, len(n.sessions))
	for id := range n.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (n *Node) hasSession(id netx.PeerID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.sessions[id]
	return ok
}

// Put authors a new value locally and pushes it to all connected peers.
func (n *Node) Put(key string, value []byte) {
	n.broadcastEntry(n.engine.Put(key, value))
}

// Delete tombstones a key locally and pushes the tombstone out.
func (n *Node) Delete(key string) {
	n.broadcastEntry(n.engine.Delete(key))
}

// broadcastEntry fans a freshly authored entry out to every session as a
// single-entry SyncData. Receivers apply it idempotently; anti-entropy
// rounds cover anyone we miss.
func (n *Node) broadcastEntry(e wire.Entry) {
	payload := wire.MustMarshal(wire.SyncData{Entries: []wire.Entry{e}, Done: true})

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.sessions {
		n.sendAsync(s, wire.Frame{
			Type:    wire.FrameSyncData,
			From:    n.id.ID,
			Payload: payload,
		})
	}
}

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
		// drop rather than deadlock a read loop
	}
}
