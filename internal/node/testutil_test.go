package node

import (
	"bytes"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/antientropy"
	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/registry"
	"github.com/softadastra/softadastra-net/internal/state"
)

type nodeTestOpt func(*Config)

func withBootstraps(addrs ...netx.Addr) nodeTestOpt {
	return func(cfg *Config) { cfg.Bootstraps = addrs }
}

func withGossipInterval(d time.Duration) nodeTestOpt {
	return func(cfg *Config) { cfg.GossipInterval = d }
}

func withLogger(l *zap.Logger) nodeTestOpt {
	return func(cfg *Config) { cfg.Logger = l }
}

func withReadTimeout(d time.Duration) nodeTestOpt {
	return func(cfg *Config) { cfg.ReadTimeout = d }
}

// newTestNode spins up a node on an ephemeral localhost port with fast
// gossip and generous liveness timeouts, and auto-stops it.
func newTestNode(t *testing.T, name string, opts ...nodeTestOpt) (*Node, *state.Store) {
	t.Helper()

	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity(%s): %v", name, err)
	}
	store := state.NewStore(id.ID)
	engine := antientropy.New(store, nil, nil)

	cfg := Config{
		Name:           name,
		Network:        netx.NewTCPNetwork(),
		BindAddr:       "127.0.0.1:0",
		Identity:       id,
		Protocol:       "test/0",
		Logger:         zap.NewNop(),
		GossipInterval: 150 * time.Millisecond,
		Liveness: registry.Config{
			SuspectAfter: 30 * time.Second,
			DeadAfter:    30 * time.Second,
			Grace:        time.Minute,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	n, err := New(cfg, engine)
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start(%s): %v", name, err)
	}
	t.Cleanup(func() { _ = n.Stop() })
	return n, store
}

func waitSessions(t *testing.T, n *Node, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.SessionCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for sessions: node=%s have=%d want=%d",
		n.Name(), n.SessionCount(), want)
}

func waitValue(t *testing.T, s *state.Store, key string, want []byte, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got, ok := s.Get(key); ok && bytes.Equal(got, want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, ok := s.Get(key)
	t.Fatalf("timed out waiting for %q: got %q,%v want %q", key, got, ok, want)
}

func waitPeerState(t *testing.T, n *Node, id netx.PeerID, want registry.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if rec, ok := n.Registry().Get(id); ok && rec.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, ok := n.Registry().Get(id)
	t.Fatalf("timed out waiting for peer state %s: known=%v state=%s", want, ok, rec.State)
}

func waitGone(t *testing.T, s *state.Store, key string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := s.Get(key); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q to disappear", key)
}
