package state

import (
	"sort"
	"sync"

	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/wire"
)

// Compare orders two entries for the same key by logical clock.
// Higher counter wins; a counter tie is broken by origin peer ID so every
// node resolves the same conflict the same way.
func Compare(a, b wire.Entry) int {
	switch {
	case a.Counter > b.Counter:
		return 1
	case a.Counter < b.Counter:
		return -1
	case a.Origin > b.Origin:
		return 1
	case a.Origin < b.Origin:
		return -1
	default:
		return 0
	}
}

// Store holds the replicated key/value state: one entry per key, latest
// clock wins, tombstones retained so deletes are never resurrected.
// All mutations go through a single mutex.
type Store struct {
	mu      sync.RWMutex
	self    netx.PeerID
	entries map[string]wire.Entry
	vector  wire.Vector
}

func NewStore(self netx.PeerID) *Store {
	return &Store{
		self:    self,
		entries: make(map[string]wire.Entry),
		vector:  make(wire.Vector),
	}
}

// nextCounter returns a counter that dominates every clock this node has
// observed, so local writes win against anything already merged.
func (s *Store) nextCounter() uint64 {
	var max uint64
	for _, c := range s.vector {
		if c > max {
			max = c
		}
	}
	return max + 1
}

// Put authors a new version of key and returns the entry for broadcast.
func (s *Store) Put(key string, value []byte) wire.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := wire.Entry{
		Key:     key,
		Value:   append([]byte(nil), value...),
		Origin:  s.self,
		Counter: s.nextCounter(),
	}
	s.entries[key] = e
	s.vector.Observe(e.Origin, e.Counter)
	return e
}

// Delete authors a tombstone for key. The tombstone propagates like any
// other entry.
func (s *Store) Delete(key string) wire.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := wire.Entry{
		Key:       key,
		Origin:    s.self,
		Counter:   s.nextCounter(),
		Tombstone: true,
	}
	s.entries[key] = e
	s.vector.Observe(e.Origin, e.Counter)
	return e
}

// Get returns the live value for key. Tombstoned keys read as absent.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.Tombstone {
		return nil, false
	}
	return append([]byte(nil), e.Value...), true
}

// Apply merges a remote entry. It returns true if the entry changed local
// state, false if it lost the clock comparison or was a replay. The
// version vector advances either way: a losing entry has still been seen.
func (s *Store) Apply(e wire.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vector.Observe(e.Origin, e.Counter)

	cur, ok := s.entries[e.Key]
	if ok && Compare(e, cur) <= 0 {
		return false
	}
	s.entries[e.Key] = e
	return true
}

// ApplyWatermark raises the vector for origin without touching entries.
// Used when restoring a persisted vector that ran ahead of the persisted
// state (entries seen but rejected by clock comparison).
func (s *Store) ApplyWatermark(origin netx.PeerID, counter uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vector.Observe(origin, counter)
}

// Vector returns a copy of the current version vector.
func (s *Store) Vector() wire.Vector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vector.Clone()
}

// EntriesSince returns every entry the given vector has not covered,
// ordered by origin then counter so batches stream in watermark order.
func (s *Store) EntriesSince(v wire.Vector) []wire.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []wire.Entry
	for _, e := range s.entries {
		if !v.Covers(e.Origin, e.Counter) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Origin != out[j].Origin {
			return out[i].Origin < out[j].Origin
		}
		return out[i].Counter < out[j].Counter
	})
	return out
}

// Len counts live (non-tombstoned) keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if !e.Tombstone {
			n++
		}
	}
	return n
}

// Keys returns the live keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.Tombstone {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
