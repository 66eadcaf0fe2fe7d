// Package antientropy reconciles the versioned key/value state with other
// peers. Each side of a session sends its version vector; the other side
// streams back only the entries that vector is missing or stale on.
// Conflicts resolve by logical clock, deterministically on every node, so
// a sync round is safe to repeat, interleave, or cut short.
package antientropy

import (
	"sync"

	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/state"
	"github.com/softadastra/softadastra-net/internal/telemetry"
	"github.com/softadastra/softadastra-net/internal/wire"
)

// batchSize caps the entries per SyncData frame so a single round never
// produces an oversized frame.
const batchSize = 128

// Persistence is what the engine needs from durable storage. statebolt
// implements it; a nil Persistence keeps the engine memory-only.
type Persistence interface {
	PutEntry(e wire.Entry) error
	PutVector(v wire.Vector) error
	Vector() (wire.Vector, error)
	LoadAll(fn func(e wire.Entry) error) error
}

type Engine struct {
	store *state.Store
	disk  Persistence
	log   *zap.Logger

	// ack tracks how far each origin's entries have durably landed on
	// disk. It is what gets persisted as the vector: the in-memory
	// vector can run ahead of it whenever a PutEntry fails, and an
	// origin with a failed write is frozen so the persisted watermark
	// never claims an entry the disk does not hold.
	mu     sync.Mutex
	ack    wire.Vector
	frozen map[netx.PeerID]struct{}
}

func New(store *state.Store, disk Persistence, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:  store,
		disk:   disk,
		log:    log.Named("sync"),
		ack:    make(wire.Vector),
		frozen: make(map[netx.PeerID]struct{}),
	}
}

// Load restores persisted entries and the acknowledged vector into the
// in-memory store. Called once before the node starts accepting traffic.
func (e *Engine) Load() error {
	if e.disk == nil {
		return nil
	}
	if err := e.disk.LoadAll(func(ent wire.Entry) error {
		e.store.Apply(ent)
		e.observeAck(ent.Origin, ent.Counter)
		return nil
	}); err != nil {
		return err
	}
	vec, err := e.disk.Vector()
	if err != nil {
		return err
	}
	// The persisted vector can be ahead of the persisted entries (an
	// entry can lose its clock comparison yet still count as seen).
	for origin, counter := range vec {
		e.store.ApplyWatermark(origin, counter)
		e.observeAck(origin, counter)
	}
	return nil
}

// Request builds the SyncRequest that opens a round with a peer.
func (e *Engine) Request() wire.SyncRequest {
	return wire.SyncRequest{Vector: e.store.Vector()}
}

// Respond answers a peer's SyncRequest with a batched stream of SyncData.
// The last batch carries Done; an up-to-date peer gets a single empty
// Done batch so both sides agree the round is over.
func (e *Engine) Respond(req wire.SyncRequest) []wire.SyncData {
	missing := e.store.EntriesSince(req.Vector)

	if len(missing) == 0 {
		return []wire.SyncData{{Done: true}}
	}

	var out []wire.SyncData
	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		out = append(out, wire.SyncData{
			Entries: missing[start:end],
			Done:    end == len(missing),
		})
	}
	return out
}

// Apply merges one SyncData batch. Entries that lose their clock
// comparison are conflicts already resolved; they advance the vector but
// not the state. Applying the same batch twice is a no-op. Malformed
// entries (empty key) are dropped without advancing any watermark, so
// the sender's copy is never marked as seen.
func (e *Engine) Apply(d wire.SyncData) int {
	applied := 0
	for _, ent := range d.Entries {
		if ent.Key == "" {
			e.log.Warn("dropping entry with empty key",
				zap.String("origin", string(ent.Origin)),
				zap.Uint64("counter", ent.Counter))
			continue
		}
		if e.store.Apply(ent) {
			applied++
			telemetry.SyncEntriesApplied.Inc()
			e.persistEntry(ent)
		} else {
			telemetry.SyncConflictsResolved.Inc()
			e.observeAck(ent.Origin, ent.Counter)
			e.log.Debug("conflict resolved",
				zap.String("key", ent.Key),
				zap.String("origin", string(ent.Origin)),
				zap.Uint64("counter", ent.Counter))
		}
	}
	if len(d.Entries) > 0 {
		e.persistVector()
	}
	return applied
}

// Put authors a new local version and returns the entry for broadcast.
func (e *Engine) Put(key string, value []byte) wire.Entry {
	ent := e.store.Put(key, value)
	e.persistEntry(ent)
	e.persistVector()
	return ent
}

// Delete authors a tombstone and returns it for broadcast.
func (e *Engine) Delete(key string) wire.Entry {
	ent := e.store.Delete(key)
	e.persistEntry(ent)
	e.persistVector()
	return ent
}

// persistEntry writes one entry to disk and advances the durable
// watermark only if the write succeeded. A failed write freezes the
// origin: its persisted watermark stays put until a restart, so peers
// re-send what the disk never held.
func (e *Engine) persistEntry(ent wire.Entry) {
	if e.disk == nil {
		e.observeAck(ent.Origin, ent.Counter)
		return
	}
	if err := e.disk.PutEntry(ent); err != nil {
		e.log.Warn("persist entry", zap.String("key", ent.Key), zap.Error(err))
		e.freezeAck(ent.Origin)
		return
	}
	e.observeAck(ent.Origin, ent.Counter)
}

func (e *Engine) observeAck(origin netx.PeerID, counter uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, bad := e.frozen[origin]; bad {
		return
	}
	e.ack.Observe(origin, counter)
}

func (e *Engine) freezeAck(origin netx.PeerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frozen[origin] = struct{}{}
}

func (e *Engine) persistVector() {
	if e.disk == nil {
		return
	}
	e.mu.Lock()
	v := e.ack.Clone()
	e.mu.Unlock()
	if err := e.disk.PutVector(v); err != nil {
		e.log.Warn("persist vector", zap.Error(err))
	}
}
