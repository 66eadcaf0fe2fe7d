package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/softadastra/softadastra-net/internal/netx"
)

type State uint8

const (
	StateAlive State = iota
	StateSuspect
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Record is the registry's view of one peer.
type Record struct {
	ID       netx.PeerID
	Addr     netx.Addr
	Name     string
	State    State
	LastSeen time.Time
	// DeadSince is set when the record transitions to StateDead and
	// starts the eviction grace period.
	DeadSince time.Time
}

// Config holds the liveness timing knobs. All immutable after start.
type Config struct {
	// SuspectAfter is how long without a frame before Alive -> Suspect.
	SuspectAfter time.Duration
	// DeadAfter is how long a Suspect peer may stay silent before Dead.
	DeadAfter time.Duration
	// Grace is how long a Dead record is retained before eviction.
	Grace time.Duration
}

func DefaultConfig() Config {
	return Config{
		SuspectAfter: 15 * time.Second,
		DeadAfter:    30 * time.Second,
		Grace:        2 * time.Minute,
	}
}

// Registry tracks known peers and their liveness. Every mutation goes
// through the single mutex so concurrent connections cannot lose updates.
type Registry struct {
	mu    sync.RWMutex
	cfg   Config
	self  netx.PeerID
	peers map[netx.PeerID]*Record
}

func New(self netx.PeerID, cfg Config) *Registry {
	return &Registry{
		cfg:   cfg,
		self:  self,
		peers: make(map[netx.PeerID]*Record),
	}
}

// Upsert inserts or refreshes a record. It returns true if the peer was
// previously unknown. Liveness state is owned by the registry: an upsert
// of a known peer refreshes address/name but does not resurrect the dead.
func (r *Registry) Upsert(rec Record) bool {
	if rec.ID == "" || rec.ID == r.self {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.peers[rec.ID]
	if ok {
		if rec.Addr != "" {
			cur.Addr = rec.Addr
		}
		if rec.Name != "" {
			cur.Name = rec.Name
		}
		return false
	}

	now := time.Now()
	r.peers[rec.ID] = &Record{
		ID:       rec.ID,
		Addr:     rec.Addr,
		Name:     rec.Name,
		State:    StateAlive,
		LastSeen: now,
	}
	return true
}

// MarkSeen records frame arrival from a peer. Any frame revives a Suspect
// back to Alive.
func (r *Registry) MarkSeen(id netx.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok {
		return
	}
	rec.LastSeen = time.Now()
	if rec.State == StateSuspect {
		rec.State = StateAlive
	}
}

// MarkDead forces a peer to Dead, starting its grace period.
func (r *Registry) MarkDead(id netx.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok || rec.State == StateDead {
		return
	}
	rec.State = StateDead
	rec.DeadSince = time.Now()
}

// MarkSuspect downgrades an Alive peer after a transport or protocol
// error. Suspect and Dead peers are left as they are.
func (r *Registry) MarkSuspect(id netx.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok || rec.State != StateAlive {
		return
	}
	rec.State = StateSuspect
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id netx.PeerID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ListAlive returns copies of all Alive records, sorted by ID for
// deterministic iteration.
func (r *Registry) ListAlive() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.peers))
	for _, rec := range r.peers {
		if rec.State == StateAlive {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns copies of every record regardless of state.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracked peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Dialable reports whether id may be dialed right now. Unknown peers are
// dialable; Dead peers are not until their grace period elapses (at which
// point Sweep evicts them and they become unknown again).
func (r *Registry) Dialable(id netx.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[id]
	if !ok {
		return true
	}
	return rec.State != StateDead
}

// DialableAddr reports whether addr may be dialed. An address whose
// record is Dead waits out the grace period like the peer itself;
// unknown addresses are dialable.
func (r *Registry) DialableAddr(addr netx.Addr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.peers {
		if rec.Addr == addr && rec.State == StateDead {
			return false
		}
	}
	return true
}

// Sweep drives the timeout transitions: Alive -> Suspect after
// SuspectAfter of silence, Suspect -> Dead after DeadAfter more, and Dead
// records are evicted once their grace period has passed. It returns the
// IDs that transitioned to Dead so the caller can tear down sessions.
func (r *Registry) Sweep(now time.Time) []netx.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var died []netx.PeerID
	for id, rec := range r.peers {
		switch rec.State {
		case StateAlive:
			if now.Sub(rec.LastSeen) > r.cfg.SuspectAfter {
				rec.State = StateSuspect
			}
		case StateSuspect:
			if now.Sub(rec.LastSeen) > r.cfg.SuspectAfter+r.cfg.DeadAfter {
				rec.State = StateDead
				rec.DeadSince = now
				died = append(died, id)
			}
		case StateDead:
			if now.Sub(rec.DeadSince) > r.cfg.Grace {
				delete(r.peers, id)
			}
		}
	}
	return died
}

// CountByState returns how many peers are in each state, for telemetry.
func (r *Registry) CountByState() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[State]int, 3)
	for _, rec := range r.peers {
		out[rec.State]++
	}
	return out
}
