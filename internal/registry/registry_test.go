package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/softadastra/softadastra-net/internal/netx"
)

func testConfig() Config {
	return Config{
		SuspectAfter: 100 * time.Millisecond,
		DeadAfter:    100 * time.Millisecond,
		Grace:        200 * time.Millisecond,
	}
}

func TestUpsertNeverDuplicates(t *testing.T) {
	r := New("self", testConfig())

	if !r.Upsert(Record{ID: "p1", Addr: "127.0.0.1:9001"}) {
		t.Fatal("first upsert should report a new peer")
	}
	// repeated merges of the same peer, as gossiped PeerLists produce
	for i := 0; i < 10; i++ {
		if r.Upsert(Record{ID: "p1", Addr: "127.0.0.1:9001"}) {
			t.Fatal("repeat upsert reported a new peer")
		}
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestUpsertIgnoresSelfAndEmpty(t *testing.T) {
	r := New("self", testConfig())
	if r.Upsert(Record{ID: "self"}) {
		t.Fatal("upsert of self should be ignored")
	}
	if r.Upsert(Record{}) {
		t.Fatal("upsert of empty ID should be ignored")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestUpsertRefreshesAddrWithoutResurrecting(t *testing.T) {
	r := New("self", testConfig())
	r.Upsert(Record{ID: "p1", Addr: "old:1"})
	r.MarkDead("p1")

	r.Upsert(Record{ID: "p1", Addr: "new:2"})

	rec, ok := r.Get("p1")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Addr != "new:2" {
		t.Fatalf("Addr = %s, want new:2", rec.Addr)
	}
	if rec.State != StateDead {
		t.Fatalf("State = %s; upsert must not resurrect the dead", rec.State)
	}
}

func TestLivenessTransitions(t *testing.T) {
	cfg := testConfig()
	r := New("self", cfg)
	r.Upsert(Record{ID: "p1", Addr: "a:1"})

	now := time.Now()

	// Alive -> Suspect after SuspectAfter of silence.
	r.Sweep(now.Add(cfg.SuspectAfter + 10*time.Millisecond))
	if rec, _ := r.Get("p1"); rec.State != StateSuspect {
		t.Fatalf("State = %s, want suspect", rec.State)
	}

	// Any frame revives Suspect -> Alive.
	r.MarkSeen("p1")
	if rec, _ := r.Get("p1"); rec.State != StateAlive {
		t.Fatalf("State = %s, want alive after MarkSeen", rec.State)
	}

	// Silence through both timeouts: Suspect, then Dead.
	r.Sweep(now.Add(cfg.SuspectAfter + 20*time.Millisecond))
	died := r.Sweep(now.Add(cfg.SuspectAfter + cfg.DeadAfter + 30*time.Millisecond))
	if len(died) != 1 || died[0] != netx.PeerID("p1") {
		t.Fatalf("Sweep died = %v, want [p1]", died)
	}
	if rec, _ := r.Get("p1"); rec.State != StateDead {
		t.Fatalf("State = %s, want dead", rec.State)
	}
}

func TestDeadPeerEvictedAfterGrace(t *testing.T) {
	cfg := testConfig()
	r := New("self", cfg)
	r.Upsert(Record{ID: "p1", Addr: "a:1"})
	r.MarkDead("p1")

	if r.Dialable("p1") {
		t.Fatal("dead peer should not be dialable during grace")
	}

	r.Sweep(time.Now().Add(cfg.Grace + 10*time.Millisecond))
	if _, ok := r.Get("p1"); ok {
		t.Fatal("dead record survived its grace period")
	}
	// evicted means unknown, and unknown is dialable again
	if !r.Dialable("p1") {
		t.Fatal("evicted peer should be dialable")
	}
}

func TestMarkSeenUnknownPeerIsNoop(t *testing.T) {
	r := New("self", testConfig())
	r.MarkSeen("ghost")
	if r.Len() != 0 {
		t.Fatal("MarkSeen must not create records")
	}
}

func TestListAliveExcludesOthers(t *testing.T) {
	r := New("self", testConfig())
	r.Upsert(Record{ID: "a", Addr: "a:1"})
	r.Upsert(Record{ID: "b", Addr: "b:1"})
	r.Upsert(Record{ID: "c", Addr: "c:1"})
	r.MarkSuspect("b")
	r.MarkDead("c")

	alive := r.ListAlive()
	if len(alive) != 1 || alive[0].ID != "a" {
		t.Fatalf("ListAlive = %v, want just a", alive)
	}

	counts := r.CountByState()
	if counts[StateAlive] != 1 || counts[StateSuspect] != 1 || counts[StateDead] != 1 {
		t.Fatalf("CountByState = %v", counts)
	}
}

func TestMarkSuspectOnlyDowngradesAlive(t *testing.T) {
	r := New("self", testConfig())
	r.Upsert(Record{ID: "p1", Addr: "a:1"})
	r.MarkDead("p1")

	r.MarkSuspect("p1")
	if rec, _ := r.Get("p1"); rec.State != StateDead {
		t.Fatalf("State = %s; MarkSuspect must not override Dead", rec.State)
	}
}

func TestDialableAddrTracksDeadPeers(t *testing.T) {
	cfg := testConfig()
	r := New("self", cfg)
	r.Upsert(Record{ID: "p1", Addr: "a:1"})

	if !r.DialableAddr("a:1") {
		t.Fatal("alive peer's address should be dialable")
	}
	r.MarkDead("p1")
	if r.DialableAddr("a:1") {
		t.Fatal("dead peer's address should not be dialable during grace")
	}
	if !r.DialableAddr("b:2") {
		t.Fatal("unknown address should be dialable")
	}

	r.Sweep(time.Now().Add(cfg.Grace + 10*time.Millisecond))
	if !r.DialableAddr("a:1") {
		t.Fatal("evicted peer's address should be dialable again")
	}
}

func makePeerID(i int) netx.PeerID {
	return netx.PeerID(fmt.Sprintf("peer-%03d", i))
}
