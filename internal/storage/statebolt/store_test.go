package statebolt

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/softadastra/softadastra-net/internal/wire"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutEntryLoadAll(t *testing.T) {
	s := newTestStore(t)

	want := []wire.Entry{
		{Key: "a", Value: []byte("1"), Origin: "p1", Counter: 1},
		{Key: "b", Origin: "p2", Counter: 4, Tombstone: true},
	}
	for _, e := range want {
		if err := s.PutEntry(e); err != nil {
			t.Fatalf("PutEntry(%s): %v", e.Key, err)
		}
	}

	got := map[string]wire.Entry{}
	if err := s.LoadAll(func(e wire.Entry) error {
		got[e.Key] = e
		return nil
	}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(want))
	}
	for _, w := range want {
		g, ok := got[w.Key]
		if !ok {
			t.Fatalf("missing key %s", w.Key)
		}
		if !bytes.Equal(g.Value, w.Value) || g.Origin != w.Origin ||
			g.Counter != w.Counter || g.Tombstone != w.Tombstone {
			t.Fatalf("entry %s: got %+v want %+v", w.Key, g, w)
		}
	}
}

func TestPutEntryOverwritesOlderVersion(t *testing.T) {
	s := newTestStore(t)

	_ = s.PutEntry(wire.Entry{Key: "k", Value: []byte("old"), Origin: "p", Counter: 1})
	_ = s.PutEntry(wire.Entry{Key: "k", Value: []byte("new"), Origin: "p", Counter: 2})

	count := 0
	_ = s.LoadAll(func(e wire.Entry) error {
		count++
		if !bytes.Equal(e.Value, []byte("new")) {
			t.Fatalf("loaded stale value %q", e.Value)
		}
		return nil
	})
	if count != 1 {
		t.Fatalf("loaded %d entries, want 1 (one entry per key)", count)
	}
}

func TestPutEntryRejectsEmptyKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutEntry(wire.Entry{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// missing vector reads as empty
	v, err := s.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if len(v) != 0 {
		t.Fatalf("fresh store vector = %v, want empty", v)
	}

	want := wire.Vector{"p1": 12, "p2": 3}
	if err := s.PutVector(want); err != nil {
		t.Fatalf("PutVector: %v", err)
	}

	got, err := s.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if got["p1"] != 12 || got["p2"] != 3 || len(got) != 2 {
		t.Fatalf("vector = %v, want %v", got, want)
	}
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.PutEntry(wire.Entry{Key: "k", Value: []byte("v"), Origin: "p", Counter: 7})
	_ = s.PutVector(wire.Vector{"p": 7})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, _ := s2.Vector()
	if v["p"] != 7 {
		t.Fatalf("vector after reopen = %v", v)
	}
	found := false
	_ = s2.LoadAll(func(e wire.Entry) error {
		found = e.Key == "k" && e.Counter == 7
		return nil
	})
	if !found {
		t.Fatal("entry lost across reopen")
	}
}
