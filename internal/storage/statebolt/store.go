package statebolt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/softadastra/softadastra-net/internal/wire"
)

const (
	bMeta    = "meta"
	bEntries = "entries_by_key"
	kVector  = "vector"

	defaultTO = 2 * time.Second
)

// Store is a BoltDB-backed persistence layer for replicated entries and
// the acknowledged version vector, so a restarted node resumes sync from
// where it left off instead of replaying the world.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) a BoltDB database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bMeta)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bEntries)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutEntry persists the current version of an entry, overwriting any
// older version of the same key.
func (s *Store) PutEntry(e wire.Entry) error {
	if e.Key == "" {
		return errors.New("missing entry key")
	}
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bEntries)).Put([]byte(e.Key), val)
	})
}

// PutVector persists the acknowledged version vector.
func (s *Store) PutVector(v wire.Vector) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bMeta)).Put([]byte(kVector), val)
	})
}

// Vector loads the persisted version vector. A missing vector is an empty
// one, not an error.
func (s *Store) Vector() (wire.Vector, error) {
	out := make(wire.Vector)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bMeta)).Get([]byte(kVector))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &out)
	})
	return out, err
}

// LoadAll streams every persisted entry through fn.
func (s *Store) LoadAll(fn func(e wire.Entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bEntries)).Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var e wire.Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				// skip corrupt entries
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}
