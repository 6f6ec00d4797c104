// Package consumerstore implements consumer.StateStore on top of a single
// embedded Pebble instance per storage directory, keyed by
// (indexName, consumerName).
package consumerstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store is a Pebble-backed consumer.StateStore.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) the Pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("consumerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying Pebble database.
func (s *Store) Close() error {
	return s.db.Close()
}

func stateKey(indexName, consumerName string) []byte {
	return []byte("cursor/" + indexName + "/" + consumerName)
}

// Load returns the persisted position for (indexName, consumerName), or
// ok=false if nothing has been committed yet.
func (s *Store) Load(indexName, consumerName string) (position int64, ok bool, err error) {
	val, closer, err := s.db.Get(stateKey(indexName, consumerName))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("consumerstore: load: %w", err)
	}
	defer closer.Close()
	if len(val) < 8 {
		return 0, false, fmt.Errorf("consumerstore: corrupt state record for %s/%s", indexName, consumerName)
	}
	return int64(binary.BigEndian.Uint64(val[:8])), true, nil
}

// Commit persists position for (indexName, consumerName). A position lower
// than or equal to what's already stored is a no-op.
func (s *Store) Commit(indexName, consumerName string, position int64) error {
	key := stateKey(indexName, consumerName)
	current, ok, err := s.Load(indexName, consumerName)
	if err != nil {
		return err
	}
	if ok && position <= current {
		return nil
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(position))
	if err := s.db.Set(key, buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("consumerstore: commit: %w", err)
	}
	return nil
}
