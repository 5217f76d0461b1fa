package subscription

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

const (
	keyPrefix     = "sub:"
	keyUpperBound = "sub;" // ';' sorts right after ':'
)

// PebbleStore keeps one pebble key per subscribed user.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) a pebble database in dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble subscriptions at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func subKey(userID string) []byte {
	return []byte(keyPrefix + userID)
}

// Load scans every key under the subscription prefix.
func (s *PebbleStore) Load() (map[string]Endpoint, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpperBound),
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[string]Endpoint)
	for iter.First(); iter.Valid(); iter.Next() {
		userID := string(iter.Key()[len(keyPrefix):])
		out[userID] = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

// Upsert writes ep for userID with a synced write.
func (s *PebbleStore) Upsert(userID string, ep Endpoint) error {
	if err := s.db.Set(subKey(userID), ep, pebble.Sync); err != nil {
		return fmt.Errorf("store subscription %s: %w", userID, err)
	}
	return nil
}

// Delete removes the key for userID.
func (s *PebbleStore) Delete(userID string) error {
	if err := s.db.Delete(subKey(userID), pebble.Sync); err != nil {
		return fmt.Errorf("delete subscription %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
