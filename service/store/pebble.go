package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is a KV backed by a pebble database in a local directory.
// Every write is synced before returning.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database at dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Get(ctx context.Context, key string) (string, error) {
	val, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()
	// val is only valid until closer.Close.
	return string(val), nil
}

func (s *PebbleStore) Set(ctx context.Context, key, value string) error {
	if err := s.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) SetMany(ctx context.Context, entries map[string]string) error {
	b := s.db.NewBatch()
	defer b.Close()
	for k, v := range entries {
		if err := b.Set([]byte(k), []byte(v), nil); err != nil {
			return fmt.Errorf("failed to stage %s: %w", k, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) Delete(ctx context.Context, keys ...string) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete([]byte(k), nil); err != nil {
			return fmt.Errorf("failed to stage delete of %s: %w", k, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

var _ KV = (*PebbleStore)(nil)
