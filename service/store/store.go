// Package store persists small pieces of on-device state (the auth token,
// its expiry and the install's device identifier) across process restarts.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when a key has never been set or was deleted.
var ErrNotFound = errors.New("store: key not found")

// Well-known keys.
const (
	KeyAuthToken          = "auth_token"
	KeyAuthTokenExpiresAt = "auth_token_expires_at"
	KeyDeviceID           = "device_id"
)

// KV is a string key/value store. SetMany applies all entries atomically.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryStore is an in-process KV, used by tests and by the CLI when no
// state directory is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) SetMany(ctx context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

var _ KV = (*MemoryStore)(nil)
