package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/swapper/service/store"
	"github.com/google/uuid"
)

// LoadOrCreateDeviceID returns the install's device identifier, generating
// and persisting a random one on first use.
func LoadOrCreateDeviceID(ctx context.Context, kv store.KV) (string, error) {
	id, err := kv.Get(ctx, store.KeyDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id = uuid.NewString()
	if err := kv.Set(ctx, store.KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
