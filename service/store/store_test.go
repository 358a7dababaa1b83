package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv KV) {
	ctx := context.Background()

	_, err := kv.Get(ctx, KeyAuthToken)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, KeyDeviceID, "device-1"))
	got, err := kv.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "device-1", got)

	require.NoError(t, kv.SetMany(ctx, map[string]string{
		KeyAuthToken:          "tok",
		KeyAuthTokenExpiresAt: "2030-01-01T00:00:00Z",
	}))
	got, err = kv.Get(ctx, KeyAuthTokenExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, "2030-01-01T00:00:00Z", got)

	require.NoError(t, kv.Delete(ctx, KeyAuthToken, KeyAuthTokenExpiresAt, "never-set"))
	_, err = kv.Get(ctx, KeyAuthToken)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.Get(ctx, KeyAuthTokenExpiresAt)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = kv.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "device-1", got)
}

func TestMemoryStore(t *testing.T) {
	exerciseKV(t, NewMemoryStore())
}

func TestPebbleStore(t *testing.T) {
	s, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	exerciseKV(t, s)
}

func TestPebbleStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenPebble(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyAuthToken, "persisted"))
	require.NoError(t, s.Close())

	s, err = OpenPebble(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, KeyAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}
