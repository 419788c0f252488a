package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/middleware"
	"github.com/rifttrack/tracker/store/keystore"
)

func newTestStore(t *testing.T) middleware.KeyStore {
	ks, err := New(Config{DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	return ks
}

func TestAddKeyThenIsValid(t *testing.T) {
	ks := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ks.AddKey(ctx, bittorrent.AuthKey{Key: "abc123"}))

	valid, err := ks.IsValid(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestExpiredKeyIsInvalid(t *testing.T) {
	ks := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ks.AddKey(ctx, bittorrent.AuthKey{
		Key: "expired", HasExpiry: true, ValidUntil: time.Now().Add(-time.Minute),
	}))

	valid, err := ks.IsValid(ctx, "expired", time.Now())
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestRemoveKey(t *testing.T) {
	ks := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ks.AddKey(ctx, bittorrent.AuthKey{Key: "abc123"}))
	require.NoError(t, ks.RemoveKey(ctx, "abc123"))
	assert.Equal(t, keystore.ErrKeyNotFound, ks.RemoveKey(ctx, "abc123"))
}
