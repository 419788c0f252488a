package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/store/keystore"
)

func newTestStore(t *testing.T) *keyStore {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ks, err := New(Config{Addr: mr.Addr()})
	require.NoError(t, err)
	return ks.(*keyStore)
}

func TestAddKeyThenIsValid(t *testing.T) {
	ks := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ks.AddKey(ctx, bittorrent.AuthKey{Key: "abc123"}))

	valid, err := ks.IsValid(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestUnknownKeyIsInvalid(t *testing.T) {
	ks := newTestStore(t)

	valid, err := ks.IsValid(context.Background(), "nope", time.Now())
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestExpiredKeyIsInvalid(t *testing.T) {
	ks := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ks.AddKey(ctx, bittorrent.AuthKey{
		Key: "abc123", HasExpiry: true, ValidUntil: time.Now().Add(-time.Minute),
	}))

	valid, err := ks.IsValid(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestRemoveKey(t *testing.T) {
	ks := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ks.AddKey(ctx, bittorrent.AuthKey{Key: "abc123"}))
	require.NoError(t, ks.RemoveKey(ctx, "abc123"))

	valid, err := ks.IsValid(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.False(t, valid)

	assert.Equal(t, keystore.ErrKeyNotFound, ks.RemoveKey(ctx, "abc123"))
}
