package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rifttrack/tracker/bittorrent"
)

func newTestStore(t *testing.T) *whitelistStore {
	path := filepath.Join(t.TempDir(), "whitelist.db")
	ws, err := New(Config{Path: path})
	require.NoError(t, err)
	s := ws.(*whitelistStore)
	t.Cleanup(func() { s.Close() })
	return s
}

var testHash = bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")

func TestAddThenHasInfoHash(t *testing.T) {
	ws := newTestStore(t)
	ctx := context.Background()

	ok, err := ws.HasInfoHash(ctx, testHash)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ws.AddInfoHash(ctx, testHash))

	ok, err = ws.HasInfoHash(ctx, testHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemoveInfoHash(t *testing.T) {
	ws := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ws.AddInfoHash(ctx, testHash))
	require.NoError(t, ws.RemoveInfoHash(ctx, testHash))

	ok, err := ws.HasInfoHash(ctx, testHash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.db")
	ctx := context.Background()

	ws, err := New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, ws.AddInfoHash(ctx, testHash))
	require.NoError(t, ws.(*whitelistStore).Close())

	reopened, err := New(Config{Path: path})
	require.NoError(t, err)
	defer reopened.(*whitelistStore).Close()

	ok, err := reopened.HasInfoHash(ctx, testHash)
	require.NoError(t, err)
	assert.True(t, ok)
}
