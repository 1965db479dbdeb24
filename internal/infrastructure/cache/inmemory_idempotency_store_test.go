package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSeenFirstAndDuplicate(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	isNew, err := store.MarkSeen(ctx, "cmd-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkSeen(ctx, "cmd-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, isNew)

	seen, err := store.IsSeen(ctx, "cmd-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.IsSeen(ctx, "cmd-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMarkSeenExpiredKeyIsNewAgain(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.MarkSeen(ctx, "cmd-1", -time.Second)
	require.NoError(t, err)

	seen, err := store.IsSeen(ctx, "cmd-1")
	require.NoError(t, err)
	assert.False(t, seen)

	isNew, err := store.MarkSeen(ctx, "cmd-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestCleanupRemovesExpiredEntries(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.MarkSeen(ctx, "stale", -time.Second)
	require.NoError(t, err)
	_, err = store.MarkSeen(ctx, "fresh", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, store.Size())

	store.cleanup()
	assert.Equal(t, 1, store.Size())
}

func TestCloseIsIdempotent(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
