package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	t.Run("marks once", func(t *testing.T) {
		first, err := store.MarkProcessed(ctx, "evt-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, first)

		again, err := store.MarkProcessed(ctx, "evt-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, again)

		seen, err := store.IsProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("expires after ttl", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		seen, _ := store.IsProcessed(ctx, "evt-1")
		assert.False(t, seen)

		store.sweep()
		assert.Equal(t, 0, store.Size())

		first, _ := store.MarkProcessed(ctx, "evt-1", time.Minute)
		assert.True(t, first)
	})

	t.Run("forget allows remarking", func(t *testing.T) {
		require.NoError(t, store.Forget(ctx, "evt-1"))
		first, _ := store.MarkProcessed(ctx, "evt-1", time.Minute)
		assert.True(t, first)
	})
}

func TestInMemoryIdempotencyStore_Concurrent(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.MarkProcessed(context.Background(), "shared", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Millisecond)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestNewIdempotencyStore_FallsBack(t *testing.T) {
	store := NewIdempotencyStore(context.Background(), config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}, zap.NewNop())
	defer store.Close()
	_, ok := store.(*InMemoryIdempotencyStore)
	assert.True(t, ok)

	disabled := NewIdempotencyStore(context.Background(), config.RedisConfig{}, zap.NewNop())
	defer disabled.Close()
	_, ok = disabled.(*InMemoryIdempotencyStore)
	assert.True(t, ok)
}
