package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/models"
)

func TestWatermarkStore_Patches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	listener := &recordingListener{}
	env.watermarks.Subscribe(listener)

	_, found, err := env.watermarks.Get(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, env.watermarks.PatchLastUpdated(ctx, "orders", 100))
	require.NoError(t, env.watermarks.PatchOldestDeleted(ctx, "orders", 40))

	wm, found, err := env.watermarks.Get(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(100), wm.LastUpdated)
	require.NotNil(t, wm.OldestDeleted)
	assert.Equal(t, int64(40), *wm.OldestDeleted)

	t.Run("never lowers a field", func(t *testing.T) {
		require.NoError(t, env.watermarks.PatchLastUpdated(ctx, "orders", 50))
		require.NoError(t, env.watermarks.PatchOldestDeleted(ctx, "orders", 10))

		wm := env.watermark(t, "orders")
		assert.Equal(t, int64(100), wm.LastUpdated)
		assert.Equal(t, int64(40), *wm.OldestDeleted)
	})

	t.Run("notifies listeners", func(t *testing.T) {
		changes := listener.Changes()
		require.GreaterOrEqual(t, len(changes), 2)
		assert.Equal(t, "orders", changes[0].Collection)
		assert.Equal(t, int64(100), *changes[0].LastUpdated)
		assert.Nil(t, changes[0].OldestDeleted)
	})

	t.Run("collections are independent", func(t *testing.T) {
		_, found, err := env.watermarks.Get(ctx, "customers")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestWatermarkStore_ConcurrentPatchesStayMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func(v int64) {
			defer wg.Done()
			assert.NoError(t, env.watermarks.PatchLastUpdated(ctx, "orders", v*10))
		}(int64(i))
		go func(v int64) {
			defer wg.Done()
			assert.NoError(t, env.watermarks.PatchOldestDeleted(ctx, "orders", v))
		}(int64(i))
	}
	wg.Wait()

	wm := env.watermark(t, "orders")
	assert.Equal(t, int64(200), wm.LastUpdated)
	require.NotNil(t, wm.OldestDeleted)
	assert.Equal(t, int64(20), *wm.OldestDeleted)
}

func TestWatermarkStore_Bootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds from the latest record", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.store.Documents().Upsert(ctx, "orders", []*models.Record{
			{ID: "o1", Version: "1.2.0", CreatedAt: 100, UpdatedAt: 100, Payload: []byte(`{}`)},
			{ID: "o2", Version: "1.2.0", CreatedAt: 500, UpdatedAt: 500, Payload: []byte(`{}`)},
			{ID: "o3", Version: "1.2.0", CreatedAt: 300, UpdatedAt: 300, Payload: []byte(`{}`)},
		}))

		wm, err := env.watermarks.Bootstrap(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, int64(500), wm.LastUpdated)
		assert.Nil(t, wm.OldestDeleted)

		_, found, err := env.watermarks.Get(ctx, "orders")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("seeds zero for an empty collection", func(t *testing.T) {
		env := newTestEnv(t)

		wm, err := env.watermarks.Bootstrap(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, int64(0), wm.LastUpdated)

		_, found, err := env.watermarks.Get(ctx, "orders")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("keeps an existing watermark", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.watermarks.PatchLastUpdated(ctx, "orders", 42))
		require.NoError(t, env.store.Documents().Upsert(ctx, "orders", []*models.Record{
			{ID: "o1", Version: "1.2.0", CreatedAt: 900, UpdatedAt: 900, Payload: []byte(`{}`)},
		}))

		wm, err := env.watermarks.Bootstrap(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, int64(42), wm.LastUpdated)
	})
}
