package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRepository(t *testing.T) {
	store := newTestStore(t)
	repo := store.State()
	ctx := context.Background()

	t.Run("absent path returns nil", func(t *testing.T) {
		value, err := repo.Get(ctx, "/state/sync/none")
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "/state/a", json.RawMessage(`{"x":1,"y":2}`)))
		require.NoError(t, repo.Set(ctx, "/state/a", json.RawMessage(`{"x":3}`)))

		value, err := repo.Get(ctx, "/state/a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"x":3}`, string(value))
	})

	t.Run("patch merges fields", func(t *testing.T) {
		require.NoError(t, repo.Patch(ctx, "/state/b", json.RawMessage(`{"lastUpdated":10}`)))
		require.NoError(t, repo.Patch(ctx, "/state/b", json.RawMessage(`{"oldestDeleted":5}`)))

		value, err := repo.Get(ctx, "/state/b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"lastUpdated":10,"oldestDeleted":5}`, string(value))
	})

	t.Run("advance only raises the field", func(t *testing.T) {
		path := "/state/sync/orders"
		require.NoError(t, repo.Advance(ctx, path, "lastUpdated", 100))
		require.NoError(t, repo.Advance(ctx, path, "oldestDeleted", 40))
		require.NoError(t, repo.Advance(ctx, path, "lastUpdated", 80))
		require.NoError(t, repo.Advance(ctx, path, "lastUpdated", 120))

		value, err := repo.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"lastUpdated":120,"oldestDeleted":40}`, string(value))
	})

	t.Run("concurrent advances of different fields do not clobber", func(t *testing.T) {
		path := "/state/sync/concurrent"
		var wg sync.WaitGroup
		for i := int64(1); i <= 20; i++ {
			wg.Add(2)
			go func(v int64) {
				defer wg.Done()
				assert.NoError(t, repo.Advance(ctx, path, "lastUpdated", v*10))
			}(i)
			go func(v int64) {
				defer wg.Done()
				assert.NoError(t, repo.Advance(ctx, path, "oldestDeleted", v))
			}(i)
		}
		wg.Wait()

		value, err := repo.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"lastUpdated":200,"oldestDeleted":20}`, string(value))
	})

	t.Run("counters", func(t *testing.T) {
		path := "/state/tombstones/count"

		require.NoError(t, repo.AddCounter(ctx, path, 5))
		_, ok, err := repo.GetCounter(ctx, path)
		require.NoError(t, err)
		assert.False(t, ok, "adding to an unset counter must leave it unset")

		require.NoError(t, repo.SetCounter(ctx, path, 3))
		require.NoError(t, repo.AddCounter(ctx, path, 4))
		value, ok, err := repo.GetCounter(ctx, path)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(7), value)

		require.NoError(t, repo.AddCounter(ctx, path, -10))
		value, _, err = repo.GetCounter(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, int64(0), value)
	})
}
