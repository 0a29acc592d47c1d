package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/models"
)

func recordIDs(records []*models.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestDocumentRepository(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "line_items", []*models.Record{
		record("l1", 100, `{"orderId":"o1","promotionIds":["p1","p2"]}`),
		record("l2", 200, `{"orderId":"o2","promotionIds":["p3"]}`),
		record("l3", 300, `{"orderId":"o1"}`),
		record("l4", 400, `{"orderId":"o3","promotionIds":[]}`),
	}))
	require.NoError(t, repo.Upsert(ctx, "orders", []*models.Record{record("o1", 50, `{"customer":{"id":"c1"}}`)}))

	t.Run("get missing returns nil", func(t *testing.T) {
		got, err := repo.Get(ctx, "line_items", "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		got, err := repo.Get(ctx, "orders", "l1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("upsert keeps created_at and replaces the rest", func(t *testing.T) {
		updated := record("l3", 350, `{"orderId":"o2"}`)
		updated.CreatedAt = 999
		updated.Version = "1.1.0"
		require.NoError(t, repo.Upsert(ctx, "line_items", []*models.Record{updated}))

		got, err := repo.Get(ctx, "line_items", "l3")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(300), got.CreatedAt)
		assert.Equal(t, int64(350), got.UpdatedAt)
		assert.Equal(t, "1.1.0", got.Version)
		assert.JSONEq(t, `{"orderId":"o2"}`, string(got.Payload))
	})

	t.Run("get many", func(t *testing.T) {
		got, err := repo.GetMany(ctx, "line_items", []string{"l2", "l1", "zz"})
		require.NoError(t, err)
		assert.Equal(t, []string{"l1", "l2"}, recordIDs(got))
	})

	t.Run("field in set", func(t *testing.T) {
		got, err := repo.Query(ctx, "line_items", models.Query{
			Filters: []models.Filter{{Field: "orderId", Op: models.OpIn, Values: []string{"o1", "o3"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"l1", "l4"}, recordIDs(got))
	})

	t.Run("nested field in set", func(t *testing.T) {
		got, err := repo.Query(ctx, "orders", models.Query{
			Filters: []models.Filter{{Field: "customer.id", Op: models.OpIn, Values: []string{"c1"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"o1"}, recordIDs(got))
	})

	t.Run("array field intersects set", func(t *testing.T) {
		got, err := repo.Query(ctx, "line_items", models.Query{
			Filters: []models.Filter{{Field: "promotionIds", Op: models.OpIntersects, Values: []string{"p2", "p3"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"l1", "l2"}, recordIDs(got))
	})

	t.Run("updated since is inclusive", func(t *testing.T) {
		since := int64(350)
		got, err := repo.Query(ctx, "line_items", models.Query{UpdatedSince: &since})
		require.NoError(t, err)
		assert.Equal(t, []string{"l3", "l4"}, recordIDs(got))
	})

	t.Run("order and pagination", func(t *testing.T) {
		got, err := repo.Query(ctx, "line_items", models.Query{Order: models.OrderUpdatedDesc, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"l4", "l3"}, recordIDs(got))

		got, err = repo.Query(ctx, "line_items", models.Query{Order: models.OrderByID, Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"l4"}, recordIDs(got))
	})

	t.Run("count ignores pagination", func(t *testing.T) {
		count, err := repo.Count(ctx, "line_items", models.Query{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})

	t.Run("rejects invalid field paths", func(t *testing.T) {
		_, err := repo.Query(ctx, "line_items", models.Query{
			Filters: []models.Filter{{Field: "x') OR 1=1 --", Op: models.OpIn, Values: []string{"a"}}},
		})
		assert.ErrorIs(t, err, models.ErrInvalidField)
	})

	t.Run("latest updated at", func(t *testing.T) {
		latest, ok, err := repo.LatestUpdatedAt(ctx, "line_items")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(400), latest)

		_, ok, err = repo.LatestUpdatedAt(ctx, "empty")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete returns the removed records", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, "line_items", []string{"l4", "missing"})
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		assert.Equal(t, "l4", deleted[0].ID)
		assert.JSONEq(t, `{"orderId":"o3","promotionIds":[]}`, string(deleted[0].Payload))
	})

	t.Run("delete all", func(t *testing.T) {
		n, err := repo.DeleteAll(ctx, "line_items")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		count, err := repo.Count(ctx, "orders", models.Query{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("empty payload is stored as object", func(t *testing.T) {
		r := record("o9", 1, "")
		r.Payload = json.RawMessage(nil)
		require.NoError(t, repo.Upsert(ctx, "orders", []*models.Record{r}))

		got, err := repo.Get(ctx, "orders", "o9")
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(got.Payload))
	})
}
