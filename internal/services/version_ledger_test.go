package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/models"
)

func order(id, version, payload string) *models.Record {
	return &models.Record{ID: id, Version: version, Payload: json.RawMessage(payload)}
}

func TestVersionLedger_Upgrade(t *testing.T) {
	ledger := NewVersionLedger(newTestRegistry(t), nil)
	ctx := context.Background()

	t.Run("stops where no processor exists", func(t *testing.T) {
		r := order("o1", "1.0.0", `{"total":10}`)

		changed, err := ledger.Upgrade(ctx, "orders", []*models.Record{r})
		require.NoError(t, err)

		require.Len(t, changed, 1)
		assert.Equal(t, "1.1.0", r.Version)
		assert.Equal(t, int64(10), r.Get("totalCents").Int())
		assert.False(t, r.Get("total").Exists())
	})

	t.Run("is idempotent", func(t *testing.T) {
		r := order("o1", "1.0.0", `{"total":10}`)
		_, err := ledger.Upgrade(ctx, "orders", []*models.Record{r})
		require.NoError(t, err)
		payload := string(r.Payload)

		changed, err := ledger.Upgrade(ctx, "orders", []*models.Record{r})
		require.NoError(t, err)
		assert.Empty(t, changed)
		assert.Equal(t, "1.1.0", r.Version)
		assert.JSONEq(t, payload, string(r.Payload))
	})

	t.Run("returns only changed records", func(t *testing.T) {
		latest := order("o2", "1.2.0", `{"totalCents":1}`)
		stale := order("o3", "1.0.0", `{"total":2}`)
		stuck := order("o4", "1.1.0", `{"totalCents":3}`)

		changed, err := ledger.Upgrade(ctx, "orders", []*models.Record{latest, stale, stuck})
		require.NoError(t, err)
		require.Len(t, changed, 1)
		assert.Same(t, stale, changed[0])
		assert.Equal(t, "1.1.0", stuck.Version)
	})

	t.Run("leaves undeclared versions alone", func(t *testing.T) {
		r := order("o5", "0.9.0", `{"total":1}`)

		changed, err := ledger.Upgrade(ctx, "orders", []*models.Record{r})
		require.NoError(t, err)
		assert.Empty(t, changed)
		assert.Equal(t, "0.9.0", r.Version)
	})

	t.Run("fails the whole batch", func(t *testing.T) {
		good := order("o6", "1.0.0", `{"total":1}`)
		bad := order("o7", "1.0.0", `{"fail":true}`)

		changed, err := ledger.Upgrade(ctx, "orders", []*models.Record{good, bad})
		assert.Nil(t, changed)

		var failed *models.UpgradeFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "o7", failed.ID)
		assert.Equal(t, "1.0.0", failed.FromVersion)
		assert.Equal(t, "1.1.0", failed.ToVersion)
		assert.Equal(t, "1.0.0", bad.Version)
	})

	t.Run("unknown collection", func(t *testing.T) {
		_, err := ledger.Upgrade(ctx, "invoices", nil)
		assert.ErrorIs(t, err, models.ErrUnknownCollection)
	})
}

func TestVersionLedger_UpgradeEach(t *testing.T) {
	ledger := NewVersionLedger(newTestRegistry(t), nil)
	ctx := context.Background()

	good := order("o1", "1.0.0", `{"total":1}`)
	bad := order("o2", "1.0.0", `{"fail":true}`)
	current := order("o3", "1.2.0", `{}`)

	changed, failures, err := ledger.UpgradeEach(ctx, "orders", []*models.Record{good, bad, current})
	require.NoError(t, err)

	require.Len(t, changed, 1)
	assert.Equal(t, "o1", changed[0].ID)
	assert.Equal(t, "1.1.0", changed[0].Version)
	assert.Equal(t, "1.0.0", good.Version, "inputs are not modified")

	require.Len(t, failures, 1)
	assert.Equal(t, "o2", failures[0].ID)
}
