package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/config"
	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/services"
)

func TestNewRegistry_BuiltIns(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	var names []string
	for _, c := range registry.Collections() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{Customers, Orders, LineItems, Promotions}, names)

	orders, err := registry.Lookup(Orders)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", orders.Latest())

	deps := registry.Dependents(Orders)
	require.Len(t, deps, 1)
	assert.Equal(t, services.DependentField{Collection: LineItems, Field: "orderId", Cardinality: models.CardinalitySingle}, deps[0])

	promos := registry.Dependents(Promotions)
	require.Len(t, promos, 1)
	assert.Equal(t, models.CardinalityMany, promos[0].Cardinality)
}

func TestNewRegistry_ConfiguredCollections(t *testing.T) {
	t.Run("adds declarative collection", func(t *testing.T) {
		registry, err := NewRegistry([]config.CollectionConfig{{
			Name:     "notes",
			Versions: []string{"1.0.0"},
			Dependencies: models.DependencyDeclaration{
				"customerId": {TargetCollection: Customers, Cardinality: models.CardinalitySingle},
			},
		}})
		require.NoError(t, err)

		deps := registry.Dependents(Customers)
		require.Len(t, deps, 2)
		assert.Equal(t, Orders, deps[0].Collection)
		assert.Equal(t, "notes", deps[1].Collection)
	})

	t.Run("rejects unknown target", func(t *testing.T) {
		_, err := NewRegistry([]config.CollectionConfig{{
			Name:     "notes",
			Versions: []string{"1.0.0"},
			Dependencies: models.DependencyDeclaration{
				"ownerId": {TargetCollection: "owners", Cardinality: models.CardinalitySingle},
			},
		}})
		assert.Error(t, err)
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		_, err := NewRegistry([]config.CollectionConfig{{Name: Orders, Versions: []string{"1.0.0"}}})
		assert.Error(t, err)
	})
}

func TestOrderProcessors(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)
	ledger := services.NewVersionLedger(registry, nil)
	ctx := context.Background()

	t.Run("upgrades 1.0.0 to latest", func(t *testing.T) {
		r := &models.Record{ID: "o1", Version: "1.0.0", Payload: json.RawMessage(`{"total":1250,"customerId":"c1"}`)}

		changed, err := ledger.Upgrade(ctx, Orders, []*models.Record{r})
		require.NoError(t, err)
		require.Len(t, changed, 1)

		assert.Equal(t, "1.2.0", r.Version)
		assert.False(t, r.Get("total").Exists())
		assert.Equal(t, int64(1250), r.Get("totalCents").Int())
		assert.Equal(t, "open", r.Get("status").String())
		assert.Equal(t, "c1", r.Get("customerId").String())
	})

	t.Run("keeps existing status", func(t *testing.T) {
		r := &models.Record{ID: "o2", Version: "1.1.0", Payload: json.RawMessage(`{"totalCents":1,"status":"paid"}`)}

		_, err := ledger.Upgrade(ctx, Orders, []*models.Record{r})
		require.NoError(t, err)
		assert.Equal(t, "paid", r.Get("status").String())
	})

	t.Run("names the failing record", func(t *testing.T) {
		good := &models.Record{ID: "o3", Version: "1.0.0", Payload: json.RawMessage(`{"total":1}`)}
		bad := &models.Record{ID: "o4", Version: "1.0.0", Payload: json.RawMessage(`{"total":"lots"}`)}

		_, err := ledger.Upgrade(ctx, Orders, []*models.Record{good, bad})
		var failed *models.UpgradeFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "o4", failed.ID)
		assert.Equal(t, "1.0.0", failed.FromVersion)
		assert.Equal(t, "1.1.0", failed.ToVersion)
	})
}
