package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
	"github.com/colsync/server/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingListener struct {
	mu      sync.Mutex
	changes []models.WatermarkChange
}

func (l *recordingListener) WatermarkChanged(change models.WatermarkChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, change)
}

func (l *recordingListener) Changes() []models.WatermarkChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.WatermarkChange(nil), l.changes...)
}

type testEnv struct {
	store       *repository.Store
	registry    *Registry
	clock       *fakeClock
	ledger      *VersionLedger
	watermarks  *WatermarkStore
	tombstones  *TombstoneLog
	checker     *DependencyChecker
	collections *CollectionService
	sync        *SmartSync
}

// orders 1.0.0 -> 1.1.0 renames total; no processor leads to 1.2.0
func renameTotalProcessor(_ context.Context, records []*models.Record) error {
	for _, r := range records {
		if r.Get("fail").Bool() {
			return models.NewRecordError(r.ID, fmt.Errorf("refusing to upgrade"))
		}
		if err := r.Rename("total", "totalCents"); err != nil {
			return err
		}
	}
	return nil
}

func testModules() []Syncable {
	return []Syncable{
		&Module{ModuleDescriptor: ModuleDescriptor{
			Name:     "customers",
			Versions: []string{"1.0.0"},
		}},
		&Module{
			ModuleDescriptor: ModuleDescriptor{
				Name:     "orders",
				Versions: []string{"1.2.0", "1.1.0", "1.0.0"},
				Dependencies: models.DependencyDeclaration{
					"customerId": {TargetCollection: "customers", Cardinality: models.CardinalitySingle},
				},
			},
			Processors: map[string]UpgradeProcessor{"1.0.0": renameTotalProcessor},
		},
		&Module{ModuleDescriptor: ModuleDescriptor{
			Name:     "line_items",
			Versions: []string{"1.0.0"},
			Dependencies: models.DependencyDeclaration{
				"orderId":      {TargetCollection: "orders", Cardinality: models.CardinalitySingle},
				"promotionIds": {TargetCollection: "promotions", Cardinality: models.CardinalityMany},
			},
		}},
		&Module{ModuleDescriptor: ModuleDescriptor{
			Name:            "promotions",
			Versions:        []string{"1.0.0"},
			UniqueKeyFields: []string{"code"},
		}},
		&Module{ModuleDescriptor: ModuleDescriptor{
			Name:     "categories",
			Versions: []string{"1.0.0"},
			Dependencies: models.DependencyDeclaration{
				"parentId": {TargetCollection: "categories", Cardinality: models.CardinalitySingle},
			},
		}},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, m := range testModules() {
		require.NoError(t, registry.Register(m))
	}
	require.NoError(t, registry.Validate())
	return registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := repository.Open(repository.DialectSQLite, filepath.Join(t.TempDir(), "colsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:    store,
		registry: newTestRegistry(t),
		clock:    &fakeClock{now: 1000},
	}
	env.ledger = NewVersionLedger(env.registry, nil)
	env.watermarks = NewWatermarkStore(store)
	env.tombstones = NewTombstoneLog(store, env.watermarks, env.clock.Now, nil)
	env.checker = NewDependencyChecker(env.registry, 2)
	env.collections = NewCollectionService(store, env.registry, env.ledger, env.watermarks, env.tombstones, env.checker, env.clock.Now, nil)
	env.sync = NewSmartSync(env.registry, env.watermarks, env.tombstones, env.collections, 0, 4, nil)
	return env
}

func rec(id, payload string) *models.Record {
	return &models.Record{ID: id, Payload: json.RawMessage(payload)}
}

// put writes records at the given clock time
func (e *testEnv) put(t *testing.T, at int64, collection string, records ...*models.Record) {
	t.Helper()
	e.clock.Set(at)
	_, err := e.collections.Put(context.Background(), collection, records)
	require.NoError(t, err)
}

// del deletes ids at the given clock time
func (e *testEnv) del(t *testing.T, at int64, collection string, ids ...string) {
	t.Helper()
	e.clock.Set(at)
	_, err := e.collections.Delete(context.Background(), collection, ids)
	require.NoError(t, err)
}

func (e *testEnv) watermark(t *testing.T, collection string) models.SyncWatermark {
	t.Helper()
	wm, _, err := e.watermarks.Get(context.Background(), collection)
	require.NoError(t, err)
	return wm
}

func (e *testEnv) ids(t *testing.T, collection string) []string {
	t.Helper()
	records, err := e.store.Documents().Query(context.Background(), collection, models.Query{Order: models.OrderByID})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

// captureLogs redirects the default logger at info level until the test ends
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := observability.GetLogger()
	logger.SetOutput(&buf)
	logger.SetLevel(observability.LevelInfo)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })
	return &buf
}
