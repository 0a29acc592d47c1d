package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/catalog"
	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/repository"
	"github.com/colsync/server/internal/services"
)

type testServer struct {
	store       *repository.Store
	watermarks  *services.WatermarkStore
	tombstones  *services.TombstoneLog
	collections *services.CollectionService
	cleanup     *services.CleanupService
	hub         *services.WebSocketHub
	router      chi.Router
}

func newTestServer(t *testing.T, retention int64) *testServer {
	t.Helper()
	store, err := repository.Open(repository.DialectSQLite, filepath.Join(t.TempDir(), "colsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := catalog.NewRegistry(nil)
	require.NoError(t, err)

	s := &testServer{store: store}
	ledger := services.NewVersionLedger(registry, nil)
	s.watermarks = services.NewWatermarkStore(store)
	s.tombstones = services.NewTombstoneLog(store, s.watermarks, models.NowMillis, nil)
	checker := services.NewDependencyChecker(registry, 0)
	s.collections = services.NewCollectionService(store, registry, ledger, s.watermarks, s.tombstones, checker, models.NowMillis, nil)
	smartSync := services.NewSmartSync(registry, s.watermarks, s.tombstones, s.collections, 0, 0, nil)
	s.cleanup = services.NewCleanupService(s.tombstones, retention, 0)

	s.hub = services.NewWebSocketHub()
	go s.hub.Run()
	t.Cleanup(s.hub.Stop)
	s.watermarks.Subscribe(s.hub)

	s.router = chi.NewRouter()
	Router{
		Health:      NewHealthHandler(store),
		Sync:        NewSyncHandler(smartSync),
		Collections: NewCollectionHandler(s.collections),
		Admin:       NewAdminHandler(s.cleanup, s.tombstones, s.collections, 0),
		WebSocket:   NewWebSocketHandler(s.hub),
	}.MountRoutes(s.router)
	MountDocs(s.router)
	return s
}

// do sends a request with an optional JSON body through the router
func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) put(t *testing.T, collection string, records ...*models.Record) *services.WriteResult {
	t.Helper()
	result, err := s.collections.Put(context.Background(), collection, records)
	require.NoError(t, err)
	return result
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func record(id, payload string) *models.Record {
	return models.NewRecord(id, "", json.RawMessage(payload))
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
}
