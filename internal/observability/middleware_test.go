package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestMiddleware(t *testing.T) {
	metrics, err := NewHTTPMetrics()
	require.NoError(t, err)

	var route string
	var attrs []attribute.KeyValue

	r := chi.NewRouter()
	r.Use(TracingMiddleware("colsync-test"))
	r.Use(MetricsMiddleware(metrics))
	r.Get("/api/collections/{name}/records", func(w http.ResponseWriter, r *http.Request) {
		route, attrs = routeAttributes(r)
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/collections/orders/records", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "short and stout", w.Body.String())
	assert.Equal(t, "/api/collections/{name}/records", route)
	assert.Contains(t, attrs, Collection("orders"))
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.Equal(t, int64(5), rw.size)

	_, _, err = rw.Hijack()
	assert.Error(t, err)
}
