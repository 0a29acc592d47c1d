package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/colsync/server/observability"

// HTTPMetrics holds the API request instruments
type HTTPMetrics struct {
	requests     metric.Int64Counter
	duration     metric.Float64Histogram
	responseSize metric.Int64Histogram
	inFlight     metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the API request instruments
func NewHTTPMetrics() (*HTTPMetrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &HTTPMetrics{}
	var err error

	if m.requests, err = meter.Int64Counter("colsync.http.requests",
		metric.WithDescription("API requests by route, collection and status"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("colsync.http.duration",
		metric.WithDescription("API request duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.responseSize, err = meter.Int64Histogram("colsync.http.response_size",
		metric.WithDescription("API response body size"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.inFlight, err = meter.Int64UpDownCounter("colsync.http.in_flight",
		metric.WithDescription("API requests being served"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return m, nil
}

// responseWriter records the status code and body size of a response
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// routeAttributes describes the matched route. Only valid once chi has
// routed the request; before that the raw path stands in for the route.
func routeAttributes(r *http.Request) (string, []attribute.KeyValue) {
	route := r.URL.Path
	var collection string
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
		collection = rctx.URLParam("name")
	}

	attrs := []attribute.KeyValue{semconv.HTTPRoute(route)}
	if collection != "" {
		attrs = append(attrs, Collection(collection))
	}
	return route, attrs
}

// TracingMiddleware starts a server span per request, continuing any trace
// propagated by the caller
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("service.name", serviceName),
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.URLScheme(scheme(r)),
					semconv.ClientAddress(r.RemoteAddr),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			rw := newResponseWriter(w)
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			next.ServeHTTP(rw, r.WithContext(ctx))

			route, attrs := routeAttributes(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attrs...)
			span.SetAttributes(
				semconv.HTTPResponseStatusCode(rw.statusCode),
				semconv.HTTPResponseBodySize(int(rw.size)),
			)
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// MetricsMiddleware records request count, duration and response size per
// route and collection
func MetricsMiddleware(metrics *HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			method := metric.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method))
			metrics.inFlight.Add(ctx, 1, method)
			defer metrics.inFlight.Add(ctx, -1, method)

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			_, attrs := routeAttributes(r)
			attrs = append(attrs,
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPResponseStatusCode(rw.statusCode),
			)
			opt := metric.WithAttributes(attrs...)
			metrics.requests.Add(ctx, 1, opt)
			metrics.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, opt)
			metrics.responseSize.Record(ctx, rw.size, opt)
		})
	}
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if s := r.Header.Get("X-Forwarded-Proto"); s != "" {
		return s
	}
	return "http"
}
