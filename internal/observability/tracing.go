package observability

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
		trace.WithAttributes(attrs...),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// EndSpan records err (if any) on the span and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}
	span.End()
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// DatabaseMetrics holds database-related metrics
type DatabaseMetrics struct {
	queryDuration metric.Float64Histogram
	queryCount    metric.Int64Counter
	errorCount    metric.Int64Counter
}

// NewDatabaseMetrics creates database metrics instruments
func NewDatabaseMetrics() (*DatabaseMetrics, error) {
	meter := otel.Meter(instrumentationName)

	queryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queryCount, err := meter.Int64Counter(
		"db.query.count",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"db.error.count",
		metric.WithDescription("Total number of database errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		queryDuration: queryDuration,
		queryCount:    queryCount,
		errorCount:    errorCount,
	}, nil
}

// RecordQuery records a database query metrics
func (m *DatabaseMetrics) RecordQuery(ctx context.Context, system, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("db.system", system),
		attribute.String("db.operation", operation),
	)

	m.queryCount.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil && err != sql.ErrNoRows {
		m.errorCount.Add(ctx, 1, attrs)
	}
}

// DBTX is the query surface shared by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TraceDB wraps a database handle with tracing and query metrics
type TraceDB struct {
	db      DBTX
	system  string
	metrics *DatabaseMetrics
}

// NewTraceDB creates a traced database wrapper. system is the
// OpenTelemetry db.system value, e.g. "sqlite" or "postgresql".
func NewTraceDB(db DBTX, system string) (*TraceDB, error) {
	metrics, err := NewDatabaseMetrics()
	if err != nil {
		return nil, err
	}

	return &TraceDB{
		db:      db,
		system:  system,
		metrics: metrics,
	}, nil
}

// Wrap returns a TraceDB over another handle (typically a transaction)
// sharing this wrapper's metrics
func (t *TraceDB) Wrap(db DBTX) *TraceDB {
	return &TraceDB{db: db, system: t.system, metrics: t.metrics}
}

func (t *TraceDB) start(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.operation", sqlOperation(query)),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
}

func (t *TraceDB) finish(ctx context.Context, span trace.Span, query string, start time.Time, err error) {
	duration := time.Since(start)
	t.metrics.RecordQuery(ctx, t.system, sqlOperation(query), duration, err)
	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))
	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}
	span.End()
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := t.start(ctx, "DB Query", query)
	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	t.finish(ctx, span, query, start, err)
	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := t.start(ctx, "DB Exec", query)
	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)
	if err == nil {
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}
	t.finish(ctx, span, query, start, err)
	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing.
// The span covers statement execution only; scanning happens after it ends.
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := t.start(ctx, "DB QueryRow", query)
	start := time.Now()
	row := t.db.QueryRowContext(ctx, query, args...)
	t.finish(ctx, span, query, start, row.Err())
	return row
}

func sqlOperation(query string) string {
	fields := strings.Fields(query)
	for _, f := range fields {
		if strings.HasPrefix(f, "--") {
			continue
		}
		return strings.ToUpper(f)
	}
	return ""
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// SyncMetrics holds sync engine metrics
type SyncMetrics struct {
	syncDecisions     metric.Int64Counter
	recordsWritten    metric.Int64Counter
	recordsDeleted    metric.Int64Counter
	deleteConflicts   metric.Int64Counter
	tombstonesPruned  metric.Int64Counter
	upgradeFailures   metric.Int64Counter
	recordsUpgraded   metric.Int64Counter
	syncBatchDuration metric.Float64Histogram
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &SyncMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.syncDecisions, "colsync.sync.decisions", "Sync decisions per collection", "{decisions}"},
		{&m.recordsWritten, "colsync.records.written", "Records written through the write path", "{records}"},
		{&m.recordsDeleted, "colsync.records.deleted", "Records deleted through the write path", "{records}"},
		{&m.deleteConflicts, "colsync.delete.conflicts", "Deletes refused because of references", "{deletes}"},
		{&m.tombstonesPruned, "colsync.tombstones.pruned", "Tombstones removed by retention pruning", "{tombstones}"},
		{&m.upgradeFailures, "colsync.upgrade.failures", "Records whose upgrade processor failed", "{records}"},
		{&m.recordsUpgraded, "colsync.records.upgraded", "Records migrated to a newer version", "{records}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	duration, err := meter.Float64Histogram(
		"colsync.sync.batch.duration",
		metric.WithDescription("Duration of a smart-sync batch in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	m.syncBatchDuration = duration

	return m, nil
}

// RecordDecision records the sync mode chosen for a collection
func (m *SyncMetrics) RecordDecision(ctx context.Context, collection, decision string) {
	if m == nil {
		return
	}
	m.syncDecisions.Add(ctx, 1, metric.WithAttributes(Collection(collection), Decision(decision)))
}

// RecordBatch records the duration of a sync batch
func (m *SyncMetrics) RecordBatch(ctx context.Context, modules int, d time.Duration) {
	if m == nil {
		return
	}
	m.syncBatchDuration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(attribute.Int("sync.modules", modules)))
}

// RecordWrite records records written to a collection
func (m *SyncMetrics) RecordWrite(ctx context.Context, collection string, n int) {
	if m == nil {
		return
	}
	m.recordsWritten.Add(ctx, int64(n), metric.WithAttributes(Collection(collection)))
}

// RecordDelete records records deleted from a collection
func (m *SyncMetrics) RecordDelete(ctx context.Context, collection string, n int) {
	if m == nil {
		return
	}
	m.recordsDeleted.Add(ctx, int64(n), metric.WithAttributes(Collection(collection)))
}

// RecordConflict records a refused delete
func (m *SyncMetrics) RecordConflict(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	m.deleteConflicts.Add(ctx, 1, metric.WithAttributes(Collection(collection)))
}

// RecordPruned records tombstones removed by pruning
func (m *SyncMetrics) RecordPruned(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.tombstonesPruned.Add(ctx, int64(n))
}

// RecordUpgrade records the outcome of upgrading records of a collection
func (m *SyncMetrics) RecordUpgrade(ctx context.Context, collection string, upgraded, failed int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(Collection(collection))
	if upgraded > 0 {
		m.recordsUpgraded.Add(ctx, int64(upgraded), attrs)
	}
	if failed > 0 {
		m.upgradeFailures.Add(ctx, int64(failed), attrs)
	}
}
