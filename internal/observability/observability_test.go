package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLogger(t *testing.T) {
	t.Run("filters below minimum level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger("test", LevelWarn)
		logger.SetOutput(&buf)

		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "[WARN]")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("renders fields in sorted order", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger("test", LevelDebug)
		logger.SetOutput(&buf)

		logger.WithFields(map[string]interface{}{"zeta": 1, "alpha": "a"}).WithField("mid", true).Debugf("n=%d", 3)

		line := buf.String()
		assert.Contains(t, line, "n=3 alpha=a mid=true zeta=1")
	})

	t.Run("derived loggers do not share fields", func(t *testing.T) {
		var buf bytes.Buffer
		base := NewLogger("test", LevelInfo)
		base.SetOutput(&buf)

		_ = base.WithField("collection", "orders")
		base.Info("plain")

		assert.NotContains(t, buf.String(), "collection=")
	})

	t.Run("context without span adds nothing", func(t *testing.T) {
		logger := NewLogger("test", LevelInfo)
		assert.Same(t, logger, logger.WithContext(context.Background()))
	})

	t.Run("level can be changed", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger("test", LevelError)
		logger.SetOutput(&buf)

		logger.Warn("first")
		logger.SetLevel(LevelWarn)
		logger.WithError(errors.New("boom")).Warn("second")

		assert.NotContains(t, buf.String(), "first")
		assert.Contains(t, buf.String(), "second error=boom")
	})
}

func TestTraceDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	traced, err := NewTraceDB(db, "sqlite")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("exec passes through", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM records WHERE collection = $1").
			WithArgs("orders").
			WillReturnResult(sqlmock.NewResult(0, 2))

		result, err := traced.ExecContext(ctx, "DELETE FROM records WHERE collection = $1", "orders")
		require.NoError(t, err)
		n, err := result.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("query row passes through", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT(*) FROM tombstones").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

		var count int
		require.NoError(t, traced.QueryRowContext(ctx, "SELECT COUNT(*) FROM tombstones").Scan(&count))
		assert.Equal(t, 7, count)
	})

	t.Run("wrapped transaction shares the wrapper", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE sync_counters SET value = 1").WillReturnError(errors.New("locked"))
		mock.ExpectRollback()

		tx, err := db.Begin()
		require.NoError(t, err)
		_, err = traced.Wrap(tx).ExecContext(ctx, "UPDATE sync_counters SET value = 1")
		assert.Error(t, err)
		require.NoError(t, tx.Rollback())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLOperation(t *testing.T) {
	assert.Equal(t, "SELECT", sqlOperation("  select id FROM records"))
	assert.Equal(t, "INSERT", sqlOperation("INSERT INTO records"))
	assert.Equal(t, "", sqlOperation("   "))
	assert.True(t, strings.HasSuffix(truncateQuery(strings.Repeat("x", 600)), "..."))
}

func TestSyncMetricsNilSafe(t *testing.T) {
	var m *SyncMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordDecision(ctx, "orders", "full")
		m.RecordWrite(ctx, "orders", 1)
		m.RecordPruned(ctx, 3)
		m.RecordUpgrade(ctx, "orders", 1, 1)
	})

	real, err := NewSyncMetrics()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		real.RecordDecision(ctx, "orders", "delta")
		real.RecordBatch(ctx, 2, 0)
	})
}
