package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StateRepository is a path-addressed JSON store plus integer counters
type StateRepository struct {
	db      DBTX
	dialect Dialect
}

// NewStateRepository creates a new StateRepository
func NewStateRepository(db DBTX, dialect Dialect) *StateRepository {
	return &StateRepository{db: db, dialect: dialect}
}

// Get returns the value stored at path, or nil if absent
func (r *StateRepository) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, "SELECT value FROM sync_state WHERE path = $1", path).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set overwrites the value stored at path
func (r *StateRepository) Set(ctx context.Context, path string, value json.RawMessage) error {
	a := &args{}
	query := fmt.Sprintf(`INSERT INTO sync_state (path, value, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		a.add(path), r.dialect.jsonParam(a, value), a.add(time.Now().UnixMilli()))

	_, err := r.db.ExecContext(ctx, query, a.values...)
	return err
}

// Patch merges the top-level fields of partial into the value at path
// in a single statement.
func (r *StateRepository) Patch(ctx context.Context, path string, partial json.RawMessage) error {
	merge := "json_patch(sync_state.value, EXCLUDED.value)"
	if r.dialect == DialectPostgres {
		merge = "sync_state.value || EXCLUDED.value"
	}
	a := &args{}
	query := fmt.Sprintf(`INSERT INTO sync_state (path, value, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (path) DO UPDATE SET value = %s, updated_at = EXCLUDED.updated_at`,
		a.add(path), r.dialect.jsonParam(a, partial), a.add(time.Now().UnixMilli()), merge)

	_, err := r.db.ExecContext(ctx, query, a.values...)
	return err
}

// Advance raises an integer field of the value at path to value. The field
// never moves backwards and other fields are left untouched.
func (r *StateRepository) Advance(ctx context.Context, path, field string, value int64) error {
	query := `INSERT INTO sync_state (path, value, updated_at) VALUES ($1, json_object($2, $3), $4)
		ON CONFLICT (path) DO UPDATE SET
			value = json_set(sync_state.value, '$.' || $2,
				MAX(COALESCE(json_extract(sync_state.value, '$.' || $2), 0), $3)),
			updated_at = EXCLUDED.updated_at`
	if r.dialect == DialectPostgres {
		query = `INSERT INTO sync_state (path, value, updated_at) VALUES ($1, jsonb_build_object($2::text, $3::bigint), $4)
		ON CONFLICT (path) DO UPDATE SET
			value = jsonb_set(sync_state.value, ARRAY[$2::text],
				to_jsonb(GREATEST(COALESCE((sync_state.value->>$2::text)::bigint, 0), $3::bigint))),
			updated_at = EXCLUDED.updated_at`
	}

	_, err := r.db.ExecContext(ctx, query, path, field, value, time.Now().UnixMilli())
	return err
}

// GetCounter returns the counter at path and whether it is set
func (r *StateRepository) GetCounter(ctx context.Context, path string) (int64, bool, error) {
	var value int64
	err := r.db.QueryRowContext(ctx, "SELECT value FROM sync_counters WHERE path = $1", path).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// SetCounter stores an absolute counter value
func (r *StateRepository) SetCounter(ctx context.Context, path string, value int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sync_counters (path, value) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value`, path, value)
	return err
}

// AddCounter atomically adds delta to a counter, flooring at zero. An unset
// counter stays unset so the next reader recomputes it.
func (r *StateRepository) AddCounter(ctx context.Context, path string, delta int64) error {
	query := fmt.Sprintf("UPDATE sync_counters SET value = %s(value + $1, 0) WHERE path = $2", r.dialect.greatest())
	_, err := r.db.ExecContext(ctx, query, delta, path)
	return err
}
