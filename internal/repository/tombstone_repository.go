package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/colsync/server/internal/models"
)

const tombstoneColumns = "key, collection_name, doc_id, version, unique_key_values, updated_at"

// TombstoneRepository handles deletion log persistence
type TombstoneRepository struct {
	db      DBTX
	dialect Dialect
}

// NewTombstoneRepository creates a new TombstoneRepository
func NewTombstoneRepository(db DBTX, dialect Dialect) *TombstoneRepository {
	return &TombstoneRepository{db: db, dialect: dialect}
}

// Append stores tombstones. A tombstone for an already tombstoned
// (collection, doc) pair replaces the previous one.
func (r *TombstoneRepository) Append(ctx context.Context, tombstones []*models.Tombstone) error {
	for _, ts := range tombstones {
		a := &args{}
		uniqueValues := "NULL"
		placeholders := []string{a.add(ts.Key), a.add(ts.CollectionName), a.add(ts.DocID), a.add(ts.Version)}
		if len(ts.UniqueKeyValues) > 0 {
			uniqueValues = r.dialect.jsonParam(a, ts.UniqueKeyValues)
		}
		query := fmt.Sprintf(`INSERT INTO tombstones (%s)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (collection_name, doc_id) DO UPDATE SET
			version = EXCLUDED.version,
			unique_key_values = EXCLUDED.unique_key_values,
			updated_at = EXCLUDED.updated_at`,
			tombstoneColumns, placeholders[0], placeholders[1], placeholders[2], placeholders[3],
			uniqueValues, a.add(ts.UpdatedAt))

		if _, err := r.db.ExecContext(ctx, query, a.values...); err != nil {
			return fmt.Errorf("append tombstone %s/%s: %w", ts.CollectionName, ts.DocID, err)
		}
	}
	return nil
}

// QuerySince returns the tombstones of a collection with updated_at >= since
func (r *TombstoneRepository) QuerySince(ctx context.Context, collection string, since int64) ([]*models.Tombstone, error) {
	query := `SELECT ` + tombstoneColumns + ` FROM tombstones
		WHERE collection_name = $1 AND updated_at >= $2
		ORDER BY updated_at ASC, key ASC`

	return r.queryTombstones(ctx, query, collection, since)
}

// Count returns the number of stored tombstones
func (r *TombstoneRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tombstones").Scan(&count)
	return count, err
}

// DeleteOldest removes up to limit tombstones, oldest first, and returns them
func (r *TombstoneRepository) DeleteOldest(ctx context.Context, limit int64) ([]*models.Tombstone, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `DELETE FROM tombstones WHERE key IN (
			SELECT key FROM tombstones ORDER BY updated_at ASC, key ASC LIMIT $1
		) RETURNING ` + tombstoneColumns

	return r.queryTombstones(ctx, query, limit)
}

// OldestFor returns the updated_at of the oldest tombstone of a collection
func (r *TombstoneRepository) OldestFor(ctx context.Context, collection string) (int64, bool, error) {
	var oldest sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		"SELECT MIN(updated_at) FROM tombstones WHERE collection_name = $1",
		collection,
	).Scan(&oldest)
	if err != nil {
		return 0, false, err
	}
	return oldest.Int64, oldest.Valid, nil
}

// DeleteFor removes the tombstones of the given documents
func (r *TombstoneRepository) DeleteFor(ctx context.Context, collection string, docIDs []string) (int64, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	a := &args{}
	query := fmt.Sprintf("DELETE FROM tombstones WHERE collection_name = %s AND %s",
		a.add(collection), r.dialect.inSet(a, "doc_id", docIDs))

	result, err := r.db.ExecContext(ctx, query, a.values...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteCollection removes every tombstone of a collection
func (r *TombstoneRepository) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tombstones WHERE collection_name = $1", collection)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TombstoneRepository) queryTombstones(ctx context.Context, query string, args ...interface{}) ([]*models.Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tombstones []*models.Tombstone
	for rows.Next() {
		var ts models.Tombstone
		var uniqueValues []byte
		if err := rows.Scan(&ts.Key, &ts.CollectionName, &ts.DocID, &ts.Version, &uniqueValues, &ts.UpdatedAt); err != nil {
			return nil, err
		}
		if len(uniqueValues) > 0 {
			ts.UniqueKeyValues = uniqueValues
		}
		ts.ID = ts.DocID
		tombstones = append(tombstones, &ts)
	}
	return tombstones, rows.Err()
}
