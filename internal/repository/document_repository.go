package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/colsync/server/internal/models"
)

const recordColumns = "id, version, created_at, updated_at, payload"

// DocumentRepository persists records of every collection in one table
type DocumentRepository struct {
	db      DBTX
	dialect Dialect
}

// NewDocumentRepository creates a new DocumentRepository
func NewDocumentRepository(db DBTX, dialect Dialect) *DocumentRepository {
	return &DocumentRepository{db: db, dialect: dialect}
}

// Get retrieves a record by id
func (r *DocumentRepository) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE collection = $1 AND id = $2`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, collection, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetMany retrieves the records with the given ids; missing ids are skipped
func (r *DocumentRepository) GetMany(ctx context.Context, collection string, ids []string) ([]*models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	a := &args{}
	query := fmt.Sprintf(`SELECT %s FROM records WHERE collection = %s AND %s ORDER BY id`,
		recordColumns, a.add(collection), r.dialect.inSet(a, "id", ids))

	return r.queryRecords(ctx, query, a.values...)
}

// Query returns the records of a collection matching q
func (r *DocumentRepository) Query(ctx context.Context, collection string, q models.Query) ([]*models.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	a := &args{}
	query := `SELECT ` + recordColumns + ` FROM records WHERE ` + r.where(a, collection, q)

	switch q.Order {
	case models.OrderUpdatedDesc:
		query += " ORDER BY updated_at DESC, id DESC"
	case models.OrderByID:
		query += " ORDER BY id ASC"
	default:
		query += " ORDER BY updated_at ASC, id ASC"
	}
	query += r.dialect.pagination(a, q.Limit, q.Offset)

	return r.queryRecords(ctx, query, a.values...)
}

// Count returns the number of records matching q, ignoring pagination
func (r *DocumentRepository) Count(ctx context.Context, collection string, q models.Query) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	a := &args{}
	query := `SELECT COUNT(*) FROM records WHERE ` + r.where(a, collection, q)

	var count int
	err := r.db.QueryRowContext(ctx, query, a.values...).Scan(&count)
	return count, err
}

func (r *DocumentRepository) where(a *args, collection string, q models.Query) string {
	conditions := []string{"collection = " + a.add(collection)}
	if q.UpdatedSince != nil {
		conditions = append(conditions, "updated_at >= "+a.add(*q.UpdatedSince))
	}
	for _, f := range q.Filters {
		switch f.Op {
		case models.OpIntersects:
			conditions = append(conditions, r.dialect.fieldIntersects(a, f.Field, f.Values))
		default:
			conditions = append(conditions, r.dialect.fieldInSet(a, f.Field, f.Values))
		}
	}
	return strings.Join(conditions, " AND ")
}

// Upsert creates or replaces records. created_at of an existing record is kept.
func (r *DocumentRepository) Upsert(ctx context.Context, collection string, records []*models.Record) error {
	for _, record := range records {
		a := &args{}
		query := fmt.Sprintf(`INSERT INTO records (collection, id, version, created_at, updated_at, payload)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (collection, id) DO UPDATE SET
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			payload = EXCLUDED.payload`,
			a.add(collection), a.add(record.ID), a.add(record.Version),
			a.add(record.CreatedAt), a.add(record.UpdatedAt),
			r.dialect.jsonParam(a, payloadOrEmpty(record.Payload)))

		if _, err := r.db.ExecContext(ctx, query, a.values...); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", collection, record.ID, err)
		}
	}
	return nil
}

// Delete removes the given ids and returns the records that existed
func (r *DocumentRepository) Delete(ctx context.Context, collection string, ids []string) ([]*models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	a := &args{}
	query := fmt.Sprintf(`DELETE FROM records WHERE collection = %s AND %s RETURNING %s`,
		a.add(collection), r.dialect.inSet(a, "id", ids), recordColumns)

	return r.queryRecords(ctx, query, a.values...)
}

// DeleteAll removes every record of a collection
func (r *DocumentRepository) DeleteAll(ctx context.Context, collection string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE collection = $1`, collection)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// LatestUpdatedAt returns the highest updated_at of the collection
func (r *DocumentRepository) LatestUpdatedAt(ctx context.Context, collection string) (int64, bool, error) {
	records, err := r.Query(ctx, collection, models.Query{Order: models.OrderUpdatedDesc, Limit: 1})
	if err != nil {
		return 0, false, err
	}
	if len(records) == 0 {
		return 0, false, nil
	}
	return records[0].UpdatedAt, true, nil
}

func (r *DocumentRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var record models.Record
	var payload []byte
	if err := row.Scan(&record.ID, &record.Version, &record.CreatedAt, &record.UpdatedAt, &payload); err != nil {
		return nil, err
	}
	record.Payload = payload
	return &record, nil
}

func payloadOrEmpty(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte("{}")
	}
	return payload
}
