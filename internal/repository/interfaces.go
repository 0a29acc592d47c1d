package repository

import (
	"context"
	"encoding/json"

	"github.com/colsync/server/internal/models"
)

// DocumentRepo defines collection-scoped record persistence
type DocumentRepo interface {
	Get(ctx context.Context, collection, id string) (*models.Record, error)
	GetMany(ctx context.Context, collection string, ids []string) ([]*models.Record, error)
	Query(ctx context.Context, collection string, q models.Query) ([]*models.Record, error)
	Count(ctx context.Context, collection string, q models.Query) (int, error)
	Upsert(ctx context.Context, collection string, records []*models.Record) error
	Delete(ctx context.Context, collection string, ids []string) ([]*models.Record, error)
	DeleteAll(ctx context.Context, collection string) (int64, error)
	LatestUpdatedAt(ctx context.Context, collection string) (int64, bool, error)
}

// TombstoneRepo defines persistence of the deletion log
type TombstoneRepo interface {
	Append(ctx context.Context, tombstones []*models.Tombstone) error
	QuerySince(ctx context.Context, collection string, since int64) ([]*models.Tombstone, error)
	Count(ctx context.Context) (int64, error)
	DeleteOldest(ctx context.Context, limit int64) ([]*models.Tombstone, error)
	OldestFor(ctx context.Context, collection string) (int64, bool, error)
	DeleteFor(ctx context.Context, collection string, docIDs []string) (int64, error)
	DeleteCollection(ctx context.Context, collection string) (int64, error)
}

// StateRepo defines the path-addressed key-value state store
type StateRepo interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Set(ctx context.Context, path string, value json.RawMessage) error
	Patch(ctx context.Context, path string, partial json.RawMessage) error
	Advance(ctx context.Context, path, field string, value int64) error
	GetCounter(ctx context.Context, path string) (int64, bool, error)
	SetCounter(ctx context.Context, path string, value int64) error
	AddCounter(ctx context.Context, path string, delta int64) error
}

// Repos groups repositories bound to the same connection or transaction
type Repos struct {
	Documents  DocumentRepo
	Tombstones TombstoneRepo
	State      StateRepo
}

// Storage is the database behind the sync engine
type Storage interface {
	Documents() DocumentRepo
	Tombstones() TombstoneRepo
	State() StateRepo
	Repos() Repos
	// WithTx runs fn inside one transaction. The non-transactional
	// repositories must not be used from fn.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
	Dialect() Dialect
	Ping(ctx context.Context) error
}
