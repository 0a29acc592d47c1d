package repository

import (
	"context"
	"database/sql"

	"github.com/colsync/server/internal/observability"
)

// DBTX is the subset of database/sql used by the repositories.
// *sql.DB, *sql.Tx and *observability.TraceDB satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the SQL-backed Storage
type Store struct {
	db      *sql.DB
	traced  *observability.TraceDB
	dialect Dialect
}

// NewStore wraps an initialized database
func NewStore(db *sql.DB, dialect Dialect) (*Store, error) {
	traced, err := observability.NewTraceDB(db, dialect.System())
	if err != nil {
		return nil, err
	}
	return &Store{db: db, traced: traced, dialect: dialect}, nil
}

// Open connects to the configured database and creates the schema
func Open(dialect Dialect, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = NewPostgresDB(dsn)
	default:
		db, err = NewSQLiteDB(dsn)
	}
	if err != nil {
		return nil, err
	}

	store, err := NewStore(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Documents() DocumentRepo {
	return NewDocumentRepository(s.traced, s.dialect)
}

func (s *Store) Tombstones() TombstoneRepo {
	return NewTombstoneRepository(s.traced, s.dialect)
}

func (s *Store) State() StateRepo {
	return NewStateRepository(s.traced, s.dialect)
}

func (s *Store) Repos() Repos {
	return s.bind(s.traced)
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx begins a transaction, runs fn with repositories bound to it, and
// commits on success or rolls back on error or panic. Panics are rethrown.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, s.bind(s.traced.Wrap(tx)))
	return err
}

func (s *Store) bind(db DBTX) Repos {
	return Repos{
		Documents:  NewDocumentRepository(db, s.dialect),
		Tombstones: NewTombstoneRepository(db, s.dialect),
		State:      NewStateRepository(db, s.dialect),
	}
}
