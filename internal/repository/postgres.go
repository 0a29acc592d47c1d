package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		version TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(collection, updated_at);
	CREATE INDEX IF NOT EXISTS idx_records_payload ON records USING GIN (payload jsonb_path_ops);

	CREATE TABLE IF NOT EXISTS tombstones (
		key TEXT PRIMARY KEY,
		collection_name TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		version TEXT NOT NULL,
		unique_key_values JSONB,
		updated_at BIGINT NOT NULL,
		UNIQUE(collection_name, doc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tombstones_updated_at ON tombstones(updated_at, key);
	CREATE INDEX IF NOT EXISTS idx_tombstones_collection ON tombstones(collection_name, updated_at);

	CREATE TABLE IF NOT EXISTS sync_state (
		path TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_counters (
		path TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}
