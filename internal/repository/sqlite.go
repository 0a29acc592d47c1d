package repository

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers; transactions hold it until commit.
	db.SetMaxOpenConns(1)

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func sqliteDSN(dbPath string) string {
	if strings.Contains(dbPath, "?") || dbPath == ":memory:" {
		return dbPath
	}
	return "file:" + dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
}

func createTables(db *sql.DB) error {
	schema := `
	-- Documents of every syncable collection
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		version TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(collection, updated_at);

	-- Deletion log
	CREATE TABLE IF NOT EXISTS tombstones (
		key TEXT PRIMARY KEY,
		collection_name TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		version TEXT NOT NULL,
		unique_key_values TEXT,
		updated_at INTEGER NOT NULL,
		UNIQUE(collection_name, doc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tombstones_updated_at ON tombstones(updated_at, key);
	CREATE INDEX IF NOT EXISTS idx_tombstones_collection ON tombstones(collection_name, updated_at);

	-- Path-addressed state (watermarks)
	CREATE TABLE IF NOT EXISTS sync_state (
		path TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Counters
	CREATE TABLE IF NOT EXISTS sync_counters (
		path TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}
