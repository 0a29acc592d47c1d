package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.ServerAddress)
	assert.False(t, cfg.UsePostgres())
	assert.Equal(t, "sqlite", cfg.DialectName())
	assert.True(t, filepath.IsAbs(cfg.Database.Path))
	assert.Equal(t, int64(10000), cfg.Sync.TombstoneRetention)
	assert.Equal(t, 10, cfg.Sync.ConflictBatchSize)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"serverAddress": ":8080",
		"database": {"type": "postgres", "url": "postgres://localhost/colsync"},
		"sync": {"tombstoneRetention": 5, "maxConcurrency": 2},
		"collections": [{
			"name": "notes",
			"versions": ["1.0.0"],
			"dependencies": {"authorId": {"targetCollection": "customers", "fieldCardinality": "single"}}
		}]
	}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, "postgres://localhost/colsync", cfg.DSN())
	assert.Equal(t, int64(5), cfg.Sync.TombstoneRetention)
	assert.Equal(t, 2, cfg.Sync.MaxConcurrency)
	assert.Equal(t, 30, cfg.Sync.RequestTimeoutSeconds, "unset fields keep defaults")
	require.Len(t, cfg.Collections, 1)
	assert.Equal(t, models.CardinalitySingle, cfg.Collections[0].Dependencies["authorId"].Cardinality)
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
serverAddress: ":9090"
sync:
  tombstoneRetention: 0
collections:
  - name: tags
    versions: ["2.0.0", "1.0.0"]
    uniqueKeyFields: [label]
    dependencies:
      parentIds:
        targetCollection: tags
        fieldCardinality: many
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddress)
	assert.Equal(t, int64(0), cfg.Sync.TombstoneRetention)
	require.Len(t, cfg.Collections, 1)
	col := cfg.Collections[0]
	assert.Equal(t, []string{"2.0.0", "1.0.0"}, col.Versions)
	assert.Equal(t, []string{"label"}, col.UniqueKeyFields)
	assert.Equal(t, models.CardinalityMany, col.Dependencies["parentIds"].Cardinality)
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":7000")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("TOMBSTONE_RETENTION", "42")
	t.Setenv("CONFLICT_BATCH_SIZE", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ServerAddress)
	assert.True(t, cfg.UsePostgres(), "a URL without an explicit type selects postgres")
	assert.Equal(t, int64(42), cfg.Sync.TombstoneRetention)
	assert.Equal(t, 10, cfg.Sync.ConflictBatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFile_Invalid(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "config.json", `{"serverAddress":`))
		assert.Error(t, err)
	})

	t.Run("negative retention", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "config.json", `{"sync": {"tombstoneRetention": -1}}`))
		assert.Error(t, err)
	})

	t.Run("postgres without url", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "config.json", `{"database": {"type": "postgres"}}`))
		assert.Error(t, err)
	})
}

func TestUsePostgres_ExplicitSQLiteWins(t *testing.T) {
	cfg := &Config{Database: Database{Type: "sqlite", Path: "x.db", URL: "postgres://ignored"}}
	assert.False(t, cfg.UsePostgres())
	assert.Equal(t, "x.db", cfg.DSN())
}
