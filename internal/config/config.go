package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/colsync/server/internal/models"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string             `json:"serverAddress" yaml:"serverAddress"`
	Database      Database           `json:"database" yaml:"database"`
	Sync          Sync               `json:"sync" yaml:"sync"`
	Logging       Logging            `json:"logging" yaml:"logging"`
	Telemetry     Telemetry          `json:"telemetry" yaml:"telemetry"`
	Collections   []CollectionConfig `json:"collections" yaml:"collections"`
}

// Database configuration. Type is "sqlite" or "postgres"; a non-empty URL
// selects PostgreSQL when Type is left empty.
type Database struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
	URL  string `json:"url" yaml:"url"`
}

// Sync configuration of the sync engine
type Sync struct {
	TombstoneRetention     int64 `json:"tombstoneRetention" yaml:"tombstoneRetention"`
	CleanupIntervalMinutes int   `json:"cleanupIntervalMinutes" yaml:"cleanupIntervalMinutes"`
	RequestTimeoutSeconds  int   `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
	ConflictBatchSize      int   `json:"conflictBatchSize" yaml:"conflictBatchSize"`
	MaxConcurrency         int   `json:"maxConcurrency" yaml:"maxConcurrency"`
	UpgradePageSize        int   `json:"upgradePageSize" yaml:"upgradePageSize"`
}

// Logging configuration
type Logging struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays"`
}

// Telemetry configuration for OpenTelemetry export
type Telemetry struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRatio float64 `json:"sampleRatio" yaml:"sampleRatio"`
}

// CollectionConfig declares a collection without upgrade processors
type CollectionConfig struct {
	Name            string                       `json:"name" yaml:"name"`
	Versions        []string                     `json:"versions" yaml:"versions"`
	Dependencies    models.DependencyDeclaration `json:"dependencies" yaml:"dependencies"`
	UniqueKeyFields []string                     `json:"uniqueKeyFields" yaml:"uniqueKeyFields"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	switch strings.ToLower(c.Database.Type) {
	case "postgres", "postgresql":
		return true
	case "":
		return c.Database.URL != ""
	default:
		return false
	}
}

// DSN returns the data source name of the configured database
func (c *Config) DSN() string {
	if c.UsePostgres() {
		return c.Database.URL
	}
	return c.Database.Path
}

// DialectName returns the repository dialect name of the configured database
func (c *Config) DialectName() string {
	if c.UsePostgres() {
		return "postgres"
	}
	return "sqlite"
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	if c.Sync.TombstoneRetention < 0 {
		return fmt.Errorf("sync.tombstoneRetention must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sampleRatio must be between 0 and 1")
	}
	if c.UsePostgres() && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for postgres")
	}
	if !c.UsePostgres() && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite")
	}
	return nil
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		Database: Database{
			Type: "",
			Path: "colsync.db",
		},
		Sync: Sync{
			TombstoneRetention:     10000,
			CleanupIntervalMinutes: 60,
			RequestTimeoutSeconds:  30,
			ConflictBatchSize:      10,
			MaxConcurrency:         8,
			UpgradePageSize:        200,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4317",
			Environment: "development",
			SampleRatio: 1,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, then applies environment
// overrides. A missing file leaves the defaults in place. Files ending in
// .yaml or .yml are parsed as YAML, anything else as JSON.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)

	if !cfg.UsePostgres() && cfg.Database.Path != "" && cfg.Database.Path != ":memory:" {
		absPath, err := filepath.Abs(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		cfg.Database.Path = absPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Override from environment variables
func applyEnv(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbType := os.Getenv("DATABASE_TYPE"); dbType != "" {
		cfg.Database.Type = dbType
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}

	if v, ok := envInt("TOMBSTONE_RETENTION"); ok && v >= 0 {
		cfg.Sync.TombstoneRetention = int64(v)
	}
	if v, ok := envInt("CLEANUP_INTERVAL_MINUTES"); ok && v > 0 {
		cfg.Sync.CleanupIntervalMinutes = v
	}
	if v, ok := envInt("SYNC_TIMEOUT_SECONDS"); ok && v > 0 {
		cfg.Sync.RequestTimeoutSeconds = v
	}
	if v, ok := envInt("CONFLICT_BATCH_SIZE"); ok && v > 0 {
		cfg.Sync.ConflictBatchSize = v
	}
	if v, ok := envInt("SYNC_MAX_CONCURRENCY"); ok && v > 0 {
		cfg.Sync.MaxConcurrency = v
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Logging.File = file
	}

	if enabled := os.Getenv("OTEL_ENABLED"); enabled != "" {
		cfg.Telemetry.Enabled = enabled == "true" || enabled == "1"
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.Endpoint = endpoint
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Telemetry.Environment = env
	}
	if raw := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Telemetry.SampleRatio = ratio
		}
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
