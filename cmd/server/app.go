package main

import (
	"context"
	"fmt"
	"time"

	"github.com/colsync/server/internal/catalog"
	"github.com/colsync/server/internal/config"
	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
	"github.com/colsync/server/internal/repository"
	"github.com/colsync/server/internal/services"
)

// app holds the wired sync engine
type app struct {
	cfg       *config.Config
	store     *repository.Store
	telemetry *observability.Telemetry

	registry    *services.Registry
	watermarks  *services.WatermarkStore
	tombstones  *services.TombstoneLog
	collections *services.CollectionService
	sync        *services.SmartSync
	cleanup     *services.CleanupService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	observability.Configure(observability.LogOptions{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	telemetryCfg := observability.NewConfig(
		serviceName, serviceVersion, cfg.Telemetry.Environment, cfg.Telemetry.Endpoint, cfg.Telemetry.Enabled,
	)
	telemetryCfg.SampleRatio = cfg.Telemetry.SampleRatio
	telemetry, err := observability.Initialize(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	dialect, err := repository.ParseDialect(cfg.DialectName())
	if err != nil {
		return nil, err
	}
	observability.Infof("Using %s database", dialect.System())
	store, err := repository.Open(dialect, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry, err := catalog.NewRegistry(cfg.Collections)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid collection registry: %w", err)
	}

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		observability.Warnf("Sync metrics disabled: %v", err)
	}

	a := &app{cfg: cfg, store: store, telemetry: telemetry, registry: registry}
	ledger := services.NewVersionLedger(registry, metrics)
	a.watermarks = services.NewWatermarkStore(store)
	a.tombstones = services.NewTombstoneLog(store, a.watermarks, models.NowMillis, metrics)
	checker := services.NewDependencyChecker(registry, cfg.Sync.ConflictBatchSize)
	a.collections = services.NewCollectionService(store, registry, ledger, a.watermarks, a.tombstones, checker, models.NowMillis, metrics)
	a.sync = services.NewSmartSync(
		registry, a.watermarks, a.tombstones, a.collections,
		time.Duration(cfg.Sync.RequestTimeoutSeconds)*time.Second,
		cfg.Sync.MaxConcurrency,
		metrics,
	)
	a.cleanup = services.NewCleanupService(
		a.tombstones,
		cfg.Sync.TombstoneRetention,
		time.Duration(cfg.Sync.CleanupIntervalMinutes)*time.Minute,
	)

	for _, c := range registry.Collections() {
		observability.WithField("collection", c.Name()).Infof("Registered collection at version %s", c.Latest())
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		observability.Warnf("Failed to close database: %v", err)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		observability.Warnf("Failed to shut down telemetry: %v", err)
	}
}
