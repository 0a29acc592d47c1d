package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
)

const (
	defaultSyncTimeout     = 30 * time.Second
	defaultSyncConcurrency = 8
)

// RecordSource reads records of a collection for delta sync
type RecordSource interface {
	Query(ctx context.Context, collection string, q models.Query) ([]*models.Record, error)
}

// Decide picks the sync mode of one collection. Rules apply in order:
//   - a client that never synced gets a full sync once the server has data
//   - a client older than the oldest retained tombstone gets a full sync
//   - a client at the server watermark needs nothing
//   - a client ahead of the server (e.g. after a server restore) gets a full sync
//   - everyone else gets a delta
func Decide(clientLastUpdated int64, wm models.SyncWatermark) models.SyncDecision {
	switch {
	case clientLastUpdated == 0 && wm.LastUpdated > 0:
		return models.SyncFull
	case wm.OldestDeleted != nil && *wm.OldestDeleted > clientLastUpdated:
		return models.SyncFull
	case clientLastUpdated == wm.LastUpdated:
		return models.SyncNone
	case clientLastUpdated > wm.LastUpdated:
		return models.SyncFull
	default:
		return models.SyncDelta
	}
}

// SmartSync computes per-collection sync decisions for client requests
type SmartSync struct {
	registry    *Registry
	watermarks  *WatermarkStore
	tombstones  *TombstoneLog
	records     RecordSource
	timeout     time.Duration
	concurrency int
	metrics     *observability.SyncMetrics
}

// NewSmartSync creates a new SmartSync. Zero timeout or concurrency
// selects the defaults.
func NewSmartSync(
	registry *Registry,
	watermarks *WatermarkStore,
	tombstones *TombstoneLog,
	records RecordSource,
	timeout time.Duration,
	concurrency int,
	metrics *observability.SyncMetrics,
) *SmartSync {
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultSyncConcurrency
	}
	return &SmartSync{
		registry:    registry,
		watermarks:  watermarks,
		tombstones:  tombstones,
		records:     records,
		timeout:     timeout,
		concurrency: concurrency,
		metrics:     metrics,
	}
}

// ComputeSync answers a sync request. Collections are computed
// concurrently under one overall timeout. Unknown collections and
// collections whose computation fails are logged and left out of the
// response; the others are returned in request order.
func (s *SmartSync) ComputeSync(ctx context.Context, requests []models.ModuleSyncRequest) *models.SyncResponse {
	ctx, span := observability.StartServiceSpan(ctx, "SmartSync", "ComputeSync", observability.RecordCount(len(requests)))
	defer span.End()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]*models.ModuleSyncResult, len(requests))

	// Goroutines never return an error, so one failure cannot cancel the rest
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range requests {
		g.Go(func() error {
			result, err := s.computeOne(ctx, req)
			if err != nil {
				observability.WithContext(ctx).WithFields(map[string]interface{}{
					"collection":  req.Name,
					"lastUpdated": req.LastUpdated,
				}).Warnf("Skipping collection in sync response: %v", err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	response := &models.SyncResponse{Modules: make([]models.ModuleSyncResult, 0, len(requests))}
	for _, r := range results {
		if r != nil {
			response.Modules = append(response.Modules, *r)
		}
	}

	s.metrics.RecordBatch(ctx, len(requests), time.Since(start))
	observability.SetSuccess(span)
	return response
}

func (s *SmartSync) computeOne(ctx context.Context, req models.ModuleSyncRequest) (*models.ModuleSyncResult, error) {
	if _, err := s.registry.Lookup(req.Name); err != nil {
		return nil, err
	}
	if req.LastUpdated < 0 {
		return nil, fmt.Errorf("negative lastUpdated %d", req.LastUpdated)
	}

	wm, err := s.watermarks.Bootstrap(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	decision := Decide(req.LastUpdated, wm)
	result := &models.ModuleSyncResult{
		Name:        req.Name,
		Sync:        decision,
		LastUpdated: wm.LastUpdated,
	}

	if decision == models.SyncDelta {
		since := req.LastUpdated
		toUpdate, err := s.records.Query(ctx, req.Name, models.Query{UpdatedSince: &since})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch changed records: %w", err)
		}
		toDelete, err := s.tombstones.QueryDeleted(ctx, req.Name, since)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tombstones: %w", err)
		}
		if toUpdate == nil {
			toUpdate = []*models.Record{}
		}
		if toDelete == nil {
			toDelete = []*models.Tombstone{}
		}
		result.Items = &models.SyncItems{ToUpdate: toUpdate, ToDelete: toDelete}
	}

	s.metrics.RecordDecision(ctx, req.Name, string(decision))
	return result, nil
}
