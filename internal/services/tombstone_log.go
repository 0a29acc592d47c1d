package services

import (
	"context"
	"fmt"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
	"github.com/colsync/server/internal/repository"
)

// Clock returns the current time in Unix milliseconds
type Clock func() int64

// PruneResult describes one pruning pass
type PruneResult struct {
	Counter   int64            `json:"counter"`
	Requested int64            `json:"requested"`
	Deleted   int64            `json:"deleted"`
	Recounted bool             `json:"recounted"`
	Floors    map[string]int64 `json:"floors,omitempty"`
}

// TombstoneLog records deletions so clients can reconcile removals
type TombstoneLog struct {
	storage    repository.Storage
	watermarks *WatermarkStore
	clock      Clock
	metrics    *observability.SyncMetrics
}

// NewTombstoneLog creates a new TombstoneLog
func NewTombstoneLog(storage repository.Storage, watermarks *WatermarkStore, clock Clock, metrics *observability.SyncMetrics) *TombstoneLog {
	if clock == nil {
		clock = models.NowMillis
	}
	return &TombstoneLog{storage: storage, watermarks: watermarks, clock: clock, metrics: metrics}
}

// RecordDeletions appends one tombstone per deleted record, dated now, and
// bumps the tombstone counter. repos is usually bound to the transaction
// that deleted the records.
func (l *TombstoneLog) RecordDeletions(ctx context.Context, repos repository.Repos, collection string, deleted []*models.Record, uniqueKeyFields []string) ([]*models.Tombstone, error) {
	if len(deleted) == 0 {
		return nil, nil
	}

	now := l.clock()
	tombstones := make([]*models.Tombstone, 0, len(deleted))
	for _, r := range deleted {
		tombstones = append(tombstones, models.NewTombstone(collection, r, uniqueKeyFields, now))
	}

	if err := repos.Tombstones.Append(ctx, tombstones); err != nil {
		return nil, fmt.Errorf("failed to append tombstones: %w", err)
	}
	if err := repos.State.AddCounter(ctx, models.TombstoneCounterPath, int64(len(tombstones))); err != nil {
		return nil, fmt.Errorf("failed to bump tombstone counter: %w", err)
	}
	return tombstones, nil
}

// QueryDeleted returns tombstones of a collection with updatedAt >= since
func (l *TombstoneLog) QueryDeleted(ctx context.Context, collection string, since int64) ([]*models.Tombstone, error) {
	return l.storage.Tombstones().QuerySince(ctx, collection, since)
}

// Count returns the tombstone counter, recounting when it was never set
func (l *TombstoneLog) Count(ctx context.Context) (int64, error) {
	counter, ok, err := l.storage.State().GetCounter(ctx, models.TombstoneCounterPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		return l.Recount(ctx)
	}
	return counter, nil
}

// Recount recomputes the counter from the stored tombstones
func (l *TombstoneLog) Recount(ctx context.Context) (int64, error) {
	count, err := l.storage.Tombstones().Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count tombstones: %w", err)
	}
	if err := l.storage.State().SetCounter(ctx, models.TombstoneCounterPath, count); err != nil {
		return 0, fmt.Errorf("failed to store tombstone counter: %w", err)
	}
	return count, nil
}

// PruneIfOverBudget deletes the oldest tombstones until at most retain
// remain. Every collection that lost tombstones gets its oldestDeleted
// raised to its oldest remaining tombstone, or to the newest pruned one when
// none remain. A counter that disagrees with the store is recounted.
func (l *TombstoneLog) PruneIfOverBudget(ctx context.Context, retain int64) (*PruneResult, error) {
	if retain < 0 {
		return nil, models.ErrInvalidRetention
	}
	ctx, span := observability.StartServiceSpan(ctx, "TombstoneLog", "PruneIfOverBudget")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	logger := observability.WithContext(ctx)

	counter, ok, err := l.storage.State().GetCounter(ctx, models.TombstoneCounterPath)
	if err != nil {
		return nil, err
	}
	result := &PruneResult{}
	if !ok {
		logger.Info("Tombstone counter unset, recounting")
		if counter, err = l.Recount(ctx); err != nil {
			return nil, err
		}
		result.Recounted = true
	}
	result.Counter = counter

	excess := counter - retain
	if excess <= 0 {
		return result, nil
	}
	result.Requested = excess

	var changes []models.WatermarkChange
	err = l.storage.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		pruned, err := repos.Tombstones.DeleteOldest(ctx, excess)
		if err != nil {
			return fmt.Errorf("failed to prune tombstones: %w", err)
		}
		result.Deleted = int64(len(pruned))

		if result.Deleted == excess {
			if err := repos.State.AddCounter(ctx, models.TombstoneCounterPath, -result.Deleted); err != nil {
				return err
			}
		}

		newestPruned := make(map[string]int64)
		var order []string
		for _, ts := range pruned {
			if _, seen := newestPruned[ts.CollectionName]; !seen {
				order = append(order, ts.CollectionName)
			}
			if ts.UpdatedAt > newestPruned[ts.CollectionName] {
				newestPruned[ts.CollectionName] = ts.UpdatedAt
			}
		}

		result.Floors = make(map[string]int64, len(order))
		for _, collection := range order {
			floor, remaining, err := repos.Tombstones.OldestFor(ctx, collection)
			if err != nil {
				return err
			}
			if !remaining {
				floor = newestPruned[collection]
			}
			change := models.WatermarkChange{Collection: collection, OldestDeleted: models.Int64Ptr(floor)}
			if err := l.watermarks.Apply(ctx, repos.State, change); err != nil {
				return err
			}
			result.Floors[collection] = floor
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, change := range changes {
		l.watermarks.Notify(change)
	}

	if result.Deleted != excess {
		logger.WithFields(map[string]interface{}{
			"requested": excess,
			"deleted":   result.Deleted,
		}).Warn("Tombstone counter drifted, recounting")
		if result.Counter, err = l.Recount(ctx); err != nil {
			return nil, err
		}
		result.Recounted = true
	} else {
		result.Counter = counter - result.Deleted
	}

	l.metrics.RecordPruned(ctx, int(result.Deleted))
	logger.Infof("Pruned %d tombstone(s), %d retained", result.Deleted, result.Counter)
	return result, nil
}
