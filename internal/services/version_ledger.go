package services

import (
	"context"
	"errors"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
)

// VersionLedger migrates records along their collection's version chain
type VersionLedger struct {
	registry *Registry
	metrics  *observability.SyncMetrics
}

// NewVersionLedger creates a new VersionLedger
func NewVersionLedger(registry *Registry, metrics *observability.SyncMetrics) *VersionLedger {
	return &VersionLedger{registry: registry, metrics: metrics}
}

// Upgrade walks every record toward the latest version, running the
// processor registered for each intermediate version over all records
// currently at that version. Records stop at the first version without a
// processor. Only records that were actually changed are returned.
//
// A failing processor aborts the whole batch with *models.UpgradeFailedError.
// Records already mutated by earlier steps keep their in-memory changes.
func (l *VersionLedger) Upgrade(ctx context.Context, collection string, records []*models.Record) ([]*models.Record, error) {
	col, err := l.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	return l.upgrade(ctx, col, records)
}

func (l *VersionLedger) upgrade(ctx context.Context, col *Collection, records []*models.Record) ([]*models.Record, error) {
	latest := col.Latest()
	pending := false
	for _, r := range records {
		if r.Version != latest {
			pending = true
			break
		}
	}
	if !pending {
		return nil, nil
	}

	logger := observability.WithContext(ctx).WithField("collection", col.Name())
	changed := make(map[*models.Record]bool)
	versions := col.Versions()

	for _, r := range records {
		if r.Version != latest && !col.HasVersion(r.Version) {
			logger.WithField("id", r.ID).Warnf("Record version %s is not declared, leaving as is", r.Version)
		}
	}

	// Oldest first, so records stamped with the next version are picked up
	// again on the following step.
	for i := len(versions) - 1; i > 0; i-- {
		from, to := versions[i], versions[i-1]

		var batch []*models.Record
		for _, r := range records {
			if r.Version == from {
				batch = append(batch, r)
			}
		}
		if len(batch) == 0 {
			continue
		}

		proc := col.Processor(from)
		if proc == nil {
			logger.Debugf("No upgrade processor from %s to %s, %d record(s) stay at %s", from, to, len(batch), from)
			continue
		}

		if err := proc(ctx, batch); err != nil {
			id, ok := models.FailedRecordID(err)
			if !ok {
				id = batch[0].ID
			}
			logger.WithField("id", id).Errorf("Upgrade from %s to %s failed: %v", from, to, err)
			l.metrics.RecordUpgrade(ctx, col.Name(), 0, 1)
			return nil, &models.UpgradeFailedError{ID: id, FromVersion: from, ToVersion: to, Err: err}
		}

		for _, r := range batch {
			r.Version = to
			changed[r] = true
		}
	}

	var out []*models.Record
	for _, r := range records {
		if changed[r] {
			out = append(out, r)
		}
	}
	l.metrics.RecordUpgrade(ctx, col.Name(), len(out), 0)
	return out, nil
}

// UpgradeEach upgrades records one at a time on copies, so one failing
// record does not block the others. Changed copies are returned alongside
// the failures; the input records are never modified.
func (l *VersionLedger) UpgradeEach(ctx context.Context, collection string, records []*models.Record) ([]*models.Record, []*models.UpgradeFailedError, error) {
	col, err := l.registry.Lookup(collection)
	if err != nil {
		return nil, nil, err
	}

	var (
		changed  []*models.Record
		failures []*models.UpgradeFailedError
	)
	for _, r := range records {
		if r.Version == col.Latest() {
			continue
		}
		clone := r.Clone()
		out, err := l.upgrade(ctx, col, []*models.Record{clone})
		if err != nil {
			var failed *models.UpgradeFailedError
			if errors.As(err, &failed) {
				failures = append(failures, failed)
				continue
			}
			return nil, nil, err
		}
		changed = append(changed, out...)
	}
	return changed, failures, nil
}
