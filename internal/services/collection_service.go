package services

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
	"github.com/colsync/server/internal/repository"
)

const defaultUpgradePageSize = 200

// WriteResult describes what a committed write transaction changed
type WriteResult struct {
	Written     map[string][]*models.Record
	Deleted     map[string][]string
	LastUpdated map[string]int64
}

// CollectionService is the write path of every collection. It keeps
// records, tombstones and watermarks consistent with each other.
type CollectionService struct {
	storage    repository.Storage
	registry   *Registry
	ledger     *VersionLedger
	watermarks *WatermarkStore
	tombstones *TombstoneLog
	checker    *DependencyChecker
	clock      Clock
	metrics    *observability.SyncMetrics
}

// NewCollectionService creates a new CollectionService
func NewCollectionService(
	storage repository.Storage,
	registry *Registry,
	ledger *VersionLedger,
	watermarks *WatermarkStore,
	tombstones *TombstoneLog,
	checker *DependencyChecker,
	clock Clock,
	metrics *observability.SyncMetrics,
) *CollectionService {
	if clock == nil {
		clock = models.NowMillis
	}
	return &CollectionService{
		storage:    storage,
		registry:   registry,
		ledger:     ledger,
		watermarks: watermarks,
		tombstones: tombstones,
		checker:    checker,
		clock:      clock,
		metrics:    metrics,
	}
}

// WriteTxn groups writes that commit or roll back together. Deletes inside
// one WriteTxn share a deleted-set, so a later dependency check ignores
// records removed earlier in the same transaction.
type WriteTxn struct {
	svc     *CollectionService
	repos   repository.Repos
	deleted *DeleteTxn
	result  *WriteResult
	changes map[string]*models.WatermarkChange
	order   []string
}

// RunInTransaction runs fn in one database transaction. Watermarks are
// raised inside the transaction; listeners are notified once it committed.
func (s *CollectionService) RunInTransaction(ctx context.Context, fn func(ctx context.Context, txn *WriteTxn) error) (*WriteResult, error) {
	var txn *WriteTxn
	err := s.storage.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		txn = &WriteTxn{
			svc:     s,
			repos:   repos,
			deleted: NewDeleteTxn(),
			result: &WriteResult{
				Written:     make(map[string][]*models.Record),
				Deleted:     make(map[string][]string),
				LastUpdated: make(map[string]int64),
			},
			changes: make(map[string]*models.WatermarkChange),
		}
		if err := fn(ctx, txn); err != nil {
			return err
		}
		for _, collection := range txn.order {
			if err := s.watermarks.Apply(ctx, repos.State, *txn.changes[collection]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, collection := range txn.order {
		s.watermarks.Notify(*txn.changes[collection])
		wm, _, err := s.watermarks.Get(ctx, collection)
		if err != nil {
			return nil, err
		}
		txn.result.LastUpdated[collection] = wm.LastUpdated
	}
	return txn.result, nil
}

// raise merges a watermark change into the pending ones of the transaction
func (w *WriteTxn) raise(collection string, lastUpdated, oldestDeleted *int64) {
	change, ok := w.changes[collection]
	if !ok {
		change = &models.WatermarkChange{Collection: collection}
		w.changes[collection] = change
		w.order = append(w.order, collection)
	}
	if lastUpdated != nil && (change.LastUpdated == nil || *lastUpdated > *change.LastUpdated) {
		change.LastUpdated = models.Int64Ptr(*lastUpdated)
	}
	if oldestDeleted != nil && (change.OldestDeleted == nil || *oldestDeleted > *change.OldestDeleted) {
		change.OldestDeleted = models.Int64Ptr(*oldestDeleted)
	}
}

// Put upserts records. Missing ids are generated, missing versions default
// to the latest one, and older versions are upgraded before the write.
// Creation time of existing records is kept and updatedAt never decreases.
func (w *WriteTxn) Put(ctx context.Context, collection string, records []*models.Record) ([]*models.Record, error) {
	col, err := w.svc.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	prepared, err := w.svc.prepare(ctx, col, records)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return prepared, nil
	}

	ids := make([]string, 0, len(prepared))
	for _, r := range prepared {
		ids = append(ids, r.ID)
	}
	existing, err := w.repos.Documents.GetMany(ctx, collection, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing records: %w", err)
	}
	byID := make(map[string]*models.Record, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	now := w.svc.clock()
	var newest int64
	for _, r := range prepared {
		r.CreatedAt, r.UpdatedAt = now, now
		if prev, ok := byID[r.ID]; ok {
			r.CreatedAt = prev.CreatedAt
			r.UpdatedAt = max(now, prev.UpdatedAt)
		}
		newest = max(newest, r.UpdatedAt)
	}

	if err := w.repos.Documents.Upsert(ctx, collection, prepared); err != nil {
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	// A record written again is no longer deleted
	revived, err := w.repos.Tombstones.DeleteFor(ctx, collection, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to clear tombstones: %w", err)
	}
	if revived > 0 {
		if err := w.repos.State.AddCounter(ctx, models.TombstoneCounterPath, -revived); err != nil {
			return nil, err
		}
	}

	w.raise(collection, &newest, nil)
	w.result.Written[collection] = append(w.result.Written[collection], prepared...)
	w.svc.metrics.RecordWrite(ctx, collection, len(prepared))
	return prepared, nil
}

// Delete removes ids from collection after checking that no other record
// still references them. A non-empty conflict report aborts with
// *models.ConflictError. Ids that do not exist are ignored.
func (w *WriteTxn) Delete(ctx context.Context, collection string, ids []string) ([]string, error) {
	col, err := w.svc.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	ids, err = uniqueIDs(ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	report, err := w.svc.checker.CheckDeletable(ctx, w.repos.Documents, collection, ids, w.deleted)
	if err != nil {
		return nil, err
	}
	if !report.IsEmpty() {
		w.svc.metrics.RecordConflict(ctx, collection)
		return nil, &models.ConflictError{Collection: collection, Report: report}
	}
	return w.remove(ctx, col, ids)
}

// DeleteCascade removes ids together with every record that references
// them, directly or transitively. Dependents are deleted before the records
// they point at.
func (w *WriteTxn) DeleteCascade(ctx context.Context, collection string, ids []string) (map[string][]string, error) {
	root, err := w.svc.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	ids, err = uniqueIDs(ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}

	type step struct {
		col *Collection
		ids []string
	}
	plan := []step{{col: root, ids: ids}}
	// Planned ids count as deleted, so cycles terminate
	w.deleted.MarkDeleted(collection, ids...)

	for i := 0; i < len(plan); i++ {
		refs, err := w.svc.checker.Referencing(ctx, w.repos.Documents, plan[i].col.Name(), plan[i].ids, w.deleted)
		if err != nil {
			return nil, err
		}
		for _, name := range slices.Sorted(maps.Keys(refs)) {
			dep, err := w.svc.registry.Lookup(name)
			if err != nil {
				return nil, err
			}
			w.deleted.MarkDeleted(name, refs[name]...)
			plan = append(plan, step{col: dep, ids: refs[name]})
		}
	}

	removed := make(map[string][]string)
	for i := len(plan) - 1; i >= 0; i-- {
		deleted, err := w.remove(ctx, plan[i].col, plan[i].ids)
		if err != nil {
			return nil, err
		}
		if len(deleted) > 0 {
			removed[plan[i].col.Name()] = append(removed[plan[i].col.Name()], deleted...)
		}
	}
	return removed, nil
}

// Wipe removes every record of collection and its tombstones. oldestDeleted
// is raised to now so every client falls back to a full sync.
func (w *WriteTxn) Wipe(ctx context.Context, collection string) (int64, error) {
	if _, err := w.svc.registry.Lookup(collection); err != nil {
		return 0, err
	}

	all, err := w.repos.Documents.Query(ctx, collection, models.Query{Order: models.OrderByID})
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}
	ids := make([]string, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}

	report, err := w.svc.checker.CheckDeletable(ctx, w.repos.Documents, collection, ids, w.deleted)
	if err != nil {
		return 0, err
	}
	if !report.IsEmpty() {
		w.svc.metrics.RecordConflict(ctx, collection)
		return 0, &models.ConflictError{Collection: collection, Report: report}
	}

	n, err := w.repos.Documents.DeleteAll(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	w.deleted.MarkDeleted(collection, ids...)

	dropped, err := w.repos.Tombstones.DeleteCollection(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to drop tombstones: %w", err)
	}
	if dropped > 0 {
		if err := w.repos.State.AddCounter(ctx, models.TombstoneCounterPath, -dropped); err != nil {
			return 0, err
		}
	}

	now := w.svc.clock()
	w.raise(collection, &now, &now)
	w.result.Deleted[collection] = append(w.result.Deleted[collection], ids...)
	w.svc.metrics.RecordDelete(ctx, collection, int(n))
	return n, nil
}

func (w *WriteTxn) remove(ctx context.Context, col *Collection, ids []string) ([]string, error) {
	deleted, err := w.repos.Documents.Delete(ctx, col.Name(), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to delete records: %w", err)
	}
	w.deleted.MarkDeleted(col.Name(), ids...)
	if len(deleted) == 0 {
		return nil, nil
	}

	tombstones, err := w.svc.tombstones.RecordDeletions(ctx, w.repos, col.Name(), deleted, col.UniqueKeyFields())
	if err != nil {
		return nil, err
	}
	var deletedAt int64
	for _, ts := range tombstones {
		deletedAt = max(deletedAt, ts.UpdatedAt)
	}
	w.raise(col.Name(), &deletedAt, nil)

	removed := make([]string, 0, len(deleted))
	for _, r := range deleted {
		removed = append(removed, r.ID)
	}
	w.result.Deleted[col.Name()] = append(w.result.Deleted[col.Name()], removed...)
	w.svc.metrics.RecordDelete(ctx, col.Name(), len(removed))
	return removed, nil
}

// prepare validates and normalizes a batch on copies of the input records
func (s *CollectionService) prepare(ctx context.Context, col *Collection, records []*models.Record) ([]*models.Record, error) {
	prepared := make([]*models.Record, 0, len(records))
	for _, in := range records {
		r := in.Clone()
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if err := r.ValidatePayload(); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		if r.Version == "" {
			r.Version = col.Latest()
		} else if !col.HasVersion(r.Version) {
			return nil, fmt.Errorf("%w: %s %s", models.ErrInvalidVersion, col.Name(), r.Version)
		}
		prepared = append(prepared, r)
	}

	if _, err := s.ledger.upgrade(ctx, col, prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

// Put writes records in their own transaction
func (s *CollectionService) Put(ctx context.Context, collection string, records []*models.Record) (*WriteResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "CollectionService", "Put",
		observability.Collection(collection), observability.RecordCount(len(records)))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var result *WriteResult
	result, err = s.RunInTransaction(ctx, func(ctx context.Context, txn *WriteTxn) error {
		_, err := txn.Put(ctx, collection, records)
		return err
	})
	return result, err
}

// Delete removes ids in their own transaction
func (s *CollectionService) Delete(ctx context.Context, collection string, ids []string) (*WriteResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "CollectionService", "Delete",
		observability.Collection(collection), observability.RecordCount(len(ids)))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var result *WriteResult
	result, err = s.RunInTransaction(ctx, func(ctx context.Context, txn *WriteTxn) error {
		_, err := txn.Delete(ctx, collection, ids)
		return err
	})
	return result, err
}

// DeleteCascade removes ids and everything referencing them in one transaction
func (s *CollectionService) DeleteCascade(ctx context.Context, collection string, ids []string) (*WriteResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "CollectionService", "DeleteCascade",
		observability.Collection(collection), observability.RecordCount(len(ids)))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var result *WriteResult
	result, err = s.RunInTransaction(ctx, func(ctx context.Context, txn *WriteTxn) error {
		_, err := txn.DeleteCascade(ctx, collection, ids)
		return err
	})
	return result, err
}

// Wipe empties a collection in its own transaction
func (s *CollectionService) Wipe(ctx context.Context, collection string) (*WriteResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "CollectionService", "Wipe", observability.Collection(collection))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var result *WriteResult
	result, err = s.RunInTransaction(ctx, func(ctx context.Context, txn *WriteTxn) error {
		n, err := txn.Wipe(ctx, collection)
		if err == nil {
			observability.WithContext(ctx).WithField("collection", collection).Infof("Wiped %d record(s)", n)
		}
		return err
	})
	return result, err
}

// CheckDelete reports the conflicts a delete of ids would run into
func (s *CollectionService) CheckDelete(ctx context.Context, collection string, ids []string) (models.ConflictReport, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, err
	}
	ids, err := uniqueIDs(ids)
	if err != nil {
		return nil, err
	}
	return s.checker.CheckDeletable(ctx, s.storage.Documents(), collection, ids, nil)
}

// Get returns one record, upgraded to the latest version when possible
func (s *CollectionService) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, err
	}
	record, err := s.storage.Documents().Get(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrRecordNotFound, collection, id)
	}
	records := s.upgradeOnRead(ctx, collection, []*models.Record{record})
	return records[0], nil
}

// Query returns the records of collection matching q. Records stored at an
// older version are upgraded and written back.
func (s *CollectionService) Query(ctx context.Context, collection string, q models.Query) ([]*models.Record, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, err
	}
	records, err := s.storage.Documents().Query(ctx, collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return s.upgradeOnRead(ctx, collection, records), nil
}

// Count returns the number of records of collection matching q
func (s *CollectionService) Count(ctx context.Context, collection string, q models.Query) (int, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return 0, err
	}
	return s.storage.Documents().Count(ctx, collection, q)
}

// upgradeOnRead replaces outdated records with upgraded, persisted copies.
// Records that fail to upgrade, or changed since they were read, are served
// as read.
func (s *CollectionService) upgradeOnRead(ctx context.Context, collection string, records []*models.Record) []*models.Record {
	logger := observability.WithContext(ctx).WithField("collection", collection)

	changed, failures, err := s.ledger.UpgradeEach(ctx, collection, records)
	if err != nil {
		logger.Warnf("Read-time upgrade skipped: %v", err)
		return records
	}
	for _, f := range failures {
		logger.WithField("id", f.ID).Warnf("Read-time upgrade failed: %v", f)
	}
	if len(changed) == 0 {
		return records
	}

	written, err := s.persistUpgrades(ctx, collection, records, changed)
	if err != nil {
		logger.Warnf("Could not persist %d upgraded record(s): %v", len(changed), err)
		return records
	}

	upgraded := make(map[string]*models.Record, len(written))
	for _, r := range written {
		upgraded[r.ID] = r
	}
	out := make([]*models.Record, len(records))
	for i, r := range records {
		if u, ok := upgraded[r.ID]; ok {
			out[i] = u
		} else {
			out[i] = r
		}
	}
	return out
}

// persistUpgrades writes the upgraded copies of records read earlier. The
// stored rows are reloaded in the same transaction and a copy is only
// written while its row is still the one it was upgraded from, so rows
// rewritten or deleted in between are left alone.
func (s *CollectionService) persistUpgrades(ctx context.Context, collection string, read, upgraded []*models.Record) ([]*models.Record, error) {
	readByID := make(map[string]*models.Record, len(read))
	for _, r := range read {
		readByID[r.ID] = r
	}
	ids := make([]string, 0, len(upgraded))
	for _, r := range upgraded {
		ids = append(ids, r.ID)
	}

	var written []*models.Record
	_, err := s.RunInTransaction(ctx, func(ctx context.Context, txn *WriteTxn) error {
		stored, err := txn.repos.Documents.GetMany(ctx, collection, ids)
		if err != nil {
			return fmt.Errorf("failed to reload records: %w", err)
		}
		current := make(map[string]bool, len(stored))
		for _, r := range stored {
			if prev, ok := readByID[r.ID]; ok && sameRevision(prev, r) {
				current[r.ID] = true
			}
		}

		var pending []*models.Record
		for _, r := range upgraded {
			if current[r.ID] {
				pending = append(pending, r)
			}
		}
		if skipped := len(upgraded) - len(pending); skipped > 0 {
			observability.WithContext(ctx).WithField("collection", collection).
				Debugf("Skipping %d upgraded record(s) changed since read", skipped)
		}
		if len(pending) == 0 {
			return nil
		}
		written, err = txn.Put(ctx, collection, pending)
		return err
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

func sameRevision(a, b *models.Record) bool {
	return a.UpdatedAt == b.UpdatedAt && a.Version == b.Version && bytes.Equal(a.Payload, b.Payload)
}

// UpgradeCollection migrates every stored record of collection to the
// latest reachable version. Failing records are reported and left as is.
func (s *CollectionService) UpgradeCollection(ctx context.Context, collection string, pageSize int) (*models.UpgradeReport, error) {
	col, err := s.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = defaultUpgradePageSize
	}
	ctx, span := observability.StartServiceSpan(ctx, "CollectionService", "UpgradeCollection", observability.Collection(collection))
	defer func() { observability.EndSpan(span, err) }()

	report := &models.UpgradeReport{Collection: collection}
	stuck := 0
	for offset := 0; ; offset += pageSize {
		var page []*models.Record
		page, err = s.storage.Documents().Query(ctx, collection, models.Query{
			Order:  models.OrderByID,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", collection, err)
		}
		report.Scanned += len(page)

		var changed []*models.Record
		var failures []*models.UpgradeFailedError
		changed, failures, err = s.ledger.UpgradeEach(ctx, collection, page)
		if err != nil {
			return nil, err
		}
		report.Failures = append(report.Failures, failures...)
		stuck += countStuck(col, page, changed, failures)
		if len(changed) > 0 {
			var written []*models.Record
			if written, err = s.persistUpgrades(ctx, collection, page, changed); err != nil {
				return nil, err
			}
			report.Upgraded += len(written)
		}

		if len(page) < pageSize {
			break
		}
	}

	logger := observability.WithContext(ctx).WithFields(map[string]interface{}{
		"collection": collection,
		"scanned":    report.Scanned,
		"upgraded":   report.Upgraded,
		"failed":     len(report.Failures),
	})
	if stuck > 0 {
		logger.Warnf("%d record(s) stay below %s, no upgrade processor continues their chain", stuck, col.Latest())
	}
	logger.Info("Collection upgrade finished")
	return report, nil
}

// countStuck counts the records of page that end below the latest version
// without having failed
func countStuck(col *Collection, page, changed []*models.Record, failures []*models.UpgradeFailedError) int {
	version := make(map[string]string, len(page))
	for _, r := range page {
		version[r.ID] = r.Version
	}
	for _, r := range changed {
		version[r.ID] = r.Version
	}
	for _, f := range failures {
		delete(version, f.ID)
	}
	n := 0
	for _, v := range version {
		if v != col.Latest() {
			n++
		}
	}
	return n
}

// Watermark returns the watermark of collection, bootstrapping it if needed
func (s *CollectionService) Watermark(ctx context.Context, collection string) (models.SyncWatermark, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return models.SyncWatermark{}, err
	}
	return s.watermarks.Bootstrap(ctx, collection)
}

// Collections describes every registered collection with its watermark
func (s *CollectionService) Collections(ctx context.Context) ([]models.CollectionInfo, error) {
	cols := s.registry.Collections()
	infos := make([]models.CollectionInfo, 0, len(cols))
	for _, col := range cols {
		info := col.Info()
		wm, _, err := s.watermarks.Get(ctx, col.Name())
		if err != nil {
			return nil, err
		}
		info.Watermark = wm
		infos = append(infos, info)
	}
	return infos, nil
}

// uniqueIDs drops duplicates while keeping the first-seen order
func uniqueIDs(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, models.ErrEmptyID
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
