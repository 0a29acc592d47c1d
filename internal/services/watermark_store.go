package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
	"github.com/colsync/server/internal/repository"
)

// WatermarkListener is notified after a watermark moved
type WatermarkListener interface {
	WatermarkChanged(change models.WatermarkChange)
}

// WatermarkStore is a typed view over the path-addressed state store.
// Every update is a single-statement raise-only merge of one field, so a
// lastUpdated bump and an oldestDeleted bump never overwrite each other.
type WatermarkStore struct {
	storage repository.Storage

	mu        sync.RWMutex
	listeners []WatermarkListener
}

// NewWatermarkStore creates a new WatermarkStore
func NewWatermarkStore(storage repository.Storage) *WatermarkStore {
	return &WatermarkStore{storage: storage}
}

// Subscribe registers a listener for watermark changes
func (s *WatermarkStore) Subscribe(l WatermarkListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Get returns the watermark of a collection. An absent watermark is the
// zero state, reported with found == false.
func (s *WatermarkStore) Get(ctx context.Context, collection string) (models.SyncWatermark, bool, error) {
	raw, err := s.storage.State().Get(ctx, models.WatermarkPath(collection))
	if err != nil {
		return models.SyncWatermark{}, false, fmt.Errorf("failed to read watermark of %s: %w", collection, err)
	}
	if raw == nil {
		return models.SyncWatermark{}, false, nil
	}
	var wm models.SyncWatermark
	if err := json.Unmarshal(raw, &wm); err != nil {
		return models.SyncWatermark{}, false, fmt.Errorf("corrupt watermark of %s: %w", collection, err)
	}
	return wm, true, nil
}

// PatchLastUpdated raises lastUpdated to ts
func (s *WatermarkStore) PatchLastUpdated(ctx context.Context, collection string, ts int64) error {
	change := models.WatermarkChange{Collection: collection, LastUpdated: models.Int64Ptr(ts)}
	if err := s.Apply(ctx, s.storage.State(), change); err != nil {
		return err
	}
	s.Notify(change)
	return nil
}

// PatchOldestDeleted raises oldestDeleted to ts
func (s *WatermarkStore) PatchOldestDeleted(ctx context.Context, collection string, ts int64) error {
	change := models.WatermarkChange{Collection: collection, OldestDeleted: models.Int64Ptr(ts)}
	if err := s.Apply(ctx, s.storage.State(), change); err != nil {
		return err
	}
	s.Notify(change)
	return nil
}

// Apply writes a change through state, typically a transaction's state
// repository. Listeners are not notified; call Notify once committed.
func (s *WatermarkStore) Apply(ctx context.Context, state repository.StateRepo, change models.WatermarkChange) error {
	path := models.WatermarkPath(change.Collection)
	if change.LastUpdated != nil {
		if err := state.Advance(ctx, path, models.FieldLastUpdated, *change.LastUpdated); err != nil {
			return fmt.Errorf("failed to advance lastUpdated of %s: %w", change.Collection, err)
		}
	}
	if change.OldestDeleted != nil {
		if err := state.Advance(ctx, path, models.FieldOldestDeleted, *change.OldestDeleted); err != nil {
			return fmt.Errorf("failed to advance oldestDeleted of %s: %w", change.Collection, err)
		}
	}
	return nil
}

// Notify tells listeners about a committed change
func (s *WatermarkStore) Notify(change models.WatermarkChange) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listeners {
		l.WatermarkChanged(change)
	}
}

// Bootstrap returns the watermark of a collection, seeding lastUpdated from
// the most recently updated record when none exists yet. A failing lookup
// seeds zero.
func (s *WatermarkStore) Bootstrap(ctx context.Context, collection string) (models.SyncWatermark, error) {
	wm, found, err := s.Get(ctx, collection)
	if err != nil || found {
		return wm, err
	}

	latest, _, err := s.storage.Documents().LatestUpdatedAt(ctx, collection)
	if err != nil {
		observability.WithContext(ctx).WithField("collection", collection).
			Warnf("Could not read latest record for watermark bootstrap, seeding 0: %v", err)
		latest = 0
	}

	if err := s.PatchLastUpdated(ctx, collection, latest); err != nil {
		return models.SyncWatermark{}, err
	}
	observability.WithContext(ctx).WithField("collection", collection).Infof("Seeded watermark lastUpdated=%d", latest)

	// Re-read: a concurrent writer may already have moved it further
	wm, _, err = s.Get(ctx, collection)
	return wm, err
}
