package services

import (
	"context"
	"sync"
	"time"

	"github.com/colsync/server/internal/observability"
)

// CleanupStatus represents the current status of tombstone cleanup
type CleanupStatus struct {
	Running          bool         `json:"running"`
	Enabled          bool         `json:"enabled"`
	Retention        int64        `json:"retention"`
	LastRun          time.Time    `json:"lastRun,omitempty"`
	LastRunDuration  string       `json:"lastRunDuration,omitempty"`
	LastResult       *PruneResult `json:"lastResult,omitempty"`
	Errors           []string     `json:"errors,omitempty"`
	NextScheduledRun time.Time    `json:"nextScheduledRun,omitempty"`
}

// CleanupService prunes the tombstone log down to its retention budget,
// periodically and on demand
type CleanupService struct {
	tombstones *TombstoneLog
	retention  int64
	interval   time.Duration

	mu       sync.RWMutex
	enabled  bool
	running  bool
	stopChan chan struct{}
	status   CleanupStatus
	ticker   *time.Ticker
}

// NewCleanupService creates a new CleanupService. A retention of zero or
// less disables pruning.
func NewCleanupService(tombstones *TombstoneLog, retention int64, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupService{
		tombstones: tombstones,
		retention:  retention,
		interval:   interval,
		stopChan:   make(chan struct{}),
		status: CleanupStatus{
			Retention: retention,
			Errors:    []string{},
		},
	}
}

// Start begins the background cleanup loop
func (s *CleanupService) Start() {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return // Already started
	}
	s.enabled = true
	s.status.Enabled = true
	s.stopChan = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.status.NextScheduledRun = time.Now().Add(s.interval)
	ticker, stop := s.ticker, s.stopChan
	s.mu.Unlock()

	observability.Infof("Cleanup service started (runs every %s, retention %d)", s.interval, s.retention)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.status.NextScheduledRun = time.Now().Add(s.interval)
				s.mu.Unlock()
				if _, err := s.Invoke(context.Background()); err != nil {
					observability.Warnf("Scheduled cleanup failed: %v", err)
				}
			case <-stop:
				ticker.Stop()
				observability.Info("Cleanup service stopped")
				return
			}
		}
	}()
}

// Stop stops the cleanup loop
func (s *CleanupService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return // Already stopped
	}

	s.enabled = false
	s.status.Enabled = false
	s.ticker = nil
	close(s.stopChan)
}

// IsEnabled returns whether the periodic loop is running
func (s *CleanupService) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// GetStatus returns the current cleanup status
func (s *CleanupService) GetStatus() CleanupStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := s.status
	status.Errors = append([]string(nil), s.status.Errors...)
	return status
}

// RunNow triggers an immediate cleanup in the background
func (s *CleanupService) RunNow() {
	go func() {
		if _, err := s.Invoke(context.Background()); err != nil {
			observability.Warnf("Cleanup failed: %v", err)
		}
	}()
}

// Invoke prunes tombstones once. It returns nil without touching the
// store when retention is disabled or a run is already in progress.
func (s *CleanupService) Invoke(ctx context.Context) (*PruneResult, error) {
	if s.retention <= 0 {
		observability.WithContext(ctx).Debugf("Tombstone retention disabled, skipping cleanup")
		return nil, nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		observability.WithContext(ctx).Info("Cleanup already running, skipping")
		return nil, nil
	}
	s.running = true
	s.status.Running = true
	s.mu.Unlock()

	startTime := time.Now()
	result, err := s.tombstones.PruneIfOverBudget(ctx, s.retention)
	duration := time.Since(startTime)

	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.status.LastRun = startTime
	s.status.LastRunDuration = duration.Round(time.Millisecond).String()
	s.status.Errors = []string{}
	if err != nil {
		s.status.Errors = append(s.status.Errors, err.Error())
	} else {
		s.status.LastResult = result
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	observability.WithContext(ctx).Infof("Cleanup completed in %s", duration.Round(time.Millisecond))
	return result, nil
}
