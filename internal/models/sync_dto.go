package models

// SyncDecision is the sync mode chosen for one collection
type SyncDecision string

const (
	SyncNone  SyncDecision = "none"
	SyncDelta SyncDecision = "delta"
	SyncFull  SyncDecision = "full"
)

// ModuleSyncRequest carries a client's last known watermark for one collection
type ModuleSyncRequest struct {
	Name        string `json:"name"`
	LastUpdated int64  `json:"lastUpdated"`
}

// SyncRequest for POST /api/sync
type SyncRequest struct {
	Modules []ModuleSyncRequest `json:"modules"`
}

// SyncItems holds the changed and deleted items of a delta sync
type SyncItems struct {
	ToUpdate []*Record    `json:"toUpdate"`
	ToDelete []*Tombstone `json:"toDelete"`
}

// ModuleSyncResult is the per-collection answer to a sync request
type ModuleSyncResult struct {
	Name        string       `json:"name"`
	Sync        SyncDecision `json:"sync"`
	LastUpdated int64        `json:"lastUpdated"`
	Items       *SyncItems   `json:"items,omitempty"`
}

// SyncResponse for POST /api/sync
type SyncResponse struct {
	Modules []ModuleSyncResult `json:"modules"`
}
