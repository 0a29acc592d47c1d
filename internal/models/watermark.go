package models

// SyncWatermark summarizes a collection's sync state.
// LastUpdated is the highest updatedAt of any applied write or delete;
// OldestDeleted is the floor below which delta sync is no longer safe.
type SyncWatermark struct {
	LastUpdated   int64  `json:"lastUpdated"`
	OldestDeleted *int64 `json:"oldestDeleted,omitempty"`
}

// WatermarkChange describes which watermark fields were advanced
type WatermarkChange struct {
	Collection    string `json:"collection"`
	LastUpdated   *int64 `json:"lastUpdated,omitempty"`
	OldestDeleted *int64 `json:"oldestDeleted,omitempty"`
}

const (
	// FieldLastUpdated is the watermark key holding lastUpdated
	FieldLastUpdated = "lastUpdated"
	// FieldOldestDeleted is the watermark key holding oldestDeleted
	FieldOldestDeleted = "oldestDeleted"

	// TombstoneCounterPath holds the process-wide count of retained tombstones
	TombstoneCounterPath = "/state/tombstones/count"

	watermarkPathPrefix = "/state/sync/"
)

// WatermarkPath returns the state path of a collection's watermark
func WatermarkPath(collection string) string {
	return watermarkPathPrefix + collection
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}
