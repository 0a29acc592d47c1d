package models

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/sjson"
)

// Tombstone marks a deleted document so clients can reconcile removals.
// ID mirrors DocID on reads so tombstones can be handled like any other
// "deleted" marker.
type Tombstone struct {
	ID              string          `json:"id"`
	Key             string          `json:"-"`
	CollectionName  string          `json:"collectionName"`
	DocID           string          `json:"docId"`
	Version         string          `json:"version"`
	UniqueKeyValues json.RawMessage `json:"uniqueKeyValues,omitempty"`
	UpdatedAt       int64           `json:"updatedAt"`
}

// NewTombstone builds the tombstone for a deleted record. The tombstone is
// dated at deletion time, not at the record's last update.
func NewTombstone(collection string, record *Record, uniqueKeyFields []string, deletedAt int64) *Tombstone {
	return &Tombstone{
		ID:              record.ID,
		Key:             ulid.Make().String(),
		CollectionName:  collection,
		DocID:           record.ID,
		Version:         record.Version,
		UniqueKeyValues: uniqueKeyValues(record, uniqueKeyFields),
		UpdatedAt:       deletedAt,
	}
}

func uniqueKeyValues(record *Record, fields []string) json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	values := []byte("{}")
	for _, field := range fields {
		value := record.Get(field)
		if !value.Exists() {
			continue
		}
		// Keys are stored flat so dotted field names stay addressable.
		updated, err := sjson.SetRawBytes(values, escapePath(field), []byte(value.Raw))
		if err != nil {
			continue
		}
		values = updated
	}
	return values
}

func escapePath(field string) string {
	escaped := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, field[i])
	}
	return string(escaped)
}
