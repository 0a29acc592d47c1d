package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Record is a document stored in a syncable collection.
// Timestamps are Unix milliseconds.
type Record struct {
	ID        string          `json:"id"`
	Version   string          `json:"version"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRecord creates a Record with the given payload; id and version may be
// left empty and are filled in by the write path.
func NewRecord(id, version string, payload json.RawMessage) *Record {
	return &Record{
		ID:      strings.TrimSpace(id),
		Version: version,
		Payload: payload,
	}
}

// NowMillis returns the current wall-clock time in Unix milliseconds
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ValidatePayload checks that the payload is a JSON object
func (r *Record) ValidatePayload() error {
	if len(r.Payload) == 0 {
		r.Payload = json.RawMessage("{}")
		return nil
	}
	if !gjson.ValidBytes(r.Payload) || !gjson.ParseBytes(r.Payload).IsObject() {
		return ErrInvalidPayload
	}
	return nil
}

// Get reads a payload field using a dotted path
func (r *Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Payload, path)
}

// Set writes a payload field using a dotted path
func (r *Record) Set(path string, value interface{}) error {
	payload, err := sjson.SetBytes(r.payloadBytes(), path, value)
	if err != nil {
		return err
	}
	r.Payload = payload
	return nil
}

// Rename moves a payload field to a new path. Missing fields are left alone.
func (r *Record) Rename(from, to string) error {
	value := r.Get(from)
	if !value.Exists() {
		return nil
	}
	payload, err := sjson.SetRawBytes(r.payloadBytes(), to, []byte(value.Raw))
	if err != nil {
		return err
	}
	payload, err = sjson.DeleteBytes(payload, from)
	if err != nil {
		return err
	}
	r.Payload = payload
	return nil
}

// Remove deletes a payload field
func (r *Record) Remove(path string) error {
	payload, err := sjson.DeleteBytes(r.payloadBytes(), path)
	if err != nil {
		return err
	}
	r.Payload = payload
	return nil
}

// StringValues returns the string values held by a field. A scalar field
// yields one value, an array field yields its string elements.
func (r *Record) StringValues(path string) []string {
	value := r.Get(path)
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	if !value.IsArray() {
		return []string{value.String()}
	}
	var values []string
	for _, item := range value.Array() {
		if item.Type == gjson.String {
			values = append(values, item.String())
		}
	}
	return values
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	clone := *r
	if r.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &clone
}

func (r *Record) payloadBytes() []byte {
	if len(r.Payload) == 0 {
		return []byte("{}")
	}
	return r.Payload
}
