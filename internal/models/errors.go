package models

import (
	"errors"
	"fmt"
)

// CollectionError is a validation or lookup failure of the sync engine
type CollectionError struct {
	Message string
}

func (e CollectionError) Error() string {
	return e.Message
}

var (
	ErrUnknownCollection = CollectionError{"unknown collection"}
	ErrInvalidVersion    = CollectionError{"version is not declared for collection"}
	ErrEmptyID           = CollectionError{"record id must not be empty"}
	ErrInvalidPayload    = CollectionError{"payload must be a JSON object"}
	ErrInvalidField      = CollectionError{"invalid field path"}
	ErrRecordNotFound    = CollectionError{"record not found"}
	ErrInvalidRetention  = CollectionError{"retention count must not be negative"}
)

// ConflictError is returned when a delete is refused because other
// collections still reference the candidate ids
type ConflictError struct {
	Collection string
	Report     ConflictReport
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot delete from %s: %d referenced record(s)", e.Collection, len(e.Report.Targets()))
}

// UpgradeFailedError is returned when an upgrade processor fails
type UpgradeFailedError struct {
	ID          string `json:"id"`
	FromVersion string `json:"fromVersion"`
	ToVersion   string `json:"toVersion"`
	Err         error  `json:"-"`
}

func (e *UpgradeFailedError) Error() string {
	return fmt.Sprintf("upgrade of record %s from %s to %s failed: %v", e.ID, e.FromVersion, e.ToVersion, e.Err)
}

func (e *UpgradeFailedError) Unwrap() error {
	return e.Err
}

// RecordError lets an upgrade processor name the record it failed on
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// NewRecordError wraps err with the id of the failing record
func NewRecordError(id string, err error) error {
	return &RecordError{ID: id, Err: err}
}

// FailedRecordID extracts the record id from an error produced by a processor
func FailedRecordID(err error) (string, bool) {
	var recErr *RecordError
	if errors.As(err, &recErr) {
		return recErr.ID, true
	}
	return "", false
}
