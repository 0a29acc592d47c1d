package models

import (
	"encoding/json"
	"time"
)

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConflictErrorResponse is returned when a delete is refused
type ConflictErrorResponse struct {
	Error     string         `json:"error"`
	Conflicts ConflictReport `json:"conflicts"`
}

// UpgradeErrorResponse is returned when an upgrade processor fails
type UpgradeErrorResponse struct {
	Error       string `json:"error"`
	ID          string `json:"id"`
	FromVersion string `json:"fromVersion"`
	ToVersion   string `json:"toVersion"`
}

// RecordInput is a record as submitted by a client
type RecordInput struct {
	ID      string          `json:"id,omitempty"`
	Version string          `json:"version,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PutRecordsRequest for PUT /api/collections/{name}/records
type PutRecordsRequest struct {
	Records []RecordInput `json:"records"`
}

// PutRecordsResponse for PUT /api/collections/{name}/records
type PutRecordsResponse struct {
	Records     []*Record `json:"records"`
	LastUpdated int64     `json:"lastUpdated"`
}

// DeleteRecordsRequest for POST /api/collections/{name}/delete
type DeleteRecordsRequest struct {
	IDs     []string `json:"ids"`
	Cascade bool     `json:"cascade"`
}

// DeleteRecordsResponse for POST /api/collections/{name}/delete
type DeleteRecordsResponse struct {
	Deleted     map[string][]string `json:"deleted"`
	LastUpdated int64               `json:"lastUpdated"`
}

// CheckDeleteRequest for POST /api/collections/{name}/check-delete
type CheckDeleteRequest struct {
	IDs []string `json:"ids"`
}

// CheckDeleteResponse for POST /api/collections/{name}/check-delete
type CheckDeleteResponse struct {
	Deletable bool           `json:"deletable"`
	Conflicts ConflictReport `json:"conflicts"`
}

// RecordListResponse is returned when listing records
type RecordListResponse struct {
	Records    []*Record `json:"records"`
	TotalCount int       `json:"totalCount"`
	Skip       int       `json:"skip"`
	Take       int       `json:"take"`
}

// CollectionInfo describes a registered collection
type CollectionInfo struct {
	Name            string                `json:"name"`
	Versions        []string              `json:"versions"`
	Dependencies    DependencyDeclaration `json:"dependencies,omitempty"`
	UniqueKeyFields []string              `json:"uniqueKeyFields,omitempty"`
	Watermark       SyncWatermark         `json:"watermark"`
}

// UpgradeReport summarizes a bulk migration of a collection
type UpgradeReport struct {
	Collection string                `json:"collection"`
	Scanned    int                   `json:"scanned"`
	Upgraded   int                   `json:"upgraded"`
	Failures   []*UpgradeFailedError `json:"failures,omitempty"`
}
