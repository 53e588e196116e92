package model

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the cache record format version. A persisted record
// carrying a different version is discarded and rebuilt empty; pending
// submissions are the one field carried over, since they hold unsynced
// user work.
const SchemaVersion = 1

// CacheRecord is the persisted client state: read caches of panel entities,
// the pending submission queue, and connection bookkeeping. One record per
// installation, stored as a single hand-editable JSON document.
type CacheRecord struct {
	// Format version of this record
	SchemaVersion int `json:"schema_version"`
	// Time of the last successful sync with the panel
	LastSync *time.Time `json:"last_sync,omitempty"`
	// Cached client versions, overwritten wholesale on each successful fetch
	Versions []VersionSummary `json:"versions"`
	// Digest of the version list as reported by the panel
	VersionsDigest string `json:"versions_digest,omitempty"`
	// Cached general test list
	Tests []TestSummary `json:"tests"`
	// Cached test categories
	Categories []TestCategory `json:"categories"`
	// Digest of the test list as reported by the panel
	TestsDigest string `json:"tests_digest,omitempty"`
	// Per-version template tests and skip keys
	VersionTemplates map[string]VersionTemplate `json:"version_templates,omitempty"`
	// Last panel-confirmed content digest per version id
	ConfirmedDigests map[string]string `json:"confirmed_digests,omitempty"`
	// Queued submissions awaiting delivery; survives schema resets
	PendingSubmissions []PendingSubmission `json:"pending_submissions"`
	// Connection state bookkeeping
	Connection ConnectionStatus `json:"connection"`
}

// NewCacheRecord returns an empty record at the current schema version.
func NewCacheRecord() *CacheRecord {
	return &CacheRecord{
		SchemaVersion:      SchemaVersion,
		Versions:           []VersionSummary{},
		Tests:              []TestSummary{},
		Categories:         []TestCategory{},
		VersionTemplates:   map[string]VersionTemplate{},
		ConfirmedDigests:   map[string]string{},
		PendingSubmissions: []PendingSubmission{},
	}
}

// VersionTemplate is the per-version test template served by the panel.
type VersionTemplate struct {
	// Tests that apply to this version
	Tests []TestSummary `json:"tests"`
	// Test keys the panel marks as not applicable for this version
	SkipKeys []string `json:"skip_keys,omitempty"`
}

// PendingSubmission is one queued, not-yet-delivered report. Created when a
// submission fails on connectivity, removed only after the panel confirms
// acceptance.
type PendingSubmission struct {
	// Client-generated unique id (short uuid)
	ID string `json:"id"`
	// Origin file path; empty for in-memory payloads
	SourceRef string `json:"source_ref,omitempty"`
	// The submission document exactly as it would have been sent
	Payload json.RawMessage `json:"payload"`
	// Time the entry was queued
	CreatedAt time.Time `json:"created_at"`
	// Delivery attempts so far
	Attempts int `json:"attempts"`
	// Error from the most recent failed attempt
	LastError string `json:"last_error,omitempty"`
}

// ConnectionStatus records the last known connectivity state.
type ConnectionStatus struct {
	IsOnline   bool       `json:"is_online"`
	LastOnline *time.Time `json:"last_online,omitempty"`
	LastCheck  *time.Time `json:"last_check,omitempty"`
}
