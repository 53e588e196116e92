// Package cache persists client state between runs: read caches of panel
// entities, the pending submission queue, and connection bookkeeping. The
// whole state lives in one hand-editable JSON document so testers can
// inspect or repair it with a text editor.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/panelsync/panelsync/model"
)

// DefaultFile is the cache file name used when the user's home directory
// cannot be determined.
const DefaultFile = "test_panel_cache.json"

// DefaultPath returns the per-user cache location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFile
	}
	return filepath.Join(home, ".panelsync_cache.json")
}

// Store is a mutex-guarded view over the persisted cache record. Reads and
// mutations go through accessors; mutations mark the record dirty and Save
// writes it back atomically. Queue operations save immediately since they
// hold unsynced user work.
type Store struct {
	path   string
	logger zerolog.Logger

	mu    sync.Mutex
	rec   *model.CacheRecord
	dirty bool
}

// Open loads the cache at path, tolerating whatever it finds there: a
// missing file, unparseable JSON or an unknown schema version all produce
// a usable empty store. Pending submissions are salvaged from records with
// a mismatched schema version so queued reports survive format upgrades.
func Open(path string, logger zerolog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger,
		rec:    model.NewCacheRecord(),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read cache file")
		}
		return
	}

	var rec model.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Cache file is corrupt, starting empty")
		return
	}

	if rec.SchemaVersion != model.SchemaVersion {
		salvaged := rec.PendingSubmissions
		s.logger.Warn().
			Int("found", rec.SchemaVersion).
			Int("want", model.SchemaVersion).
			Int("pending_salvaged", len(salvaged)).
			Msg("Cache schema version mismatch, rebuilding")
		if len(salvaged) > 0 {
			s.rec.PendingSubmissions = salvaged
			s.dirty = true
		}
		return
	}

	// Normalize nil collections from hand-edited files
	if rec.PendingSubmissions == nil {
		rec.PendingSubmissions = []model.PendingSubmission{}
	}
	if rec.VersionTemplates == nil {
		rec.VersionTemplates = map[string]model.VersionTemplate{}
	}
	if rec.ConfirmedDigests == nil {
		rec.ConfirmedDigests = map[string]string{}
	}
	s.rec = &rec

	s.logger.Debug().Str("path", s.path).Msg("Loaded cache")
	if rec.LastSync != nil {
		s.logger.Debug().Time("last_sync", *rec.LastSync).Msg("Cache last synced")
	}
	if n := len(rec.PendingSubmissions); n > 0 {
		s.logger.Info().Int("count", n).Msg("Pending submissions in queue")
	}
}

// Save writes the record to disk if anything changed since the last save.
// The write goes to a temp file in the same directory first and is renamed
// into place, so a crash mid-write leaves the previous cache intact.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace cache: %w", err)
	}

	s.dirty = false
	s.logger.Debug().Str("path", s.path).Msg("Saved cache")
	return nil
}

// Path returns the cache file location.
func (s *Store) Path() string {
	return s.path
}

// LastSync returns the time of the last successful panel sync, if any.
func (s *Store) LastSync() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.LastSync
}

// HasData reports whether any catalog data has ever been cached.
func (s *Store) HasData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rec.Versions) > 0 || len(s.rec.Tests) > 0
}

// Versions returns the cached client version list.
func (s *Store) Versions() []model.VersionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Versions
}

// SetVersions replaces the cached version list and records a sync.
func (s *Store) SetVersions(versions []model.VersionSummary, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.rec.Versions = versions
	s.rec.VersionsDigest = digest
	s.rec.LastSync = &now
	s.dirty = true
}

// VersionsDigest returns the panel-reported digest of the cached versions.
func (s *Store) VersionsDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.VersionsDigest
}

// Tests returns the cached general test list.
func (s *Store) Tests() []model.TestSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Tests
}

// Categories returns the cached test categories.
func (s *Store) Categories() []model.TestCategory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Categories
}

// SetTests replaces the cached test list and categories and records a sync.
func (s *Store) SetTests(tests []model.TestSummary, categories []model.TestCategory, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.rec.Tests = tests
	s.rec.Categories = categories
	s.rec.TestsDigest = digest
	s.rec.LastSync = &now
	s.dirty = true
}

// TestsDigest returns the panel-reported digest of the cached test list.
func (s *Store) TestsDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.TestsDigest
}

// VersionTemplate returns the cached per-version test template.
func (s *Store) VersionTemplate(versionID string) (model.VersionTemplate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rec.VersionTemplates[versionID]
	return t, ok
}

// SetVersionTemplate caches the test template for one version.
func (s *Store) SetVersionTemplate(versionID string, t model.VersionTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.VersionTemplates[versionID] = t
	s.dirty = true
}

// ClearVersionTemplate drops the cached template for one version, or all
// templates when versionID is empty.
func (s *Store) ClearVersionTemplate(versionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if versionID == "" {
		s.rec.VersionTemplates = map[string]model.VersionTemplate{}
	} else {
		delete(s.rec.VersionTemplates, versionID)
	}
	s.dirty = true
}

// ConfirmedDigest returns the last digest the panel confirmed for a version.
func (s *Store) ConfirmedDigest(versionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rec.ConfirmedDigests[versionID]
	return d, ok
}

// SetConfirmedDigest records a panel-confirmed content digest for a version.
func (s *Store) SetConfirmedDigest(versionID, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.ConfirmedDigests[versionID] = digest
	s.dirty = true
}

// ConfirmDigests records a batch of panel-confirmed digests and marks the
// sync time. Used after a submission round trip where the panel accepted
// or deduplicated every version in the batch.
func (s *Store) ConfirmDigests(digests map[string]string) {
	if len(digests) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for versionID, digest := range digests {
		s.rec.ConfirmedDigests[versionID] = digest
	}
	now := time.Now()
	s.rec.LastSync = &now
	s.dirty = true
}

// Enqueue appends a submission to the pending queue and saves immediately.
// It returns the queue entry id.
func (s *Store) Enqueue(sourceRef string, payload json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()[:8]
	s.rec.PendingSubmissions = append(s.rec.PendingSubmissions, model.PendingSubmission{
		ID:        id,
		SourceRef: sourceRef,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	s.dirty = true
	if err := s.saveLocked(); err != nil {
		return id, err
	}

	s.logger.Info().Str("id", id).Msg("Queued report for later submission")
	return id, nil
}

// Pending returns a copy of the queue in insertion order, oldest first.
func (s *Store) Pending() []model.PendingSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PendingSubmission(nil), s.rec.PendingSubmissions...)
}

// PendingCount returns the number of queued submissions.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rec.PendingSubmissions)
}

// Remove deletes a queue entry after the panel confirmed acceptance.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.rec.PendingSubmissions {
		if p.ID == id {
			s.rec.PendingSubmissions = append(
				s.rec.PendingSubmissions[:i], s.rec.PendingSubmissions[i+1:]...)
			s.dirty = true
			if err := s.saveLocked(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to save cache after queue removal")
			}
			s.logger.Info().Str("id", id).Msg("Removed pending submission")
			return true
		}
	}
	return false
}

// RecordAttempt bumps the attempt counter on a queue entry and stores the
// error from the failed delivery.
func (s *Store) RecordAttempt(id, attemptErr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rec.PendingSubmissions {
		if s.rec.PendingSubmissions[i].ID == id {
			s.rec.PendingSubmissions[i].Attempts++
			s.rec.PendingSubmissions[i].LastError = attemptErr
			s.dirty = true
			if err := s.saveLocked(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to save cache after attempt update")
			}
			return true
		}
	}
	return false
}

// SetOnline records the connectivity state and check time.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.rec.Connection.IsOnline = online
	s.rec.Connection.LastCheck = &now
	if online {
		s.rec.Connection.LastOnline = &now
	}
	s.dirty = true
}

// Online returns the last known connectivity state.
func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Connection.IsOnline
}

// Clear resets all cached catalog data while preserving the pending queue,
// then saves.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.rec.PendingSubmissions
	s.rec = model.NewCacheRecord()
	s.rec.PendingSubmissions = pending
	s.dirty = true
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.logger.Info().Msg("Cache cleared, pending submissions preserved")
	return nil
}
