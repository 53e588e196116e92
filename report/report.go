// Package report models the session results documents testers produce and
// derives the per-version content digests that drive upload deduplication.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/panelsync/panelsync/model"
	"github.com/panelsync/panelsync/notes"
)

// Document is a session results file as the test tool writes it. Versions
// map to per-test entries; attached logs are keyed by the same version ids.
type Document struct {
	Meta      model.Meta                       `json:"meta"`
	Results   map[string]model.ResultSet       `json:"results"`
	Timing    map[string]float64               `json:"timing,omitempty"`
	Completed map[string]bool                  `json:"completed,omitempty"`
	Logs      map[string][]model.LogAttachment `json:"attached_logs,omitempty"`
}

// Parse validates and decodes a session results document.
func Parse(data []byte) (*Document, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &doc, nil
}

// Load reads and parses a session results file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return Parse(data)
}

// NonEmptyVersions returns the ids of versions carrying at least one
// filled-in result, sorted for stable iteration. A version whose entries
// are all blank is not worth a report and is skipped everywhere downstream.
func (d *Document) NonEmptyVersions() []string {
	var ids []string
	for vid, set := range d.Results {
		if !set.Empty() {
			ids = append(ids, vid)
		}
	}
	sort.Strings(ids)
	return ids
}

// Filter returns a copy of the document reduced to the given versions.
func (d *Document) Filter(versions []string) *Document {
	out := &Document{
		Meta:    d.Meta,
		Results: make(map[string]model.ResultSet, len(versions)),
	}
	for _, vid := range versions {
		if set, ok := d.Results[vid]; ok {
			out.Results[vid] = set
		}
		if t, ok := d.Timing[vid]; ok {
			if out.Timing == nil {
				out.Timing = make(map[string]float64)
			}
			out.Timing[vid] = t
		}
		if c, ok := d.Completed[vid]; ok {
			if out.Completed == nil {
				out.Completed = make(map[string]bool)
			}
			out.Completed[vid] = c
		}
		if logs, ok := d.Logs[vid]; ok {
			if out.Logs == nil {
				out.Logs = make(map[string][]model.LogAttachment)
			}
			out.Logs[vid] = logs
		}
	}
	return out
}

// Hashes computes the content digest of every non-empty version.
func (d *Document) Hashes() (map[string]string, error) {
	hashes := make(map[string]string)
	for _, vid := range d.NonEmptyVersions() {
		h, err := VersionHash(d.Results[vid], d.Logs[vid])
		if err != nil {
			return nil, fmt.Errorf("hash version %s: %w", vid, err)
		}
		hashes[vid] = h
	}
	return hashes, nil
}

// hashEntry is the per-test shape that goes into the digest. Notes are
// reduced to canonical form first so a report hashes the same whether it
// arrives as editor markup or as previously canonicalized text.
type hashEntry struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// VersionHash computes the content digest of one version's results and
// attached logs: sha256 over the RFC 8785 canonical JSON of
// {"logs": [...], "results": {...}}. The panel derives the same digest
// from its stored reports, so this serialization is part of the wire
// contract and must not change unilaterally.
func VersionHash(results model.ResultSet, logs []model.LogAttachment) (string, error) {
	entries := make(map[string]hashEntry, len(results))
	for key, r := range results {
		entries[key] = hashEntry{Status: r.Status, Notes: notes.Canonicalize(r.Notes)}
	}
	if logs == nil {
		logs = []model.LogAttachment{}
	}
	doc := struct {
		Logs    []model.LogAttachment `json:"logs"`
		Results map[string]hashEntry  `json:"results"`
	}{Logs: logs, Results: entries}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize hash input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
