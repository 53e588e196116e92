// Package submit drives report uploads end to end. A run collects the
// versions that actually hold results, hashes them, reconciles the digests
// with the panel, uploads only what the panel wants, and confirms the rest.
// When the panel is unreachable the whole batch lands in the pending queue
// and is drained automatically once the client comes back online.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/panelsync/panelsync/cache"
	"github.com/panelsync/panelsync/model"
	"github.com/panelsync/panelsync/notes"
	"github.com/panelsync/panelsync/panel"
	"github.com/panelsync/panelsync/report"
)

// ErrEmptyReport means every version in the document had only blank
// statuses and notes. Such documents are discarded, never queued.
var ErrEmptyReport = errors.New("report contains no recorded results")

// QueuedError reports that the panel was unreachable and the batch was
// stored for automatic retry. The message is shown to testers verbatim.
type QueuedError struct {
	// Pending queue entry id
	ID    string
	Cause error
}

func (e *QueuedError) Error() string {
	return "No connection to server. Report saved and will be submitted automatically when connection is restored."
}

func (e *QueuedError) Unwrap() error { return e.Cause }

// Outcome summarizes one submission run.
type Outcome struct {
	// Version ids sent to the panel
	Uploaded []string
	// Version ids the panel already had with matching digests
	Skipped []string
	// Pending queue id when the batch was stored for retry
	QueuedID string
	// Panel acknowledgement, nil when nothing was uploaded
	Ack *model.SubmitOutcome
}

// Pipeline owns the submission flow against one panel client and cache.
type Pipeline struct {
	client *panel.Client
	store  *cache.Store
	logger zerolog.Logger
}

// New builds a pipeline. Callers wire Drain to the client's reconnect hook
// so queued reports go out as soon as the panel is reachable again.
func New(client *panel.Client, store *cache.Store, logger zerolog.Logger) *Pipeline {
	return &Pipeline{client: client, store: store, logger: logger}
}

// SubmitFile reads, validates and submits a report document from disk. The
// file path becomes the queue entry's source reference if the batch has to
// be stored for retry.
func (p *Pipeline) SubmitFile(ctx context.Context, path string) (*Outcome, error) {
	doc, err := report.Load(path)
	if err != nil {
		return nil, err
	}
	return p.SubmitDocument(ctx, doc, path)
}

// SubmitDocument runs the full pipeline for an in-memory document.
func (p *Pipeline) SubmitDocument(ctx context.Context, doc *report.Document, sourceRef string) (*Outcome, error) {
	versions := doc.NonEmptyVersions()
	if len(versions) == 0 {
		return nil, ErrEmptyReport
	}
	trimmed := doc.Filter(versions)

	hashes, err := trimmed.Hashes()
	if err != nil {
		return nil, fmt.Errorf("hash report: %w", err)
	}

	upload, skipped := p.reconcile(ctx, versions, hashes, doc.Meta)
	outcome := &Outcome{Skipped: skipped}

	if len(upload) == 0 {
		p.logger.Info().Int("versions", len(skipped)).Msg("Panel already has this content, nothing to upload")
		p.confirm(hashes, skipped)
		return outcome, nil
	}

	payload, err := json.Marshal(trimmed.Filter(upload))
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}
	prepared, err := notes.PrepareResults(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize notes: %w", err)
	}

	ack, err := p.client.Submit(ctx, prepared)
	if err != nil {
		if errors.Is(err, panel.ErrUnreachable) {
			id, queueErr := p.store.Enqueue(sourceRef, prepared)
			if queueErr != nil {
				p.logger.Error().Err(queueErr).Msg("Failed to persist queued submission")
			}
			outcome.QueuedID = id
			return outcome, &QueuedError{ID: id, Cause: err}
		}
		return nil, err
	}

	outcome.Uploaded = upload
	outcome.Ack = ack
	p.logger.Info().
		Int("report_id", ack.ReportID).
		Int("uploaded", len(upload)).
		Int("skipped", len(skipped)).
		Msg("Report submitted")
	p.confirm(hashes, upload, skipped)
	return outcome, nil
}

// reconcile asks the panel which versions to upload. When the exchange
// itself fails it falls back to comparing against the locally confirmed
// digests: anything not provably synced gets uploaded. That can re-send
// content the panel already has, but never drops content it lacks.
func (p *Pipeline) reconcile(ctx context.Context, versions []string, hashes map[string]string, meta model.Meta) (upload, skipped []string) {
	checks, err := p.client.CheckHashes(ctx, hashes, meta)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Hash check failed, comparing against local digests")
		for _, v := range versions {
			if confirmed, ok := p.store.ConfirmedDigest(v); ok && confirmed == hashes[v] {
				skipped = append(skipped, v)
			} else {
				upload = append(upload, v)
			}
		}
		return upload, skipped
	}

	for _, v := range versions {
		check, ok := checks[v]
		if !ok {
			// Not in the response at all: the panel may have deleted
			// the record, treat as new.
			upload = append(upload, v)
			continue
		}
		switch check.Action {
		case model.ActionSkip:
			skipped = append(skipped, v)
		case model.ActionUpdate, model.ActionCreate:
			upload = append(upload, v)
		default:
			upload = append(upload, v)
		}
	}
	return upload, skipped
}

// confirm records the digests the panel now reflects, drops pending
// entries whose content is covered by those digests, and flushes.
func (p *Pipeline) confirm(hashes map[string]string, groups ...[]string) {
	digests := make(map[string]string)
	for _, group := range groups {
		for _, v := range group {
			digests[v] = hashes[v]
		}
	}
	p.store.ConfirmDigests(digests)
	p.removeCoveredPending()
	if err := p.store.Save(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to save cache after submission")
	}
}

// removeCoveredPending drops queue entries whose every version digest
// equals the confirmed digest. Entries that differ stay queued; the drain
// delivers them and the panel's revision history absorbs the duplicate.
func (p *Pipeline) removeCoveredPending() {
	for _, entry := range p.store.Pending() {
		doc, err := report.Parse(entry.Payload)
		if err != nil {
			continue
		}
		hashes, err := doc.Hashes()
		if err != nil || len(hashes) == 0 {
			continue
		}
		covered := true
		for v, h := range hashes {
			if confirmed, ok := p.store.ConfirmedDigest(v); !ok || confirmed != h {
				covered = false
				break
			}
		}
		if covered {
			p.logger.Info().Str("id", entry.ID).Msg("Dropping queued report the panel already has")
			p.store.Remove(entry.ID)
		}
	}
}

// Drain retries every queued submission once, oldest first. Successes
// leave the queue; failures stay with a bumped attempt count and the
// delivery error. Returns how many entries were delivered.
func (p *Pipeline) Drain(ctx context.Context) int {
	pending := p.store.Pending()
	if len(pending) == 0 {
		return 0
	}
	p.logger.Info().Int("count", len(pending)).Msg("Submitting queued reports")

	delivered := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			return delivered
		}
		ack, err := p.client.Submit(ctx, entry.Payload)
		if err != nil {
			p.logger.Warn().Str("id", entry.ID).Err(err).Msg("Queued report delivery failed")
			p.store.RecordAttempt(entry.ID, err.Error())
			continue
		}
		p.logger.Info().Str("id", entry.ID).Int("report_id", ack.ReportID).Msg("Queued report delivered")
		p.store.Remove(entry.ID)
		delivered++
	}
	return delivered
}
