package jlap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Revision is one entry in the upstream revision store's history for a
// file (spec §6 "Upstream revision store").
type Revision struct {
	ID            int64
	AffectedFiles []string
}

// UpstreamStore is the external collaborator the publisher pulls source
// revisions from (spec §1 Out of scope, §6 external interface). The core
// depends only on this narrow contract, not on how revisions are mirrored.
type UpstreamStore interface {
	// ListRevisions returns revisions after sinceRev affecting path, oldest
	// first.
	ListRevisions(ctx context.Context, path string, sinceRev int64) ([]Revision, error)
	// ReadAt returns fileName's exact bytes as of revID.
	ReadAt(ctx context.Context, revID int64, fileName string) ([]byte, error)
}

// FileTarget names one (base_path, file_name) pair the publisher tracks.
// The publisher has no implicit directory walker (spec §9): callers supply
// the list explicitly.
type FileTarget struct {
	BasePath string
	FileName string
	URL      string
}

// Publisher implements C6: pulls revisions from UpstreamStore, diffs
// consecutive pairs via C4, persists patches to C5, and regenerates each
// target's JLAP via C2.
type Publisher struct {
	store    *PatchStore
	upstream UpstreamStore
	snaps    *SnapshotStore
	signer   *Signer
	limit    int
	log      zerolog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherSigner attaches a Signer: each regenerated JLAP's metadata
// record is additionally signed and stored alongside it.
func WithPublisherSigner(signer *Signer) PublisherOption {
	return func(p *Publisher) { p.signer = signer }
}

// WithPatchStepsLimit overrides the default PATCH_STEPS_LIMIT (spec §6,
// §9 open question 3).
func WithPatchStepsLimit(limit int) PublisherOption {
	return func(p *Publisher) { p.limit = limit }
}

// WithPublisherLogger overrides the zero-value (discard) logger.
func WithPublisherLogger(log zerolog.Logger) PublisherOption {
	return func(p *Publisher) { p.log = log }
}

// NewPublisher constructs a Publisher over store, upstream, and snaps.
func NewPublisher(store *PatchStore, upstream UpstreamStore, snaps *SnapshotStore, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:    store,
		upstream: upstream,
		snaps:    snaps,
		limit:    DefaultConfig().PatchStepsLimit,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishResult summarizes the outcome of publishing one target.
type PublishResult struct {
	Target       FileTarget
	PatchesAdded int
	Skipped      int
	Regenerated  bool
	Err          error
}

// PublishAll runs Publish for every target. A failure on one target is
// logged and recorded in its result but does not abort the others (spec
// §4.6: "Publisher failures are per-file").
func (p *Publisher) PublishAll(ctx context.Context, targets []FileTarget) []PublishResult {
	results := make([]PublishResult, len(targets))
	for i, t := range targets {
		results[i] = p.Publish(ctx, t)
		ev := p.log.Info()
		if results[i].Err != nil {
			ev = p.log.Error().Err(results[i].Err)
		}
		ev.Str("url", t.URL).
			Int("patches_added", results[i].PatchesAdded).
			Int("skipped", results[i].Skipped).
			Bool("regenerated", results[i].Regenerated).
			Msg("publish")
	}
	return results
}

// Publish runs the four-step procedure of spec §4.6 for a single target.
func (p *Publisher) Publish(ctx context.Context, target FileTarget) PublishResult {
	result := PublishResult{Target: target}

	newest, hasPatches, err := p.store.MaxRev(ctx, target.URL)
	if err != nil {
		result.Err = err
		return result
	}

	revisions, err := p.upstream.ListRevisions(ctx, target.BasePath, newest)
	if err != nil {
		result.Err = fmt.Errorf("jlap: list revisions for %s: %w", target.URL, err)
		return result
	}
	if len(revisions) == 0 {
		return result
	}

	// ListRevisions returns revisions strictly after newest, but spec §4.6
	// step 2 pairs from the inclusive range >= newest: once a baseline
	// revision has already been published, it must reappear as
	// revisions[0] so the pairing loop below bridges it to the first new
	// revision instead of skipping straight past it. On a bootstrap run
	// (no patches published yet) ListRevisions already starts at the
	// oldest known revision, which needs no synthetic predecessor.
	if hasPatches {
		revisions = append([]Revision{{ID: newest}}, revisions...)
	}

	for i := 1; i < len(revisions); i++ {
		prevRev, curRev := revisions[i-1], revisions[i]

		prevBytes, err := p.upstream.ReadAt(ctx, prevRev.ID, target.FileName)
		if err != nil {
			result.Err = fmt.Errorf("jlap: read rev %d: %w", prevRev.ID, err)
			return result
		}
		curBytes, err := p.upstream.ReadAt(ctx, curRev.ID, target.FileName)
		if err != nil {
			result.Err = fmt.Errorf("jlap: read rev %d: %w", curRev.ID, err)
			return result
		}

		prevHash := DigestHex(prevBytes)
		curHash := DigestHex(curBytes)

		var prevDoc, curDoc any
		if err := json.Unmarshal(prevBytes, &prevDoc); err != nil {
			result.Err = &ParseError{Err: fmt.Errorf("rev %d: %w", prevRev.ID, err)}
			return result
		}
		if err := json.Unmarshal(curBytes, &curDoc); err != nil {
			result.Err = &ParseError{Err: fmt.Errorf("rev %d: %w", curRev.ID, err)}
			return result
		}

		patch, err := GeneratePatch(prevDoc, curDoc, p.limit)
		if err != nil {
			var tooLarge *PatchTooLargeError
			if errors.As(err, &tooLarge) {
				result.Skipped++
				continue
			}
			result.Err = err
			return result
		}

		rec := PatchRecord{From: prevHash, To: curHash, Patch: patch}
		recJSON, err := EncodeCanonical(rec)
		if err != nil {
			result.Err = err
			return result
		}
		if err := p.store.Insert(ctx, target.URL, curRev.ID, string(recJSON)); err != nil {
			result.Err = err
			return result
		}
		result.PatchesAdded++
	}

	regenerated, err := p.regenerateJLAP(ctx, target)
	if err != nil {
		result.Err = err
		return result
	}
	result.Regenerated = regenerated
	return result
}

// regenerateJLAP writes target's JLAP from every stored patch row, oldest
// first, followed by the metadata record, and atomically replaces the
// existing file only if the content actually changed (spec §4.6 step 4:
// "preserves mtime when nothing changed").
func (p *Publisher) regenerateJLAP(ctx context.Context, target FileTarget) (bool, error) {
	rows, err := p.store.Iter(ctx, target.URL)
	if err != nil {
		return false, err
	}

	var latest string
	switch {
	case len(rows) > 0:
		var last PatchRecord
		if err := json.Unmarshal([]byte(rows[len(rows)-1].PatchJSON), &last); err != nil {
			return false, &ParseError{Err: err}
		}
		latest = last.To
	default:
		snapshot, err := p.snaps.LoadSnapshot(ctx, target.URL)
		if err != nil {
			return false, fmt.Errorf("jlap: no patches and no snapshot for %s: %w", target.URL, err)
		}
		latest = DigestHex(snapshot)
	}

	var headers json.RawMessage
	if raw, err := p.snaps.storage.Read(ctx, p.snaps.HeadersPath(target.URL)); err == nil && json.Valid(raw) {
		headers = json.RawMessage(raw)
	}

	rec := MetadataRecord{URL: target.URL, Latest: latest, Headers: headers}

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if err := w.WriteRaw([]byte(row.PatchJSON)); err != nil {
			return false, err
		}
	}
	var metaLine []byte
	if p.signer != nil {
		signed, err := p.signer.Sign(rec)
		if err != nil {
			return false, err
		}
		metaLine, err = EncodeCanonical(signed)
		if err != nil {
			return false, err
		}
	} else {
		metaLine, err = EncodeCanonical(rec)
		if err != nil {
			return false, err
		}
	}
	if err := w.WriteRaw(metaLine); err != nil {
		return false, err
	}
	if err := w.Finish(); err != nil {
		return false, err
	}

	// A concurrent writer (another publisher process, or a trim run) may
	// replace the JLAP out from under us between reading it for comparison
	// and writing our own regenerated copy. Where the backing storage can
	// report mtimes, detect that race and abort rather than clobber
	// whatever the other writer produced (spec §7: "a second writer
	// detected (mtime or lock collision) - abort with no modification").
	path := p.snaps.JLAPPath(target.URL)
	mtimer, trackMTime := p.snaps.storage.(MTimeStorage)
	var before time.Time
	var haveBefore bool
	if trackMTime {
		if t, err := mtimer.Stat(ctx, path); err == nil {
			before, haveBefore = t, true
		}
	}

	existing, err := p.snaps.LoadJLAP(ctx, target.URL)
	if err == nil && string(existing) == buf.String() {
		return false, nil
	}

	if trackMTime && haveBefore {
		if after, err := mtimer.Stat(ctx, path); err == nil && !after.Equal(before) {
			return false, &ConcurrencyError{Path: path}
		}
	}

	if err := p.snaps.SaveJLAP(ctx, target.URL, buf.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}
