package jlap

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// allowedHosts are the upstream hosts the proxy will mirror (spec §6
// "Proxy HTTP surface"). A path for any other host is not a route this
// proxy serves.
var allowedHosts = map[string]bool{
	"repo.anaconda.com":  true,
	"conda.anaconda.org": true,
}

// Proxy implements the §6 reference HTTP proxy: for a repodata.json path it
// syncs the corresponding JLAP (C8), applies the accumulated patch chain to
// the cached snapshot (C7), and serves the result gzip-encoded with a
// Last-Modified header derived from the JLAP's metadata record. For any
// other path it 302-redirects to the real upstream host.
type Proxy struct {
	snaps *SnapshotStore
	sync  *SyncClient
	log   zerolog.Logger
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithProxyLogger overrides the zero-value (discard) logger.
func WithProxyLogger(log zerolog.Logger) ProxyOption {
	return func(p *Proxy) { p.log = log }
}

// NewProxy constructs a Proxy over snaps and sync.
func NewProxy(snaps *SnapshotStore, sync *SyncClient, opts ...ProxyOption) *Proxy {
	p := &Proxy{snaps: snaps, sync: sync, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Router returns a chi.Router exposing GET /{host}/*.
func (p *Proxy) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/{host}/*", p.handleGet)
	return r
}

func (p *Proxy) handleGet(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	path := chi.URLParam(r, "*")

	if !allowedHosts[host] {
		http.NotFound(w, r)
		return
	}

	target := fmt.Sprintf("https://%s/%s", host, path)

	if !strings.HasSuffix(path, "repodata.json") {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	p.serveRepodata(w, r, host, path, target)
}

// serveRepodata implements spec §6's "If it does" branch: sync, apply,
// serve gzipped with conditional-GET support.
func (p *Proxy) serveRepodata(w http.ResponseWriter, r *http.Request, host, path, url string) {
	ctx := r.Context()

	if _, err := p.sync.Sync(ctx, url); err != nil {
		p.log.Error().Err(err).Str("url", url).Msg("proxy sync")
		http.Error(w, "upstream sync failed", http.StatusBadGateway)
		return
	}

	jlapBytes, err := p.snaps.LoadJLAP(ctx, url)
	if err != nil {
		p.log.Error().Err(err).Str("url", url).Msg("proxy load jlap")
		http.Error(w, "no patch log available", http.StatusBadGateway)
		return
	}
	lines, err := ReadJLAPLines(jlapBytes)
	if err != nil {
		http.Error(w, "corrupt patch log", http.StatusBadGateway)
		return
	}
	meta, patches, err := splitMetadataAndPatches(lines)
	if err != nil {
		http.Error(w, "corrupt patch log", http.StatusBadGateway)
		return
	}

	lastModified := lastModifiedFromHeaders(meta.Headers)
	if !lastModified.IsZero() {
		w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
		if ims := r.Header.Get("If-Modified-Since"); ims != "" {
			if t, err := http.ParseTime(ims); err == nil && !lastModified.After(t) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	snapshot, err := p.snaps.LoadSnapshot(ctx, url)
	if err != nil {
		http.Error(w, "no cached snapshot available", http.StatusBadGateway)
		return
	}
	var doc any
	if err := json.Unmarshal(snapshot, &doc); err != nil {
		http.Error(w, "corrupt cached snapshot", http.StatusInternalServerError)
		return
	}

	have := DigestHex(snapshot)
	updated, err := Apply(doc, patches, have, meta.Latest)
	if err != nil {
		p.log.Warn().Err(err).Str("url", url).Msg("proxy apply: patch chain unavailable")
		http.Error(w, "patch chain unavailable, refetch required", http.StatusConflict)
		return
	}

	body, err := EncodeCanonical(updated)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)
	gz := gzip.NewWriter(w)
	defer gz.Close()
	_, _ = gz.Write(body)
}

// lastModifiedFromHeaders extracts a Last-Modified timestamp from the
// passthrough headers blob a publisher may have recorded (spec §6
// "Metadata-record headers passthrough"). A missing or unparseable header
// yields the zero time, and the caller skips conditional-GET support.
func lastModifiedFromHeaders(headers json.RawMessage) time.Time {
	if len(headers) == 0 {
		return time.Time{}
	}
	var h map[string]string
	if err := json.Unmarshal(headers, &h); err != nil {
		return time.Time{}
	}
	raw, ok := h["Last-Modified"]
	if !ok {
		return time.Time{}
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReadJLAPLines decodes every line of a JLAP byte blob, validating its
// chain (C2), for consumers (like the proxy) that already hold the bytes
// in memory rather than streaming them.
func ReadJLAPLines(data []byte) ([]Line, error) {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return r.ReadAll()
}

// splitMetadataAndPatches separates a JLAP's trailing metadata-record line
// from its preceding patch lines (spec §3: the last line before the
// summary is the metadata record).
func splitMetadataAndPatches(lines []Line) (MetadataRecord, []PatchRecord, error) {
	if len(lines) == 0 {
		return MetadataRecord{}, nil, fmt.Errorf("jlap: empty patch log")
	}
	last := lines[len(lines)-1]
	var meta MetadataRecord
	if err := json.Unmarshal(last.Obj, &meta); err != nil {
		return MetadataRecord{}, nil, &ParseError{Offset: last.Offset, Err: err}
	}

	patches := make([]PatchRecord, 0, len(lines)-1)
	for _, ln := range lines[:len(lines)-1] {
		var rec PatchRecord
		if err := json.Unmarshal(ln.Obj, &rec); err != nil {
			return MetadataRecord{}, nil, &ParseError{Offset: ln.Offset, Err: err}
		}
		patches = append(patches, rec)
	}
	return meta, patches, nil
}
