package jlap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Doer is the HTTP capability the sync client depends on (spec §9:
// "parameterize the sync client over an HTTP-client capability ... do not
// hard-code a library"). fromCache lets a caching implementation surface
// spec §4.8's "from_cache flag so the client can skip unnecessary
// verification" without the sync client knowing anything about caching
// policy.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (resp *http.Response, fromCache bool, err error)
}

// DefaultDoer adapts a plain *http.Client to Doer, always reporting
// fromCache=false. Use a caching Doer (e.g. wrapping an HTTP cache with
// expire_after ~30s, matching Accept+Range in its cache key per spec §4.8)
// for the from-cache short-circuit.
type DefaultDoer struct {
	Client *http.Client
}

// Do implements Doer.
func (d DefaultDoer) Do(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req.WithContext(ctx))
	return resp, false, err
}

// SyncClient implements C8: incremental JLAP download via HTTP Range.
type SyncClient struct {
	snaps *SnapshotStore
	doer  Doer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSyncClient constructs a SyncClient storing JLAPs via snaps and
// fetching them via doer.
func NewSyncClient(snaps *SnapshotStore, doer Doer) *SyncClient {
	return &SyncClient{snaps: snaps, doer: doer, locks: make(map[string]*sync.Mutex)}
}

// pathLock returns the in-process mutex serializing writers to path (spec
// §5: "single-writer discipline ... typically by an in-process lock keyed
// on path"). It does not coordinate across processes (spec §9 open
// question 2).
func (c *SyncClient) pathLock(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[path]
	if !ok {
		l = &sync.Mutex{}
		c.locks[path] = l
	}
	return l
}

// SyncOutcome reports what Sync did.
type SyncOutcome struct {
	Changed  bool
	FromFull bool
}

// Sync brings the local JLAP for url up to date (spec §4.8). url names the
// data file the JLAP describes (e.g. a repodata.json URL); the JLAP itself
// is fetched from url+".jlap" (spec §3: "ordinary static file ... living
// alongside" the data it patches) but stored under url's own SnapshotStore
// key, matching the key the publisher (C6) writes to.
func (c *SyncClient) Sync(ctx context.Context, url string) (SyncOutcome, error) {
	fetchURL := url + ".jlap"

	path := c.snaps.JLAPPath(url)
	lock := c.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	local, err := c.snaps.LoadJLAP(ctx, url)
	if err != nil {
		return c.fullFetch(ctx, url)
	}

	entries, err := readEntries(local)
	if err != nil || len(entries) == 0 {
		// Local file is unreadable or degenerate; treat as absent.
		return c.fullFetch(ctx, url)
	}
	offset := entries[len(entries)-1].offset

	req, err := http.NewRequest(http.MethodGet, fetchURL, nil)
	if err != nil {
		return SyncOutcome{}, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	resp, fromCache, err := c.doer.Do(ctx, req)
	if err != nil {
		return SyncOutcome{}, &SyncError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if fromCache {
		return SyncOutcome{}, nil
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		return SyncOutcome{}, nil
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return SyncOutcome{}, &SyncError{URL: url, Err: err}
		}
		if err := verifyFull(body); err != nil {
			return SyncOutcome{}, &SyncError{URL: url, StatusCode: resp.StatusCode, Err: err}
		}
		if err := c.snaps.SaveJLAP(ctx, url, body); err != nil {
			return SyncOutcome{}, err
		}
		return SyncOutcome{Changed: true}, nil
	case http.StatusPartialContent:
		tail, err := io.ReadAll(resp.Body)
		if err != nil {
			return SyncOutcome{}, &SyncError{URL: url, Err: err}
		}
		if int64(len(local)) < offset {
			return SyncOutcome{}, &SyncError{URL: url, Err: fmt.Errorf("local file shorter than resume offset")}
		}
		combined := append(append([]byte{}, local[:offset]...), tail...)
		if err := verifyFull(combined); err != nil {
			// Discard and fall back to a full GET (spec §4.8 step 4).
			return c.fullFetch(ctx, url)
		}
		if err := c.snaps.SaveJLAP(ctx, url, combined); err != nil {
			return SyncOutcome{}, err
		}
		return SyncOutcome{Changed: true}, nil
	default:
		return SyncOutcome{}, &SyncError{URL: url, StatusCode: resp.StatusCode}
	}
}

// fullFetch issues an ordinary GET against url+".jlap" and overwrites the
// local JLAP atomically, keyed on url (spec §4.8 step 1).
func (c *SyncClient) fullFetch(ctx context.Context, url string) (SyncOutcome, error) {
	req, err := http.NewRequest(http.MethodGet, url+".jlap", nil)
	if err != nil {
		return SyncOutcome{}, err
	}

	resp, fromCache, err := c.doer.Do(ctx, req)
	if err != nil {
		return SyncOutcome{}, &SyncError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if fromCache {
		return SyncOutcome{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return SyncOutcome{}, &SyncError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SyncOutcome{}, &SyncError{URL: url, Err: err}
	}
	if err := verifyFull(body); err != nil {
		return SyncOutcome{}, &SyncError{URL: url, Err: err}
	}
	if err := c.snaps.SaveJLAP(ctx, url, body); err != nil {
		return SyncOutcome{}, err
	}
	return SyncOutcome{Changed: true, FromFull: true}, nil
}

type jlapEntry struct {
	offset int64
}

// readEntries re-reads a JLAP's structure to locate the byte offset of its
// last content line (spec §4.8: "byte offset of the next-to-last line",
// confirmed against original_source/app/sync_jlap.py's line_offsets()).
func readEntries(data []byte) ([]jlapEntry, error) {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var entries []jlapEntry
	for {
		ln, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, jlapEntry{offset: ln.Offset})
	}
	return entries, nil
}

// verifyFull reads data start-to-finish through the codec, surfacing any
// integrity or parse failure.
func verifyFull(data []byte) error {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	_, err = r.ReadAll()
	return err
}
