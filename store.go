package jlap

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver with database/sql
)

// PatchRow is one stored patch record (spec §3 "Patch-store row").
type PatchRow struct {
	ID        int64
	URL       string
	RevTo     int64
	PatchJSON string
}

// PatchStore is a WAL-mode SQLite table of insert-only patch rows, one per
// (url, rev_to) pair (spec §4.5). It is the primary index the publisher
// (C6) replays, in rev_to order, to regenerate a JLAP. It is safe
// for concurrent use; writes are serialized through a single connection,
// matching the single-writer-per-file discipline of spec §5.
type PatchStore struct {
	db *sql.DB
}

// OpenPatchStore opens (or creates) the SQLite database at path, enables
// WAL journal mode, and applies the schema. path may be ":memory:" for
// tests.
func OpenPatchStore(path string) (*PatchStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jlap: open patch store %q: %w", path, err)
	}

	// SQLite allows one writer at a time; serializing through a single
	// connection avoids "database is locked" errors from concurrent inserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jlap: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jlap: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(patchStoreDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jlap: apply schema: %w", err)
	}

	return &PatchStore{db: db}, nil
}

const patchStoreDDL = `
CREATE TABLE IF NOT EXISTS patches (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    url       TEXT    NOT NULL,
    rev_to    INTEGER NOT NULL,
    patch     TEXT    NOT NULL,
    timestamp TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_patches_url_rev
    ON patches (url, rev_to);
`

// MaxRev returns the largest rev_to stored for url, or (0, false) if url has
// no rows yet (spec §4.5: "max_rev(url) -> Option<int>").
func (s *PatchStore) MaxRev(ctx context.Context, url string) (int64, bool, error) {
	var rev sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(rev_to) FROM patches WHERE url = ?`, url).Scan(&rev)
	if err != nil {
		return 0, false, fmt.Errorf("jlap: max_rev(%s): %w", url, err)
	}
	if !rev.Valid {
		return 0, false, nil
	}
	return rev.Int64, true, nil
}

// Insert appends a new patch row in its own (implicit) transaction. Rows
// are never mutated or deleted once inserted.
func (s *PatchStore) Insert(ctx context.Context, url string, revTo int64, patchJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patches (url, rev_to, patch) VALUES (?, ?, ?)`,
		url, revTo, patchJSON)
	if err != nil {
		return &StoreError{URL: url, Err: fmt.Errorf("insert rev %d: %w", revTo, err)}
	}
	return nil
}

// Iter returns every patch row for url ordered by rev_to ascending (spec
// §4.5: "iter(url) -> lazy sequence of patch_json ORDERED BY rev_to ASC").
// It is not truly lazy (no pack example streams SQL rows incrementally into
// the publisher), but callers should still treat the result as read-only
// and ordered.
func (s *PatchStore) Iter(ctx context.Context, url string) ([]PatchRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, rev_to, patch FROM patches WHERE url = ? ORDER BY rev_to ASC`, url)
	if err != nil {
		return nil, &StoreError{URL: url, Err: err}
	}
	defer rows.Close()

	var out []PatchRow
	for rows.Next() {
		var r PatchRow
		if err := rows.Scan(&r.ID, &r.URL, &r.RevTo, &r.PatchJSON); err != nil {
			return nil, &StoreError{URL: url, Err: fmt.Errorf("scan: %w", err)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{URL: url, Err: err}
	}
	return out, nil
}

// Close closes the underlying database connection.
func (s *PatchStore) Close() error {
	return s.db.Close()
}
