package jlap

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *PatchStore {
	t.Helper()
	store, err := OpenPatchStore(":memory:")
	if err != nil {
		t.Fatalf("OpenPatchStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPatchStore_MaxRevEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.MaxRev(ctx, "https://example.test/repodata.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no rows for a fresh url")
	}
}

func TestPatchStore_InsertAndIter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	url := "https://example.test/repodata.json"

	if err := store.Insert(ctx, url, 2, `{"from":"h1","to":"h2","patch":[]}`); err != nil {
		t.Fatalf("insert rev 2: %v", err)
	}
	if err := store.Insert(ctx, url, 1, `{"from":"h0","to":"h1","patch":[]}`); err != nil {
		t.Fatalf("insert rev 1: %v", err)
	}

	rows, err := store.Iter(ctx, url)
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].RevTo != 1 || rows[1].RevTo != 2 {
		t.Fatalf("expected rows ordered by rev_to ascending, got %d then %d", rows[0].RevTo, rows[1].RevTo)
	}

	maxRev, ok, err := store.MaxRev(ctx, url)
	if err != nil {
		t.Fatalf("max_rev: %v", err)
	}
	if !ok || maxRev != 2 {
		t.Fatalf("expected max_rev=2, got %d (ok=%v)", maxRev, ok)
	}
}

func TestPatchStore_IterIsolatesByURL(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, "https://a.test/repodata.json", 1, `{}`); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := store.Insert(ctx, "https://b.test/repodata.json", 1, `{}`); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	rows, err := store.Iter(ctx, "https://a.test/repodata.json")
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row for url a, got %d", len(rows))
	}
}
