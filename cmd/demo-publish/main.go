package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/source-c/jlap"
)

// memoryUpstream is a minimal in-memory UpstreamStore standing in for a
// real package-repository revision mirror, so this demo can run without
// external services.
type memoryUpstream struct {
	revisions []jlap.Revision
	files     map[int64][]byte
}

func (m *memoryUpstream) ListRevisions(ctx context.Context, path string, sinceRev int64) ([]jlap.Revision, error) {
	var out []jlap.Revision
	for _, rev := range m.revisions {
		if rev.ID > sinceRev {
			out = append(out, rev)
		}
	}
	return out, nil
}

func (m *memoryUpstream) ReadAt(ctx context.Context, revID int64, fileName string) ([]byte, error) {
	data, ok := m.files[revID]
	if !ok {
		return nil, fmt.Errorf("no revision %d for %s", revID, fileName)
	}
	return data, nil
}

func main() {
	ctx := context.Background()

	storageDir := "./jlap-data"
	if len(os.Args) > 1 {
		storageDir = os.Args[1]
	}

	storage, err := jlap.NewFileStorage(storageDir)
	if err != nil {
		log.Fatal("failed to create storage:", err)
	}
	snaps := jlap.NewSnapshotStore(storage, "repodata")

	dbPath := storageDir + "/patches.db"
	store, err := jlap.OpenPatchStore(dbPath)
	if err != nil {
		log.Fatal("failed to open patch store:", err)
	}
	defer store.Close()

	signer, err := jlap.NewSigner()
	if err != nil {
		log.Fatal("failed to create signer:", err)
	}

	fmt.Printf("=== JLAP Publisher Demo ===\n")
	fmt.Printf("Storage directory: %s\n", storageDir)
	fmt.Printf("Publisher key: %s\n\n", signer.PublicKey()[:16]+"...")

	upstream := &memoryUpstream{
		files: map[int64][]byte{
			1: []byte(`{"packages":{"a-1.0-0.tar.bz2":{"name":"a","version":"1.0"}}}`),
			2: []byte(`{"packages":{"a-1.0-0.tar.bz2":{"name":"a","version":"1.0"},"b-2.0-0.tar.bz2":{"name":"b","version":"2.0"}}}`),
			3: []byte(`{"packages":{"b-2.0-0.tar.bz2":{"name":"b","version":"2.0"}}}`),
		},
		revisions: []jlap.Revision{
			{ID: 1, AffectedFiles: []string{"repodata.json"}},
			{ID: 2, AffectedFiles: []string{"repodata.json"}},
			{ID: 3, AffectedFiles: []string{"repodata.json"}},
		},
	}

	// Seed the initial snapshot: the publisher hashes it for the metadata
	// record when no patch rows exist yet, and the proxy demo has a base
	// document to reconstruct.
	if _, err := snaps.LoadSnapshot(ctx, "https://conda.anaconda.org/demo/repodata.json"); err != nil {
		if err := snaps.SaveSnapshot(ctx, "https://conda.anaconda.org/demo/repodata.json", upstream.files[1]); err != nil {
			log.Fatal("failed to seed snapshot:", err)
		}
		fmt.Println("Seeded initial snapshot at revision 1")
	}

	publisher := jlap.NewPublisher(store, upstream, snaps, jlap.WithPublisherSigner(signer))

	target := jlap.FileTarget{
		BasePath: "demo",
		FileName: "repodata.json",
		URL:      "https://conda.anaconda.org/demo/repodata.json",
	}

	result := publisher.Publish(ctx, target)
	if result.Err != nil {
		log.Fatal("publish failed:", result.Err)
	}

	fmt.Printf("Patches added: %d\n", result.PatchesAdded)
	fmt.Printf("Patches skipped (too large): %d\n", result.Skipped)
	fmt.Printf("JLAP regenerated: %v\n", result.Regenerated)

	jlapBytes, err := snaps.LoadJLAP(ctx, target.URL)
	if err != nil {
		log.Fatal("failed to read generated jlap:", err)
	}
	fmt.Printf("\nJLAP size: %d bytes\n", len(jlapBytes))
}
