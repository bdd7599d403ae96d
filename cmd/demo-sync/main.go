package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/source-c/jlap"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: demo-sync <repodata-url> [cache-dir]")
	}
	url := os.Args[1]

	cacheDir := "./jlap-cache"
	if len(os.Args) > 2 {
		cacheDir = os.Args[2]
	}

	storage, err := jlap.NewFileStorage(cacheDir)
	if err != nil {
		log.Fatal("failed to create storage:", err)
	}
	snaps := jlap.NewSnapshotStore(storage, "repodata")

	client := jlap.NewSyncClient(snaps, jlap.DefaultDoer{Client: http.DefaultClient})

	fmt.Printf("=== JLAP Sync Demo ===\n")
	fmt.Printf("URL: %s\n", url)
	fmt.Printf("Cache directory: %s\n\n", cacheDir)

	outcome, err := client.Sync(context.Background(), url)
	if err != nil {
		log.Fatal("sync failed:", err)
	}

	fmt.Printf("Changed: %v\n", outcome.Changed)
	fmt.Printf("Full refetch: %v\n", outcome.FromFull)

	data, err := snaps.LoadJLAP(context.Background(), url)
	if err != nil {
		log.Fatal("failed to read synced jlap:", err)
	}
	fmt.Printf("Local JLAP size: %d bytes\n", len(data))
}
