package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/source-c/jlap"
)

func main() {
	addr := ":8080"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	cacheDir := "./jlap-cache"
	if len(os.Args) > 2 {
		cacheDir = os.Args[2]
	}

	storage, err := jlap.NewFileStorage(cacheDir)
	if err != nil {
		log.Fatal("failed to create storage:", err)
	}
	snaps := jlap.NewSnapshotStore(storage, "repodata")
	sync := jlap.NewSyncClient(snaps, jlap.DefaultDoer{Client: http.DefaultClient})
	proxy := jlap.NewProxy(snaps, sync)

	fmt.Printf("=== JLAP Proxy Demo ===\n")
	fmt.Printf("Listening on %s\n", addr)
	fmt.Printf("Cache directory: %s\n", cacheDir)
	fmt.Printf("Try: curl http://localhost%s/conda.anaconda.org/demo/repodata.json\n\n", addr)

	if err := http.ListenAndServe(addr, proxy.Router()); err != nil {
		log.Fatal("proxy server failed:", err)
	}
}
