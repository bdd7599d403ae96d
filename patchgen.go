package jlap

import (
	"sort"

	"github.com/agentflare-ai/jsonpatch"
)

// GeneratePatch diffs previous against current and returns an RFC 6902
// operation array (spec §4.4). previous and current are parsed JSON values
// (the shape produced by encoding/json.Unmarshal into `any`), not raw bytes
// — the publisher (C6) hashes each snapshot's raw bytes and parses them once
// for diffing.
//
// If the resulting patch has more than limit operations, GeneratePatch
// returns a *PatchTooLargeError and no patch: the publisher declines to
// record the pair and clients fall back to a full re-download.
func GeneratePatch(previous, current any, limit int) (jsonpatch.Patch, error) {
	patch, err := jsonpatch.New(previous, current)
	if err != nil {
		return nil, err
	}
	stabilizeOrder(patch)
	if len(patch) > limit {
		return nil, &PatchTooLargeError{Count: len(patch), Limit: limit}
	}
	return patch, nil
}

// stabilizeOrder sorts same-path-independent operations by path so that
// repeated diffs of the same two documents produce byte-identical patch
// JSON (spec §4.4: "stability of op order across runs is required for
// reproducible chain hashes on regeneration"). jsonpatch.New walks Go maps
// internally, whose key iteration order is randomized per process, so
// without this pass the emitted operation order would vary run to run even
// though the set of operations is the same.
func stabilizeOrder(patch jsonpatch.Patch) {
	sort.SliceStable(patch, func(i, j int) bool {
		if patch[i].Path != patch[j].Path {
			return patch[i].Path < patch[j].Path
		}
		return patch[i].Op < patch[j].Op
	})
}
