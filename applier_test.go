package jlap

import (
	"testing"

	"github.com/agentflare-ai/jsonpatch"
)

func addOp(path string, value any) jsonpatch.Patch {
	return jsonpatch.Patch{{Op: jsonpatch.Add, Path: path, Value: value}}
}

func TestSelectChain_HaveEqualsWant(t *testing.T) {
	chain, err := SelectChain([]PatchRecord{{From: "a", To: "b"}}, "x", "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chain != nil {
		t.Fatalf("expected nil chain, got %v", chain)
	}
}

func TestSelectChain_BridgesHaveToWant(t *testing.T) {
	patches := []PatchRecord{
		{From: "h0", To: "h1", Patch: addOp("/x", 1)},
		{From: "h1", To: "h2", Patch: addOp("/y", 2)},
		{From: "h2", To: "h3", Patch: addOp("/z", 3)},
	}

	chain, err := SelectChain(patches, "h0", "h2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected 2-patch chain, got %d", len(chain))
	}
	if chain[0].From != "h0" || chain[1].To != "h2" {
		t.Fatalf("chain out of order: %+v", chain)
	}
}

func TestSelectChain_NoChainFound(t *testing.T) {
	patches := []PatchRecord{
		{From: "h0", To: "h1"},
		{From: "h5", To: "h6"},
	}

	_, err := SelectChain(patches, "h0", "h6")
	var noChain *NoChainError
	if err == nil {
		t.Fatal("expected an error")
	}
	var ok bool
	noChain, ok = err.(*NoChainError)
	if !ok {
		t.Fatalf("expected *NoChainError, got %T", err)
	}
	if noChain.Have != "h0" || noChain.Want != "h6" {
		t.Fatalf("unexpected error payload: %+v", noChain)
	}
}

func TestApply_WalksMultiplePatches(t *testing.T) {
	doc := map[string]any{}
	patches := []PatchRecord{
		{From: "h0", To: "h1", Patch: addOp("/x", float64(1))},
		{From: "h1", To: "h2", Patch: addOp("/y", float64(2))},
	}

	result, err := Apply(doc, patches, "h0", "h2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected a map result, got %T", result)
	}
	if m["x"] != float64(1) || m["y"] != float64(2) {
		t.Fatalf("unexpected result: %+v", m)
	}
}
