package jlap

import (
	"encoding/json"
	"errors"
	"testing"
)

func parseJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", s, err)
	}
	return v
}

func TestGeneratePatch_ProducesApplicableDiff(t *testing.T) {
	prev := parseJSON(t, `{"packages":{"a":1,"b":2}}`)
	cur := parseJSON(t, `{"packages":{"a":1,"b":3,"c":4}}`)

	patch, err := GeneratePatch(prev, cur, 8192)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patch) == 0 {
		t.Fatal("expected a non-empty patch")
	}

	applied, err := Apply(prev, []PatchRecord{{From: "h1", To: "h2", Patch: patch}}, "h1", "h2")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	want := parseJSON(t, `{"packages":{"a":1,"b":3,"c":4}}`)
	if !jsonEqual(applied, want) {
		t.Fatalf("applied result %v does not match expected %v", applied, want)
	}
}

func TestGeneratePatch_DeterministicAcrossCalls(t *testing.T) {
	prev := parseJSON(t, `{"a":1,"b":2,"c":3,"d":4,"e":5}`)
	cur := parseJSON(t, `{"a":10,"b":20,"c":30,"d":40,"e":50}`)

	p1, err := GeneratePatch(prev, cur, 8192)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := GeneratePatch(prev, cur, 8192)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	j1, err := EncodeCanonical(p1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	j2, err := EncodeCanonical(p2)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(j1) != string(j2) {
		t.Fatalf("patch encoding not stable across calls:\n%s\n%s", j1, j2)
	}
}

func TestGeneratePatch_RefusesOverLimit(t *testing.T) {
	prev := parseJSON(t, `{}`)
	big := make(map[string]any, 100)
	for i := 0; i < 100; i++ {
		big[string(rune('a'+i%26))+string(rune('0'+i/26))] = i
	}
	cur := any(big)

	_, err := GeneratePatch(prev, cur, 5)
	var tooLarge *PatchTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *PatchTooLargeError, got %T: %v", err, err)
	}
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}
