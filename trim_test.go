package jlap

import (
	"bytes"
	"encoding/json"
	"testing"
)

func buildJLAPWithNLines(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(map[string]any{"i": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf.Bytes()
}

func TestTrim_NoopWhenAlreadySmall(t *testing.T) {
	data := buildJLAPWithNLines(t, 3)

	var out bytes.Buffer
	changed, err := Trim(bytes.NewReader(data), &out, int64(len(data)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("expected no change when already under low watermark")
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing written, got %d bytes", out.Len())
	}
}

func TestTrim_KeepsTailAndRevalidates(t *testing.T) {
	data := buildJLAPWithNLines(t, 50)

	var out bytes.Buffer
	changed, err := Trim(bytes.NewReader(data), &out, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected trim to report a change")
	}

	trimmed := out.Bytes()
	if len(trimmed) >= len(data) {
		t.Fatalf("expected trimmed output to be smaller: %d >= %d", len(trimmed), len(data))
	}

	r, err := NewReader(bytes.NewReader(trimmed))
	if err != nil {
		t.Fatalf("trimmed output failed to parse: %v", err)
	}
	lines, err := r.ReadAll()
	if err != nil {
		t.Fatalf("trimmed output failed chain validation: %v", err)
	}
	if len(lines) < 2 {
		t.Fatalf("expected at least 2 surviving lines, got %d", len(lines))
	}
}

func TestTrim_DegenerateWhenTooFewSurvive(t *testing.T) {
	data := buildJLAPWithNLines(t, 2)

	var out bytes.Buffer
	_, err := Trim(bytes.NewReader(data), &out, 1)
	if err != ErrTrimDegenerate {
		t.Fatalf("expected ErrTrimDegenerate, got %v", err)
	}
}

func TestTrim_DropsFirstSurvivingLinesPayload(t *testing.T) {
	data := buildJLAPWithNLines(t, 10)

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	lines, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	low := int64(40)
	cutoff := lines[len(lines)-1].Offset - low

	var wantKept []int
	for _, ln := range lines {
		if ln.Offset >= cutoff {
			var obj map[string]int
			if err := json.Unmarshal(ln.Obj, &obj); err != nil {
				t.Fatalf("unmarshal original line: %v", err)
			}
			wantKept = append(wantKept, obj["i"])
		}
	}
	if len(wantKept) < 2 {
		t.Fatalf("test setup produced too few kept lines: %d", len(wantKept))
	}
	// The first surviving line is demoted to the new IV; its own payload
	// must not reappear as a content line.
	wantContent := wantKept[1:]

	var out bytes.Buffer
	changed, err := Trim(bytes.NewReader(data), &out, low)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if !changed {
		t.Fatal("expected a trim")
	}

	tr, err := NewReader(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("trimmed output failed to parse: %v", err)
	}
	trimmedLines, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("trimmed output failed chain validation: %v", err)
	}
	if len(trimmedLines) != len(wantContent) {
		t.Fatalf("expected %d surviving content lines, got %d", len(wantContent), len(trimmedLines))
	}
	for idx, ln := range trimmedLines {
		var obj map[string]int
		if err := json.Unmarshal(ln.Obj, &obj); err != nil {
			t.Fatalf("unmarshal trimmed line %d: %v", idx, err)
		}
		if obj["i"] != wantContent[idx] {
			t.Fatalf("line %d: got i=%d, want i=%d (demoted line's own payload should be dropped)", idx, obj["i"], wantContent[idx])
		}
	}
}

func TestTrimIfLarger_SkipsUnderThreshold(t *testing.T) {
	data := buildJLAPWithNLines(t, 5)

	out, changed, err := TrimIfLarger(data, int64(len(data))+1000, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("expected no trim under the high watermark")
	}
	if !bytes.Equal(out, data) {
		t.Fatal("expected unchanged bytes returned verbatim")
	}
}

func TestTrimIfLarger_TrimsOverThreshold(t *testing.T) {
	data := buildJLAPWithNLines(t, 50)

	out, changed, err := TrimIfLarger(data, 10, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected a trim over the high watermark")
	}
	if len(out) >= len(data) {
		t.Fatalf("expected smaller output: %d >= %d", len(out), len(data))
	}
}
