package jlap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrTrimDegenerate is returned by Trim when fewer than two lines would
// survive trimming (spec §4.3: "If fewer than 2 entries survive, refuse").
var ErrTrimDegenerate = errors.New("jlap: trim would leave fewer than 2 lines")

type trimEntry struct {
	offset       int64
	lineIDBefore string
	raw          []byte
}

// Trim rewrites the JLAP read from r into w, keeping only the suffix of
// lines whose byte offset is at or after end-low (end being the offset of
// the last content line), and re-seeding the IV to the chain value produced
// by the first kept line, so every later chain value and the summary match
// the original (spec §4.3). It returns (false, nil) if the last content line
// starts at or before byte offset low, in which case w is not written to at
// all.
func Trim(r io.Reader, w io.Writer, low int64) (bool, error) {
	jr, err := NewReader(r)
	if err != nil {
		return false, err
	}

	var entries []trimEntry
	lineIDBefore := jr.LineID()
	for {
		ln, err := jr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
		entries = append(entries, trimEntry{
			offset:       ln.Offset,
			lineIDBefore: lineIDBefore,
			raw:          []byte(ln.Obj),
		})
		lineIDBefore = ln.LineID
	}

	if len(entries) == 0 {
		return false, ErrTrimDegenerate
	}

	end := entries[len(entries)-1].offset
	if end <= low {
		return false, nil
	}

	cutoff := end - low
	var kept []trimEntry
	for _, e := range entries {
		if e.offset >= cutoff {
			kept = append(kept, e)
		}
	}
	if len(kept) < 2 {
		return false, ErrTrimDegenerate
	}

	jw, err := NewWriter(w, WithInitialLineID(kept[1].lineIDBefore))
	if err != nil {
		return false, err
	}
	// kept[0] is demoted to the new IV above (the chain value it produced);
	// its own patch payload is dropped, not re-emitted as a content line.
	for _, e := range kept[1:] {
		if err := jw.WriteRaw(e.raw); err != nil {
			return false, fmt.Errorf("jlap: re-emitting trimmed line: %w", err)
		}
	}
	if err := jw.Finish(); err != nil {
		return false, err
	}
	return true, nil
}

// TrimIfLarger trims buf if it exceeds high bytes, targeting low bytes.
// It mirrors the publisher-side policy of only rewriting a JLAP when it has
// grown past a high-water mark (spec §6: JLAP_TRIM_HIGH/JLAP_TRIM_LOW).
func TrimIfLarger(buf []byte, high, low int64) ([]byte, bool, error) {
	if int64(len(buf)) <= high {
		return buf, false, nil
	}
	var out bytes.Buffer
	changed, err := Trim(bytes.NewReader(buf), &out, low)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return buf, false, nil
	}
	return out.Bytes(), true, nil
}
