package jlap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ZeroIV is the conventional initial chain value: 64 ASCII '0' characters.
const ZeroIV = "0000000000000000000000000000000000000000000000000000000000000000"

// Line is one decoded JSON-object line from a JLAP, paired with the chain
// value produced after it and the byte offset it started at.
type Line struct {
	Offset int64
	Obj    json.RawMessage
	LineID string
}

// Reader reads a JLAP byte stream, validating the keyed hash chain as it
// goes (spec §4.2). It is single-pass and not restartable after an error.
type Reader struct {
	br     *bufio.Reader
	lineID string
	offset int64
	done   bool
}

// NewReader wraps r, reading the IV line immediately (spec: "On
// construction: reads one line ... stores it as lineid").
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	iv, err := readLine(br)
	if err != nil {
		return nil, &ParseError{Offset: 0, Err: fmt.Errorf("reading IV line: %w", err)}
	}
	if len(iv.bytes) > MaxLineIDBytes {
		return nil, &ParseError{Offset: 0, Err: fmt.Errorf("IV line too long: %d bytes", len(iv.bytes))}
	}
	if !iv.newlineTerminated {
		return nil, &ParseError{Offset: 0, Err: fmt.Errorf("JLAP truncated before any JSON line")}
	}
	return &Reader{br: br, lineID: string(iv.bytes), offset: int64(len(iv.bytes)) + 1}, nil
}

// LineID returns the current chain value (updated after every Read).
func (r *Reader) LineID() string { return r.lineID }

// Read returns the next JSON-object line, or io.EOF once the summary line
// has been consumed and validated. A chain mismatch at the summary line
// returns *IntegrityError; a JSON syntax error on an object line returns
// *ParseError.
func (r *Reader) Read() (Line, error) {
	if r.done {
		return Line{}, io.EOF
	}
	startOffset := r.offset
	raw, err := readLine(r.br)
	if err != nil && !raw.newlineTerminated {
		return Line{}, fmt.Errorf("jlap: reading line at offset %d: %w", startOffset, err)
	}
	if !raw.newlineTerminated {
		// Summary line: must equal the running chain value exactly.
		r.done = true
		got := string(raw.bytes)
		if got != r.lineID {
			return Line{}, &IntegrityError{Expected: r.lineID, Got: got}
		}
		return Line{}, io.EOF
	}

	newID, err := KeyedDigestHex(raw.bytes, []byte(r.lineID))
	if err != nil {
		return Line{}, fmt.Errorf("jlap: chaining line at offset %d: %w", startOffset, err)
	}

	if !json.Valid(raw.bytes) {
		return Line{}, &ParseError{Offset: startOffset, Err: fmt.Errorf("invalid JSON")}
	}

	r.lineID = newID
	r.offset += int64(len(raw.bytes)) + 1

	return Line{Offset: startOffset, Obj: json.RawMessage(raw.bytes), LineID: newID}, nil
}

// ReadAll consumes the reader to completion, returning every object line in
// order. A valid empty JLAP (IV immediately followed by a matching summary)
// returns a nil slice and a nil error.
func (r *Reader) ReadAll() ([]Line, error) {
	var out []Line
	for {
		ln, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ln)
	}
}

type rawLine struct {
	bytes             []byte
	newlineTerminated bool
}

// readLine reads up to and including the next '\n', or to EOF. The returned
// bytes never include the terminator. newlineTerminated is false both on a
// genuine EOF and on a line that is EOF-terminated without a trailing '\n'
// (the JLAP summary line).
func readLine(br *bufio.Reader) (rawLine, error) {
	line, err := br.ReadBytes('\n')
	if err == nil {
		return rawLine{bytes: line[:len(line)-1], newlineTerminated: true}, nil
	}
	if err == io.EOF {
		if len(line) == 0 {
			return rawLine{}, io.EOF
		}
		return rawLine{bytes: line, newlineTerminated: false}, nil
	}
	return rawLine{}, err
}

// Writer writes a JLAP byte stream, maintaining the keyed hash chain (spec
// §4.2). The zero value is not usable; construct with NewWriter.
type Writer struct {
	w      io.Writer
	lineID string
}

// WriterOption configures NewWriter.
type WriterOption func(*Writer)

// WithInitialLineID seeds the chain with a value other than ZeroIV, for
// writers that continue a chain from a known point (the trimmer, C3).
func WithInitialLineID(id string) WriterOption {
	return func(w *Writer) { w.lineID = id }
}

// NewWriter wraps w, immediately emitting the IV line.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	jw := &Writer{w: w, lineID: ZeroIV}
	for _, opt := range opts {
		opt(jw)
	}
	if _, err := fmt.Fprintf(jw.w, "%s\n", jw.lineID); err != nil {
		return nil, err
	}
	return jw, nil
}

// Write serializes obj to compact JSON and appends it as the next chained
// line. obj must already be in the order the caller wants it on disk;
// the writer does not reorder or deduplicate.
func (w *Writer) Write(obj any) error {
	buf, err := EncodeCanonical(obj)
	if err != nil {
		return fmt.Errorf("jlap: encoding line: %w", err)
	}
	return w.WriteRaw(buf)
}

// WriteRaw appends line (already-encoded compact JSON, no embedded '\n') as
// the next chained line.
func (w *Writer) WriteRaw(line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return fmt.Errorf("jlap: line contains embedded newline")
	}
	newID, err := KeyedDigestHex(line, []byte(w.lineID))
	if err != nil {
		return err
	}
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if _, err := w.w.Write([]byte{'\n'}); err != nil {
		return err
	}
	w.lineID = newID
	return nil
}

// LineID returns the current chain value.
func (w *Writer) LineID() string { return w.lineID }

// Finish writes the trailing summary line (no terminating newline).
func (w *Writer) Finish() error {
	_, err := io.WriteString(w.w, w.lineID)
	return err
}

// EncodeCanonical produces deterministic, compact JSON for v: sorted
// object keys, fixed timestamp formatting, no trailing whitespace, no
// embedded newline (spec §4.2, §9 open question 4). Callers computing or
// re-computing a chain value over a JSON value MUST go through this helper
// rather than a second ad hoc json.Marshal, so that hashing and encoding
// never drift.
func EncodeCanonical(v any) ([]byte, error) {
	return canonicalJSON(v)
}
