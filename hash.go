package jlap

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the BLAKE2b-256 output size used throughout JLAP: for
// snapshot hashes (have/want/from/to) and for chain values (lineid).
const DigestSize = 32

// MaxLineIDBytes bounds the IV/lineid line length read by the codec (C2);
// a 32-byte digest hex-encodes to 64 bytes, exactly the limit, and the
// limit exists independently to catch a corrupt or adversarial first line.
const MaxLineIDBytes = 64

// Digest computes the unkeyed BLAKE2b-256 digest of data, used to hash
// snapshot bytes (spec §3: "Snapshot ... identified by the hex-encoded
// BLAKE2b-256 digest of its exact on-the-wire byte representation").
func Digest(data []byte) [DigestSize]byte {
	return blake2b.Sum256(data)
}

// DigestHex is Digest, hex-encoded.
func DigestHex(data []byte) string {
	sum := Digest(data)
	return hex.EncodeToString(sum[:])
}

// KeyedDigest computes BLAKE2b-256 of data with key used as the MAC key.
// This is the chain function from spec §3: for a JLAP line, key is the
// previous chain value, encoded as its 64-character ASCII hex string.
// key must be at most 64 bytes; the chain value itself is 64 hex bytes so
// this is never a practical constraint.
func KeyedDigest(data, key []byte) ([DigestSize]byte, error) {
	h, err := blake2b.New(DigestSize, key)
	if err != nil {
		return [DigestSize]byte{}, err
	}
	if _, err := h.Write(data); err != nil {
		return [DigestSize]byte{}, err
	}
	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// KeyedDigestHex is KeyedDigest, hex-encoded.
func KeyedDigestHex(data, key []byte) (string, error) {
	sum, err := KeyedDigest(data, key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// StreamingHasher wraps an io.Reader, updating an internal unkeyed BLAKE2b
// digest with every byte read, so a snapshot can be hashed while it is
// parsed, without a second pass over a potentially very large document.
// Apply and SyncClient do not use it: the proxy and the tests hash snapshot
// bytes they already hold in memory with DigestHex.
type StreamingHasher struct {
	r    io.Reader
	hash interface {
		io.Writer
		Sum([]byte) []byte
	}
}

// NewStreamingHasher wraps r with an unkeyed BLAKE2b-256 hasher.
func NewStreamingHasher(r io.Reader) (*StreamingHasher, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	return &StreamingHasher{r: r, hash: h}, nil
}

// Read implements io.Reader, feeding every byte successfully read into the
// running digest before returning it to the caller.
func (s *StreamingHasher) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the BLAKE2b-256 digest of everything read so far.
func (s *StreamingHasher) Sum() [DigestSize]byte {
	var out [DigestSize]byte
	copy(out[:], s.hash.Sum(nil))
	return out
}

// SumHex is Sum, hex-encoded.
func (s *StreamingHasher) SumHex() string {
	sum := s.Sum()
	return hex.EncodeToString(sum[:])
}
