// Package hasher provides the pure, deterministic hash primitives used for
// upload-level deduplication and line-level idempotency.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// bufSize bounds the memory used by the streaming hasher independent of the
// size of the stream being hashed.
const bufSize = 64 * 1024

// HashFile returns the hex-encoded SHA-256 digest of the entire file
// content. Used as the upload-level deduplication key.
func HashFile(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashLine returns the hex-encoded SHA-256 digest of one raw line, including
// any leading or trailing whitespace the caller passes in. Used as the
// per-line idempotency key.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:])
}

// seeker is satisfied by any stream that supports resetting to an absolute
// offset, e.g. *os.File or *bytes.Reader.
type seeker interface {
	Seek(offset int64, whence int) (int64, error)
}

// HashStream computes the SHA-256 digest of r by reading it in fixed-size
// chunks, so memory use does not grow with stream size. If r also
// implements io.Seeker, it is reset to offset 0 after hashing — this lets
// callers immediately re-read the stream from the start (e.g. to hand it to
// ObjectStore.Put right after computing the dedup hash).
func HashStream(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, bufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}

	if s, ok := r.(seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
