package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFile_Deterministic(t *testing.T) {
	content := []byte("1202001010000014200096206760171234****78901534 53JOAO")
	h1 := HashFile(content)
	h2 := HashFile(content)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex-encoded SHA-256
}

func TestHashFile_DifferentContentDifferentHash(t *testing.T) {
	a := HashFile([]byte("line-a"))
	b := HashFile([]byte("line-b"))
	assert.NotEqual(t, a, b)
}

func TestHashFile_MatchesKnownDigest(t *testing.T) {
	content := []byte("hello cnab")
	sum := sha256.Sum256(content)
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, HashFile(content))
}

func TestHashLine_IncludesWhitespace(t *testing.T) {
	a := HashLine([]byte("trailing spaces   "))
	b := HashLine([]byte("trailing spaces"))
	assert.NotEqual(t, a, b)
}

func TestHashStream_MatchesHashFile(t *testing.T) {
	content := []byte(strings.Repeat("A", 10000))
	streamHash, err := HashStream(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, HashFile(content), streamHash)
}

func TestHashStream_ResetsSeekableStreamToStart(t *testing.T) {
	content := []byte("some upload content")
	r := bytes.NewReader(content)

	_, err := HashStream(r)
	require.NoError(t, err)

	pos, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	remaining, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, remaining)
}

func TestHashStream_NonSeekableStreamStillHashes(t *testing.T) {
	content := []byte("non-seekable content")
	r := io.NopCloser(bytes.NewReader(content))
	h, err := HashStream(r)
	require.NoError(t, err)
	assert.Equal(t, HashFile(content), h)
}

func TestHashStream_LargeInputBoundedMemory(t *testing.T) {
	// Exercises the chunked copy path across several buffer boundaries.
	content := bytes.Repeat([]byte("x"), bufSize*3+17)
	h, err := HashStream(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, HashFile(content), h)
}
