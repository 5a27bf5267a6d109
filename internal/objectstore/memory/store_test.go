package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnabflow/ingestor/internal/objectstore"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	content := "line one\nline two\n"
	require.NoError(t, s.Put(ctx, "uploads", "2026/07/30/u-1.txt", strings.NewReader(content), int64(len(content))))

	r, err := s.Get(ctx, "uploads", "2026/07/30/u-1.txt")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestGet_MissingKeyReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "uploads", "does-not-exist.txt")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestGet_MissingBucketReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "nonexistent-bucket", "k")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestDelete_IsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "b", "k", strings.NewReader("x"), 1))

	require.NoError(t, s.Delete(ctx, "b", "k"))
	require.NoError(t, s.Delete(ctx, "b", "k")) // deleting again is not an error

	_, err := s.Get(ctx, "b", "k")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestEnsureBucket_IsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.EnsureBucket(ctx, "uploads"))
	require.NoError(t, s.EnsureBucket(ctx, "uploads"))
}

func TestBootstrapAsync_ReportsResultWithoutBlocking(t *testing.T) {
	s := New()
	done := make(chan error, 1)

	objectstore.BootstrapAsync(context.Background(), s, "uploads", func(err error) {
		done <- err
	})

	assert.NoError(t, <-done)
}
