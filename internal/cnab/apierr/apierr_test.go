package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus_Mapping(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:           http.StatusBadRequest,
		KindUnsupportedMediaType: http.StatusUnsupportedMediaType,
		KindPayloadTooLarge:      http.StatusRequestEntityTooLarge,
		KindDuplicate:            http.StatusConflict,
		KindUnprocessableEntity:  http.StatusUnprocessableEntity,
		KindTransientStorage:     http.StatusInternalServerError,
		KindMissingBlob:          http.StatusInternalServerError,
		KindLockConflict:         http.StatusConflict,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(KindTransientStorage))
	assert.False(t, Retryable(KindMissingBlob))
	assert.False(t, Retryable(KindLineParseError))
}

func TestTerminatesUpload(t *testing.T) {
	assert.True(t, TerminatesUpload(KindUnprocessableEntity))
	assert.True(t, TerminatesUpload(KindMissingBlob))
	assert.False(t, TerminatesUpload(KindTransientStorage))
	assert.False(t, TerminatesUpload(KindLineParseError))
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransientStorage, "put object failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "transient_storage")
}

func TestAs_ExtractsThroughWrapping(t *testing.T) {
	base := New(KindMissingBlob, "storagePath empty")
	wrapped := fmt.Errorf("engine: %w", base)

	extracted, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindMissingBlob, extracted.Kind)
}

func TestKindOf_ReturnsEmptyForPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestKindOf_ReturnsKindForTaggedError(t *testing.T) {
	err := New(KindDuplicate, "file already known")
	assert.Equal(t, KindDuplicate, KindOf(err))
}
