// Package apierr defines the ingestion pipeline's error taxonomy: a small
// set of tagged kinds that map deterministically to an HTTP status and a
// recovery behavior, shared by the HTTP front door, the processing engine,
// and the DLQ.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an error with its place in the taxonomy from the error handling
// design. Each kind carries a fixed HTTP status and a fixed recovery
// behavior — see Retryable and HTTPStatus.
type Kind string

const (
	// KindBadRequest covers an empty body, missing filename, or
	// whitespace-only content. The upload is rejected, no state written.
	KindBadRequest Kind = "bad_request"

	// KindUnsupportedMediaType covers a non-multipart request or an
	// unrecognized file extension. The upload is rejected.
	KindUnsupportedMediaType Kind = "unsupported_media_type"

	// KindPayloadTooLarge covers content exceeding the configured maxBytes.
	// The upload is rejected.
	KindPayloadTooLarge Kind = "payload_too_large"

	// KindDuplicate covers a fileHash that is already known. This is not a
	// processing failure: the caller gets back the existing upload id and
	// nothing is queued.
	KindDuplicate Kind = "duplicate"

	// KindUnprocessableEntity covers a file that is structurally
	// unparseable as a whole (e.g. zero valid lines after attempting to
	// parse every line). Terminal Failed.
	KindUnprocessableEntity Kind = "unprocessable_entity"

	// KindLineParseError covers the parser rejecting a single line. It is
	// absorbed into the failed-line counter; it never fails the upload.
	KindLineParseError Kind = "line_parse_error"

	// KindTransientStorage covers a transient DB, object-store, or queue
	// fault. The operation is retried with backoff; once attempt reaches
	// the configured maxRetries, the upload is DLQ'd and marked Failed.
	KindTransientStorage Kind = "transient_storage"

	// KindMissingBlob covers an empty storagePath or an object-store miss.
	// DLQ + Failed immediately; this is not retried as transient, since
	// the blob will not reappear on its own.
	KindMissingBlob Kind = "missing_blob"

	// KindLockConflict covers a DistributedLock already held by another
	// worker. The delivery is skipped; pending-entry reclaim will retry it
	// later.
	KindLockConflict Kind = "lock_conflict"
)

// Error is the taxonomy-tagged error type carried through the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts the *Error from err, if present anywhere in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind for err, or "" if err does not carry one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps a Kind to the status code the HTTP front door returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindDuplicate:
		return http.StatusConflict
	case KindUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case KindTransientStorage:
		return http.StatusInternalServerError
	case KindMissingBlob:
		return http.StatusInternalServerError
	case KindLockConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the processing engine should retry with backoff
// rather than immediately terminating the upload.
func Retryable(kind Kind) bool {
	return kind == KindTransientStorage
}

// TerminatesUpload reports whether encountering this kind during processing
// ends the upload as Failed (after DLQ'ing it, for the kinds that go
// through the queue).
func TerminatesUpload(kind Kind) bool {
	switch kind {
	case KindUnprocessableEntity, KindMissingBlob:
		return true
	default:
		return false
	}
}
