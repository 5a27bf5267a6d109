package logger

// Standard field keys for structured logging across the ingestion pipeline.
// Use these keys consistently so log lines stay greppable and aggregatable.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Request / upload identity
	KeyRequestID = "request_id"
	KeyUploadID  = "upload_id"
	KeyFileHash  = "file_hash"
	KeyLineIndex = "line_index"
	KeyLineHash  = "line_hash"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorKind  = "error_kind"
	KeyAttempt    = "attempt"
	KeyStatus     = "status"

	// Queue / lock coordination
	KeyStream     = "stream"
	KeyGroup      = "group"
	KeyConsumer   = "consumer"
	KeyMessageID  = "message_id"
	KeyLockName   = "lock_name"

	// Storage
	KeyBucket = "bucket"
	KeyKey    = "key"
)
