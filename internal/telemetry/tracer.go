package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across ingestion pipeline spans.
const (
	AttrUploadID   = "upload.id"
	AttrFileHash   = "upload.file_hash"
	AttrLineIndex  = "upload.line_index"
	AttrStream     = "queue.stream"
	AttrGroup      = "queue.group"
	AttrBucket     = "storage.bucket"
	AttrKey        = "storage.key"
	AttrAttempt    = "engine.attempt"
	AttrClientIP   = "net.client_ip"
)

// Span names for the ingestion pipeline.
const (
	SpanIngestionAccept    = "ingestionfront.accept"
	SpanEngineHandle       = "processingengine.handle"
	SpanEngineLine         = "processingengine.line"
	SpanRecoveryScan       = "recoveryloop.scan"
	SpanObjectStorePut     = "objectstore.put"
	SpanObjectStoreGet     = "objectstore.get"
)

// UploadID returns an attribute for the upload id.
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// FileHash returns an attribute for the whole-file content hash.
func FileHash(hash string) attribute.KeyValue {
	return attribute.String(AttrFileHash, hash)
}

// LineIndex returns an attribute for the zero-based line index.
func LineIndex(idx int) attribute.KeyValue {
	return attribute.Int(AttrLineIndex, idx)
}

// Stream returns an attribute for a queue stream name.
func Stream(name string) attribute.KeyValue {
	return attribute.String(AttrStream, name)
}

// Group returns an attribute for a queue consumer group name.
func Group(name string) attribute.KeyValue {
	return attribute.String(AttrGroup, name)
}

// ClientIP returns an attribute for the caller's source IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// Bucket returns an attribute for an object store bucket.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object store key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Attempt returns an attribute for a retry attempt count.
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// StartUploadSpan starts a span scoped to a single upload, tagging it with
// the upload id and any extra attributes.
func StartUploadSpan(ctx context.Context, name, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{UploadID(uploadID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
