// Package ingestionfront is the multipart upload entry point: it validates,
// deduplicates, persists, and hands off a CNAB file for processing, per
// spec.md §4.7.
package ingestionfront

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/cnabflow/ingestor/internal/cnab/apierr"
	"github.com/cnabflow/ingestor/internal/cnab/hasher"
	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/metrics"
	"github.com/cnabflow/ingestor/internal/objectstore"
	"github.com/cnabflow/ingestor/internal/queue"
	"github.com/cnabflow/ingestor/internal/registry"
	"github.com/cnabflow/ingestor/internal/telemetry"
)

// Strategy selects whether accepted uploads are processed in the background
// (Async, the production default) or inline within the request (Sync, the
// test/degraded profile).
type Strategy int

const (
	StrategyAsync Strategy = iota
	StrategySync
)

// OutcomeKind distinguishes the three successful response shapes from
// spec.md §6.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeSuccess
	OutcomeDuplicate
)

// Outcome is the result of Accept, shaped for direct translation into the
// HTTP responses described in spec.md §6.
type Outcome struct {
	Kind             OutcomeKind
	UploadID         string
	ExistingUploadID string // set only for OutcomeDuplicate
	Count            int64  // set only for OutcomeSuccess (synchronous)
}

// LineProcessor is the inline, synchronous path used when Strategy is
// StrategySync — implemented by processingengine.Engine.ProcessInline.
type LineProcessor interface {
	ProcessInline(ctx context.Context, uploadID string, content []byte) (processed int64, err error)
}

// Config controls multipart validation limits.
type Config struct {
	MaxBytes int64    `mapstructure:"max_bytes" yaml:"max_bytes"`
	Strategy Strategy `mapstructure:"strategy" yaml:"strategy"`
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBytes: 1 << 20, // 1 MiB
		Strategy: StrategyAsync,
	}
}

// Front implements the 11-step upload intake pipeline.
type Front struct {
	cfg       Config
	store     objectstore.Store
	bucket    string
	registry  registry.UploadRegistry
	queue     queue.Queue
	processor LineProcessor
	metrics   *metrics.IngestionMetrics
}

// New builds a Front. processor may be nil when cfg.Strategy is StrategyAsync.
// m may be nil; every IngestionMetrics method is a no-op against a nil
// receiver.
func New(cfg Config, store objectstore.Store, bucket string, reg registry.UploadRegistry, q queue.Queue, processor LineProcessor, m *metrics.IngestionMetrics) *Front {
	return &Front{cfg: cfg, store: store, bucket: bucket, registry: reg, queue: q, processor: processor, metrics: m}
}

// Accept runs the full intake pipeline against one multipart part.
func (f *Front) Accept(ctx context.Context, contentType string, body io.Reader) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanIngestionAccept)
	defer span.End()

	// Step 1: must be multipart/form-data.
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.EqualFold(mediaType, "multipart/form-data") {
		return Outcome{}, apierr.New(apierr.KindUnsupportedMediaType, "request must be multipart/form-data")
	}
	boundary, ok := params["boundary"]
	if !ok || boundary == "" {
		return Outcome{}, apierr.New(apierr.KindBadRequest, "missing multipart boundary")
	}

	reader := multipart.NewReader(body, boundary)

	// Step 2: first file part, reject if missing a filename.
	part, err := firstFilePart(reader)
	if err != nil {
		return Outcome{}, apierr.Wrap(apierr.KindBadRequest, "no file part found", err)
	}
	if part.FileName() == "" {
		return Outcome{}, apierr.New(apierr.KindBadRequest, "file part has no filename")
	}

	// Step 3: extension must be .txt case-insensitively.
	if !strings.EqualFold(filepath.Ext(part.FileName()), ".txt") {
		return Outcome{}, apierr.New(apierr.KindUnsupportedMediaType, "file extension must be .txt")
	}

	// Step 4: buffer while enforcing maxBytes.
	content, err := readLimited(part, f.cfg.MaxBytes)
	if err != nil {
		return Outcome{}, err
	}

	// Step 5: reject empty or whitespace-only content.
	if len(bytes.TrimSpace(content)) == 0 {
		return Outcome{}, apierr.New(apierr.KindBadRequest, "file content is empty or whitespace-only")
	}

	// Step 6: compute fileHash.
	fileHash := hasher.HashFile(content)

	// Step 7: dedup check.
	unique, existing, err := f.registry.IsFileUnique(ctx, fileHash)
	if err != nil {
		return Outcome{}, apierr.Wrap(apierr.KindTransientStorage, "dedup check failed", err)
	}
	if !unique {
		logger.InfoCtx(ctx, "duplicate upload rejected", "file_hash", fileHash, "existing_upload_id", existing.ID)
		f.metrics.ObserveUpload("duplicate", 0)
		return Outcome{Kind: OutcomeDuplicate, ExistingUploadID: existing.ID}, nil
	}

	// Step 8: generate the storage file name.
	storedFileName := nowUTC().Format("20060102150405")

	// Step 9: try the object store; graceful degradation on failure.
	storagePath := ""
	key := storedFileName + "/" + part.FileName()
	if putErr := f.store.Put(ctx, f.bucket, key, bytes.NewReader(content), int64(len(content))); putErr != nil {
		logger.WarnCtx(ctx, "object store put failed, continuing in degraded mode", "error", putErr)
	} else {
		storagePath = key
	}

	// Step 10: create the pending row under the server-generated name; the
	// client's original filename is never persisted as-is.
	upload, err := f.registry.CreatePending(ctx, storedFileName, fileHash, int64(len(content)), storagePath)
	if err != nil {
		return Outcome{}, apierr.Wrap(apierr.KindTransientStorage, "failed to persist pending upload", err)
	}

	// Step 11: dispatch per strategy.
	if f.cfg.Strategy == StrategySync {
		if f.processor == nil {
			return Outcome{}, apierr.New(apierr.KindTransientStorage, "synchronous strategy configured without a processor")
		}
		count, procErr := f.processor.ProcessInline(ctx, upload.ID, content)
		if procErr != nil {
			return Outcome{}, apierr.Wrap(apierr.KindTransientStorage, "synchronous processing failed", procErr)
		}
		f.metrics.ObserveUpload("accepted", int64(len(content)))
		return Outcome{Kind: OutcomeSuccess, UploadID: upload.ID, Count: count}, nil
	}

	if err := f.queue.Enqueue(ctx, queue.StreamUploadQueue, queue.Message{
		UploadID:       upload.ID,
		StoragePath:    storagePath,
		ResumeFromLine: 0,
		Attempt:        0,
	}); err != nil {
		// The row is already committed; the RecoveryLoop's next cycle will
		// pick this upload up even though the enqueue failed.
		logger.WarnCtx(ctx, "enqueue failed after commit, relying on recovery loop", "upload_id", upload.ID, "error", err)
	}

	f.metrics.ObserveUpload("accepted", int64(len(content)))
	return Outcome{Kind: OutcomeAccepted, UploadID: upload.ID}, nil
}

func firstFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" || part.FileName() != "" {
			return part, nil
		}
	}
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	content, err := io.ReadAll(limited)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBadRequest, "failed to read file content", err)
	}
	if int64(len(content)) > maxBytes {
		return nil, apierr.New(apierr.KindPayloadTooLarge, "file content exceeds maximum allowed size")
	}
	return content, nil
}

var nowUTC = func() time.Time { return time.Now().UTC() }
