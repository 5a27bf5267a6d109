// Package processingengine implements the ProcessingEngine consumer
// lifecycle from spec.md §4.8: per-message lock acquisition, streamed
// line-by-line processing through a bounded LineWorker pool, periodic
// checkpointing, and retry/DLQ handling on failure.
package processingengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/lock"
	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/metrics"
	"github.com/cnabflow/ingestor/internal/objectstore"
	"github.com/cnabflow/ingestor/internal/queue"
	"github.com/cnabflow/ingestor/internal/registry"
	"github.com/cnabflow/ingestor/internal/telemetry"
)

// Config controls ProcessingEngine tunables, all named directly after
// spec.md §6's configuration options.
type Config struct {
	ParallelWorkers    int           `mapstructure:"parallel_workers" yaml:"parallel_workers"`
	CheckpointInterval int64         `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
	MaxRetryPerLine    int           `mapstructure:"max_retry_per_line" yaml:"max_retry_per_line"`
	RetryDelayMs       int           `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	ProcessingTTL      time.Duration `mapstructure:"processing_ttl" yaml:"processing_ttl"`
	MaxAttempts        int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Bucket             string        `mapstructure:"bucket" yaml:"bucket"`
	ConsumerGroup      string        `mapstructure:"consumer_group" yaml:"consumer_group"`
	ConsumerID         string        `mapstructure:"consumer_id" yaml:"consumer_id"`
	BatchSize          int           `mapstructure:"batch_size" yaml:"batch_size"`
	BlockDuration      time.Duration `mapstructure:"block_duration" yaml:"block_duration"`
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		ParallelWorkers:    4,
		CheckpointInterval: 100,
		MaxRetryPerLine:    3,
		RetryDelayMs:       1000,
		ProcessingTTL:      2 * time.Minute,
		MaxAttempts:        5,
		Bucket:             "cnab-uploads",
		ConsumerGroup:      "cnab-engine",
		ConsumerID:         "engine-1",
		BatchSize:          10,
		BlockDuration:      5 * time.Second,
	}
}

// Engine is the long-running ProcessingEngine consumer.
type Engine struct {
	cfg      Config
	store    objectstore.Store
	registry registry.UploadRegistry
	queue    queue.Queue
	lock     lock.DistributedLock
	metrics  *metrics.IngestionMetrics
}

// New builds an Engine from its external collaborators. m may be nil; every
// IngestionMetrics method is a no-op against a nil receiver.
func New(cfg Config, store objectstore.Store, reg registry.UploadRegistry, q queue.Queue, lk lock.DistributedLock, m *metrics.IngestionMetrics) *Engine {
	return &Engine{cfg: cfg, store: store, registry: reg, queue: q, lock: lk, metrics: m}
}

// Run pulls batches from the queue and handles each message until ctx is
// cancelled, per the shutdown semantics in spec.md §5: it stops pulling new
// messages and returns once the message being handled returns; messages
// left in the fetched batch stay unacknowledged.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := e.queue.Consume(ctx, queue.StreamUploadQueue, e.cfg.ConsumerGroup, e.cfg.ConsumerID, e.cfg.BatchSize, e.cfg.BlockDuration)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			logger.ErrorCtx(ctx, "queue consume failed", "error", err)
			continue
		}

		for _, msg := range msgs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.handle(ctx, msg)
		}
	}
}

// handle implements the per-message lifecycle, spec.md §4.8 steps 1-10.
func (e *Engine) handle(ctx context.Context, msg queue.Message) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanEngineHandle, msg.UploadID, telemetry.Attempt(msg.Attempt))
	defer span.End()

	attemptStart := time.Now()

	// Step 1: acquire the per-upload lock.
	handle, err := e.lock.Acquire(ctx, lock.NameForUpload(msg.UploadID), e.cfg.ProcessingTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			logger.InfoCtx(ctx, "upload locked by another worker, leaving for pending scan", "upload_id", msg.UploadID)
			return
		}
		logger.WarnCtx(ctx, "lock acquire failed, leaving for pending scan", "upload_id", msg.UploadID, "error", err)
		return
	}
	defer func() { _ = handle.Release(ctx) }()

	// Step 2: load the upload; ack-and-skip if gone or already terminal.
	upload, err := e.registry.GetByID(ctx, msg.UploadID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			e.ack(ctx, msg)
			return
		}
		logger.WarnCtx(ctx, "failed to load upload, leaving for retry", "upload_id", msg.UploadID, "error", err)
		return
	}
	if upload.Status.Terminal() {
		e.ack(ctx, msg)
		return
	}

	// Step 3.
	if err := e.registry.UpdateStatus(ctx, upload.ID, model.UploadStatusProcessing, &msg.Attempt, nil); err != nil {
		logger.WarnCtx(ctx, "failed to mark upload Processing, leaving for retry", "upload_id", upload.ID, "error", err)
		return
	}

	// Step 4: open the stream; empty storage path is a graceful-degradation
	// upload that never made it to the object store.
	if msg.StoragePath == "" {
		e.terminal(ctx, upload, msg, "missing_blob: upload has no storage path", attemptStart)
		return
	}

	stream, err := e.store.Get(ctx, e.cfg.Bucket, msg.StoragePath)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			e.terminal(ctx, upload, msg, "missing_blob: object not found in store", attemptStart)
			return
		}
		e.transient(ctx, upload, msg, fmt.Errorf("object store get: %w", err), attemptStart)
		return
	}
	defer stream.Close()

	content, err := io.ReadAll(stream)
	if err != nil {
		e.transient(ctx, upload, msg, fmt.Errorf("object store read: %w", err), attemptStart)
		return
	}

	// Step 5: count-then-process.
	lines := splitLines(content)
	if err := e.registry.SetTotalLineCount(ctx, upload.ID, int64(len(lines))); err != nil {
		e.transient(ctx, upload, msg, fmt.Errorf("set total line count: %w", err), attemptStart)
		return
	}

	if len(lines) == 0 {
		e.terminal(ctx, upload, msg, "unprocessable_entity: file has zero lines", attemptStart)
		return
	}

	uow := newUnitOfWork(e.registry, upload, e.metrics)
	worker := newLineWorker(e.registry, e.cfg.MaxRetryPerLine, time.Duration(e.cfg.RetryDelayMs)*time.Millisecond, e.metrics)

	// Step 6-7: process in checkpoint-sized chunks with bounded parallelism.
	start := int(msg.ResumeFromLine)
	if start < 0 {
		start = 0
	}
	for start < len(lines) {
		end := start + int(e.cfg.CheckpointInterval)
		if end > len(lines) {
			end = len(lines)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.ParallelWorkers)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				outcome := worker.process(gctx, upload.ID, lines[i], i)
				uow.record(outcome)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			e.transient(ctx, upload, msg, fmt.Errorf("line batch: %w", err), attemptStart)
			return
		}

		if err := uow.flush(ctx, int64(end-1)); err != nil {
			e.transient(ctx, upload, msg, fmt.Errorf("checkpoint flush: %w", err), attemptStart)
			return
		}
		if err := handle.Renew(ctx, e.cfg.ProcessingTTL); err != nil {
			logger.WarnCtx(ctx, "lock renewal failed mid-processing", "upload_id", upload.ID, "error", err)
		}

		start = end
	}

	// Step 8: finalise and ack.
	processed, failed, skipped := uow.snapshot()
	if processed == 0 && skipped == 0 && failed == int64(len(lines)) {
		e.terminal(ctx, upload, msg, "unprocessable_entity: every line failed to parse", attemptStart)
		return
	}
	if err := e.registry.FinaliseResult(ctx, upload.ID, processed, failed, skipped); err != nil {
		e.transient(ctx, upload, msg, fmt.Errorf("finalise result: %w", err), attemptStart)
		return
	}

	outcome := "completed"
	if failed > 0 {
		outcome = "partially_failed"
	}
	e.metrics.ObserveProcessingRun(outcome, time.Since(attemptStart))
	e.ack(ctx, msg)
}

func (e *Engine) ack(ctx context.Context, msg queue.Message) {
	if err := e.queue.Ack(ctx, queue.StreamUploadQueue, e.cfg.ConsumerGroup, msg.ID); err != nil {
		logger.WarnCtx(ctx, "ack failed", "upload_id", msg.UploadID, "error", err)
	}
}

// transient handles step 9: record the attempt, and DLQ if attempts are
// exhausted; otherwise leave the message unacked for pending-scan reclaim.
func (e *Engine) transient(ctx context.Context, upload *model.FileUpload, msg queue.Message, cause error, attemptStart time.Time) {
	logger.WarnCtx(ctx, "transient error processing upload", "upload_id", upload.ID, "attempt", msg.Attempt, "error", cause)

	if msg.Attempt >= e.cfg.MaxAttempts {
		e.terminal(ctx, upload, msg, fmt.Sprintf("transient_storage: %v", cause), attemptStart)
		return
	}

	nextAttempt := msg.Attempt + 1
	if err := e.registry.UpdateStatus(ctx, upload.ID, model.UploadStatusProcessing, &nextAttempt, nil); err != nil {
		logger.WarnCtx(ctx, "failed to record retry attempt", "upload_id", upload.ID, "error", err)
	}
	// Message is left unacked; RecoveryLoop/pending-scan will reclaim it.
	e.metrics.ObserveProcessingRun("retry", time.Since(attemptStart))
}

// terminal handles step 10: DLQ, mark Failed, ack the original message.
func (e *Engine) terminal(ctx context.Context, upload *model.FileUpload, msg queue.Message, reason string, attemptStart time.Time) {
	logger.ErrorCtx(ctx, "upload terminally failed", "upload_id", upload.ID, "reason", reason)

	if err := e.queue.EnqueueDead(ctx, queue.StreamUploadDLQ, queue.DeadLetter{
		UploadID: upload.ID,
		Reason:   reason,
		Attempts: msg.Attempt,
	}); err != nil {
		logger.WarnCtx(ctx, "failed to enqueue dead letter", "upload_id", upload.ID, "error", err)
	}

	if err := e.registry.UpdateStatus(ctx, upload.ID, model.UploadStatusFailed, &msg.Attempt, &reason); err != nil {
		logger.WarnCtx(ctx, "failed to mark upload Failed", "upload_id", upload.ID, "error", err)
	}

	e.metrics.ObserveProcessingRun("failed", time.Since(attemptStart))
	e.ack(ctx, msg)
}

func splitLines(content []byte) [][]byte {
	raw := bytes.Split(content, []byte("\n"))
	if len(raw) > 0 && len(raw[len(raw)-1]) == 0 {
		raw = raw[:len(raw)-1]
	}
	lines := make([][]byte, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, bytes.TrimSuffix(l, []byte("\r")))
	}
	return lines
}
