// Package recoveryloop implements the background ticker that re-enqueues
// uploads abandoned mid-processing (spec.md §4.9): a crashed or partitioned
// ProcessingEngine replica leaves its lock to expire and its queue delivery
// unacked, but a stuck upload still needs to be nudged back onto the queue
// from its last checkpoint.
package recoveryloop

import (
	"context"
	"fmt"
	"time"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/metrics"
	"github.com/cnabflow/ingestor/internal/queue"
	"github.com/cnabflow/ingestor/internal/registry"
	"github.com/cnabflow/ingestor/internal/telemetry"
)

// Config controls RecoveryLoop tunables, named directly after spec.md §6.
type Config struct {
	RecoveryCheckInterval time.Duration `mapstructure:"recovery_check_interval" yaml:"recovery_check_interval"`
	StuckUploadTimeout    time.Duration `mapstructure:"stuck_upload_timeout" yaml:"stuck_upload_timeout"`
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		RecoveryCheckInterval: 5 * time.Minute,
		StuckUploadTimeout:    30 * time.Minute,
	}
}

// Result reports the outcome of one resume attempt, for the admin endpoint.
type Result struct {
	UploadID string
	Resumed  bool
	Error    string
}

// RecoveryLoop is the periodic stuck-upload scanner plus the admin
// resume/resumeAll operations, spec.md §4.9.
type RecoveryLoop struct {
	cfg      Config
	registry registry.UploadRegistry
	queue    queue.Queue
	metrics  *metrics.IngestionMetrics
}

// New builds a RecoveryLoop from its external collaborators. m may be nil;
// every IngestionMetrics method is a no-op against a nil receiver.
func New(cfg Config, reg registry.UploadRegistry, q queue.Queue, m *metrics.IngestionMetrics) *RecoveryLoop {
	return &RecoveryLoop{cfg: cfg, registry: reg, queue: q, metrics: m}
}

// Run ticks every RecoveryCheckInterval until ctx is cancelled, scanning for
// and re-enqueuing stuck uploads. It never returns an error for a per-upload
// failure — those are logged and accumulated, never fatal to the loop.
func (r *RecoveryLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RecoveryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			results := r.ResumeAll(ctx, r.cfg.StuckUploadTimeout)
			for _, res := range results {
				if res.Error != "" {
					logger.WarnCtx(ctx, "recovery scan could not resume upload", "upload_id", res.UploadID, "error", res.Error)
				}
			}
		}
	}
}

// ResumeAll implements spec.md §4.9 steps 1-2 and the `resumeAll(timeout)`
// admin operation: find every upload stuck for longer than timeout and
// attempt to resume each. Per-upload errors are accumulated, never
// propagated — the loop must never crash the process.
func (r *RecoveryLoop) ResumeAll(ctx context.Context, timeout time.Duration) []Result {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRecoveryScan)
	defer span.End()

	stuck, err := r.registry.FindStuck(ctx, timeout)
	if err != nil {
		logger.ErrorCtx(ctx, "find stuck uploads failed", "error", err)
		return []Result{{Error: fmt.Sprintf("find stuck uploads: %v", err)}}
	}

	results := make([]Result, 0, len(stuck))
	for _, upload := range stuck {
		results = append(results, r.resumeUpload(ctx, upload, "scan"))
	}
	return results
}

// Resume implements the `resume(uploadId)` admin operation: load the single
// upload by id and attempt to resume it, regardless of how long it has been
// stuck (an operator-triggered resume bypasses the timeout check).
func (r *RecoveryLoop) Resume(ctx context.Context, uploadID string) Result {
	upload, err := r.registry.GetByID(ctx, uploadID)
	if err != nil {
		return Result{UploadID: uploadID, Error: fmt.Sprintf("load upload: %v", err)}
	}
	return r.resumeUpload(ctx, upload, "manual")
}

// resumeUpload implements spec.md §4.9 step 2's per-upload logic, shared by
// the periodic scan and both admin operations.
func (r *RecoveryLoop) resumeUpload(ctx context.Context, upload *model.FileUpload, trigger string) Result {
	if upload.Status.Terminal() {
		return Result{UploadID: upload.ID, Resumed: false}
	}

	if upload.StoragePath == "" {
		reason := "missing_blob: stuck upload has no storage path"
		attempt := upload.RetryCount
		if err := r.registry.UpdateStatus(ctx, upload.ID, model.UploadStatusFailed, &attempt, &reason); err != nil {
			logger.WarnCtx(ctx, "failed to mark storageless stuck upload Failed", "upload_id", upload.ID, "error", err)
		}
		return Result{UploadID: upload.ID, Resumed: false, Error: reason}
	}

	msg := queue.Message{
		UploadID:       upload.ID,
		StoragePath:    upload.StoragePath,
		ResumeFromLine: upload.LastCheckpointLine + 1,
		Attempt:        upload.RetryCount + 1,
	}
	if err := r.queue.Enqueue(ctx, queue.StreamUploadQueue, msg); err != nil {
		logger.WarnCtx(ctx, "failed to re-enqueue stuck upload", "upload_id", upload.ID, "error", err)
		return Result{UploadID: upload.ID, Error: fmt.Sprintf("enqueue: %v", err)}
	}

	logger.InfoCtx(ctx, "resumed stuck upload", "upload_id", upload.ID, "resume_from_line", msg.ResumeFromLine, "attempt", msg.Attempt)
	r.metrics.ObserveRecoveryResume(trigger)
	return Result{UploadID: upload.ID, Resumed: true}
}
