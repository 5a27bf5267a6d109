package processingengine

import (
	"context"
	"sync"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/metrics"
	"github.com/cnabflow/ingestor/internal/registry"
)

// unitOfWork accumulates per-line outcomes for one processing attempt of an
// upload and flushes the running totals as a single checkpoint write at the
// end of each checkpoint interval, per
// spec.md §4.8 step 7 and §9's "scoped request-context services" note.
type unitOfWork struct {
	mu       sync.Mutex
	registry registry.UploadRegistry
	uploadID string
	metrics  *metrics.IngestionMetrics

	processed int64
	failed    int64
	skipped   int64
}

// newUnitOfWork seeds counters from upload's persisted counts so a resumed
// run's checkpoint reflects the cumulative total across all attempts.
func newUnitOfWork(reg registry.UploadRegistry, upload *model.FileUpload, m *metrics.IngestionMetrics) *unitOfWork {
	return &unitOfWork{
		registry:  reg,
		uploadID:  upload.ID,
		metrics:   m,
		processed: upload.ProcessedLineCount,
		failed:    upload.FailedLineCount,
		skipped:   upload.SkippedLineCount,
	}
}

func (u *unitOfWork) record(outcome lineOutcome) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch outcome {
	case outcomeProcessed:
		u.processed++
	case outcomeFailed:
		u.failed++
	case outcomeSkipped:
		u.skipped++
	}
}

func (u *unitOfWork) snapshot() (processed, failed, skipped int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.processed, u.failed, u.skipped
}

// flush commits staged line hashes and writes a monotonic checkpoint.
func (u *unitOfWork) flush(ctx context.Context, lastCheckpointLine int64) error {
	if err := u.registry.CommitLineHashes(ctx); err != nil {
		return err
	}
	processed, failed, skipped := u.snapshot()
	if err := u.registry.UpdateCheckpoint(ctx, u.uploadID, lastCheckpointLine, processed, failed, skipped); err != nil {
		return err
	}
	u.metrics.ObserveCheckpoint()
	return nil
}
