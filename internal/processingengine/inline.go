package processingengine

import (
	"context"
	"fmt"
	"time"

	"github.com/cnabflow/ingestor/internal/cnab/model"
)

// ProcessInline runs the full line-by-line lifecycle synchronously against
// already-buffered content, for the synchronous/test deployment profile
// (spec.md §4.7 step 11, §9's "Test" configuration path). It satisfies
// ingestionfront.LineProcessor.
func (e *Engine) ProcessInline(ctx context.Context, uploadID string, content []byte) (int64, error) {
	upload, err := e.registry.GetByID(ctx, uploadID)
	if err != nil {
		return 0, fmt.Errorf("load upload: %w", err)
	}

	lines := splitLines(content)
	if err := e.registry.SetTotalLineCount(ctx, uploadID, int64(len(lines))); err != nil {
		return 0, fmt.Errorf("set total line count: %w", err)
	}

	attempt := 0
	if err := e.registry.UpdateStatus(ctx, uploadID, model.UploadStatusProcessing, &attempt, nil); err != nil {
		return 0, fmt.Errorf("update status: %w", err)
	}

	if len(lines) == 0 {
		reason := "unprocessable_entity: file has zero lines"
		_ = e.registry.UpdateStatus(ctx, uploadID, model.UploadStatusFailed, &attempt, &reason)
		return 0, fmt.Errorf("%s", reason)
	}

	uow := newUnitOfWork(e.registry, upload, e.metrics)
	worker := newLineWorker(e.registry, e.cfg.MaxRetryPerLine, time.Duration(e.cfg.RetryDelayMs)*time.Millisecond, e.metrics)

	for i, line := range lines {
		outcome := worker.process(ctx, uploadID, line, i)
		uow.record(outcome)
	}

	if err := uow.flush(ctx, int64(len(lines)-1)); err != nil {
		return 0, fmt.Errorf("flush: %w", err)
	}

	processed, failed, skipped := uow.snapshot()
	if err := e.registry.FinaliseResult(ctx, uploadID, processed, failed, skipped); err != nil {
		return 0, fmt.Errorf("finalise result: %w", err)
	}

	return processed, nil
}
