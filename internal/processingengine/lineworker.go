package processingengine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/cnabflow/ingestor/internal/cnab/hasher"
	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/cnab/parser"
	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/metrics"
	"github.com/cnabflow/ingestor/internal/registry"
	"github.com/cnabflow/ingestor/internal/telemetry"
)

type lineOutcome int

const (
	outcomeProcessed lineOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (o lineOutcome) String() string {
	switch o {
	case outcomeProcessed:
		return "processed"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// lineWorker implements the per-line unit of work from spec.md §4.8.1.
type lineWorker struct {
	registry        registry.UploadRegistry
	maxRetryPerLine int
	retryDelay      time.Duration
	metrics         *metrics.IngestionMetrics
}

func newLineWorker(reg registry.UploadRegistry, maxRetryPerLine int, retryDelay time.Duration, m *metrics.IngestionMetrics) *lineWorker {
	return &lineWorker{registry: reg, maxRetryPerLine: maxRetryPerLine, retryDelay: retryDelay, metrics: m}
}

func (w *lineWorker) process(ctx context.Context, uploadID string, line []byte, index int) (outcome lineOutcome) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanEngineLine,
		trace.WithAttributes(telemetry.UploadID(uploadID), telemetry.LineIndex(index)))
	defer span.End()

	start := time.Now()
	defer func() { w.metrics.ObserveLine(outcome.String(), time.Since(start)) }()

	// Step 1.
	lineHash := hasher.HashLine(line)

	// Step 2.
	unique, err := w.registry.IsLineUnique(ctx, lineHash)
	if err != nil {
		logger.WarnCtx(ctx, "is-line-unique check failed, treating line as failed", "upload_id", uploadID, "line_index", index, "error", err)
		return outcomeFailed
	}
	if !unique {
		return outcomeSkipped
	}

	// Step 3.
	record, parseErr := parser.Parse(line, index)
	if parseErr != nil {
		logger.InfoCtx(ctx, "line failed to parse", "upload_id", uploadID, "line_index", index, "error", parseErr)
		return outcomeFailed
	}

	txn := &model.Transaction{
		FileUploadID:    &uploadID,
		IdempotencyKey:  lineHash,
		Type:            record.Type,
		TransactionDate: record.TransactionDate,
		TransactionTime: record.TransactionTime,
		AmountCents:     record.AmountCents,
		CPF:             record.CPF,
		Card:            record.Card,
		StoreOwner:      record.StoreOwner,
		StoreName:       record.StoreName,
		BankCode:        record.BankCode,
	}

	// Steps 4-6: insert + stage hash, retried on transient errors.
	operation := func() error {
		if err := w.registry.InsertTransaction(ctx, txn); err != nil {
			if errors.Is(err, registry.ErrDuplicateIdempotencyKey) {
				return backoff.Permanent(err)
			}
			return err
		}
		return w.registry.RecordLineHash(ctx, uploadID, lineHash, string(line))
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(w.retryDelay), uint64(maxRetries(w.maxRetryPerLine)))
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, registry.ErrDuplicateIdempotencyKey) {
			// Step 7 tie-break: another worker won the race.
			return outcomeSkipped
		}
		logger.WarnCtx(ctx, "line insert failed after retries", "upload_id", uploadID, "line_index", index, "error", err)
		return outcomeFailed
	}

	return outcomeProcessed
}

func maxRetries(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}
