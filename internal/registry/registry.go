// Package registry defines the UploadRegistry contract: the system of
// record for FileUpload state, per-line idempotency hashes, and persisted
// Transactions.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/cnabflow/ingestor/internal/cnab/model"
)

// ErrNotFound is returned when a FileUpload id does not exist.
var ErrNotFound = errors.New("registry: file upload not found")

// ErrDuplicateIdempotencyKey is returned by line insertion when another
// worker already committed a Transaction with the same idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("registry: duplicate idempotency key")

// ListFilter narrows UploadRegistry.List by status; the zero value matches
// every status.
type ListFilter struct {
	Status model.UploadStatus
}

// UploadRegistry is the system of record for the ingestion pipeline.
type UploadRegistry interface {
	// IsFileUnique reports whether fileHash has not yet been seen. When it
	// has, the existing non-Duplicate row is also returned.
	IsFileUnique(ctx context.Context, fileHash string) (unique bool, existing *model.FileUpload, err error)

	// CreatePending inserts a new FileUpload row in Pending status.
	CreatePending(ctx context.Context, fileName, fileHash string, fileSize int64, storagePath string) (*model.FileUpload, error)

	// CreateFailed inserts a FileUpload row already in Failed status, used
	// when the pipeline refuses an upload after persisting enough metadata
	// to audit the rejection.
	CreateFailed(ctx context.Context, fileName, fileHash string, fileSize int64, errorMessage string) (*model.FileUpload, error)

	// SetTotalLineCount records the upload's total line count, computed by
	// the engine's count-then-process scan.
	SetTotalLineCount(ctx context.Context, id string, n int64) error

	// UpdateStatus transitions id to newStatus, optionally recording a
	// retry attempt count and an error message (e.g. for a terminal
	// Failed transition).
	UpdateStatus(ctx context.Context, id string, newStatus model.UploadStatus, retryCount *int, errorMessage *string) error

	// UpdateCheckpoint persists processing progress. It is monotonic in
	// lastCheckpointLine: a call with a lower lastCheckpointLine than the
	// stored one leaves the row, counters included, unchanged. The counters
	// are not compared on their own: a call whose lastCheckpointLine is equal
	// or higher stores the given counters even if they are lower.
	UpdateCheckpoint(ctx context.Context, id string, lastCheckpointLine, processed, failed, skipped int64) error

	// RecordLineHash stages a per-line idempotency fingerprint for later
	// batched commit via CommitLineHashes.
	RecordLineHash(ctx context.Context, uploadID, lineHash, lineContent string) error

	// CommitLineHashes transactionally flushes every hash staged via
	// RecordLineHash since the last commit.
	CommitLineHashes(ctx context.Context) error

	// IsLineUnique reports whether lineHash has not yet been committed or
	// staged by any upload.
	IsLineUnique(ctx context.Context, lineHash string) (bool, error)

	// InsertTransaction persists txn. It returns ErrDuplicateIdempotencyKey
	// if another row already holds the same IdempotencyKey.
	InsertTransaction(ctx context.Context, txn *model.Transaction) error

	// FinaliseResult resolves the status of id given the final per-category
	// line counts, per the state machine in §4.4; the upload stays
	// Processing while the counts sum to less than its total line count.
	FinaliseResult(ctx context.Context, id string, processed, failed, skipped int64) error

	// FindStuck returns uploads in a non-terminal state whose last
	// checkpoint (or, absent one, their processingStartedAt) is older than
	// timeout.
	FindStuck(ctx context.Context, timeout time.Duration) ([]*model.FileUpload, error)

	// GetByID loads a single FileUpload.
	GetByID(ctx context.Context, id string) (*model.FileUpload, error)

	// List returns a page of FileUpload rows, most recent first.
	List(ctx context.Context, page, pageSize int, filter ListFilter) ([]*model.FileUpload, int64, error)

	// DeleteAllTransactions cascade-deletes every Transaction, FileUpload,
	// and line hash row. Used only by the admin "DELETE transactions"
	// operation.
	DeleteAllTransactions(ctx context.Context) error
}

// FinaliseDecision mirrors the pure decision table from spec.md §4.4 so it
// can be unit tested without a database.
func FinaliseDecision(total, processed, failed, skipped int64) model.UploadStatus {
	sum := processed + failed + skipped
	if sum < total {
		return model.UploadStatusProcessing
	}
	if failed == 0 {
		return model.UploadStatusSuccess
	}
	return model.UploadStatusPartiallyCompleted
}
