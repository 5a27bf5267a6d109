// Package memory provides an in-memory registry.UploadRegistry used for
// tests and the synchronous degraded-mode processing path.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/registry"
)

// Registry is a goroutine-safe, in-memory UploadRegistry.
type Registry struct {
	mu sync.Mutex

	uploads      map[string]*model.FileUpload
	fileHashes   map[string]string // fileHash -> upload id (non-Duplicate only)
	lineHashes   map[string]struct{}
	stagedHashes []model.FileUploadLineHash
	transactions map[string]*model.Transaction // idempotencyKey -> txn
	order        []string                      // upload ids, insertion order
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		uploads:      make(map[string]*model.FileUpload),
		fileHashes:   make(map[string]string),
		lineHashes:   make(map[string]struct{}),
		transactions: make(map[string]*model.Transaction),
	}
}

func (r *Registry) IsFileUnique(_ context.Context, fileHash string) (bool, *model.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.fileHashes[fileHash]
	if !ok {
		return true, nil, nil
	}
	existing := r.uploads[id]
	return false, existing, nil
}

func (r *Registry) CreatePending(_ context.Context, fileName, fileHash string, fileSize int64, storagePath string) (*model.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := &model.FileUpload{
		ID:                 uuid.New().String(),
		FileName:           fileName,
		FileHash:           fileHash,
		FileSize:           fileSize,
		StoragePath:        storagePath,
		Status:             model.UploadStatusPending,
		LastCheckpointLine: -1, // no checkpoint yet; RecoveryLoop resumes from 0
		UploadedAt:         time.Now().UTC(),
	}
	r.uploads[u.ID] = u
	r.fileHashes[fileHash] = u.ID
	r.order = append(r.order, u.ID)
	clone := *u
	return &clone, nil
}

func (r *Registry) CreateFailed(_ context.Context, fileName, fileHash string, fileSize int64, errorMessage string) (*model.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := &model.FileUpload{
		ID:           uuid.New().String(),
		FileName:     fileName,
		FileHash:     fileHash,
		FileSize:     fileSize,
		Status:       model.UploadStatusFailed,
		ErrorMessage: errorMessage,
		UploadedAt:   time.Now().UTC(),
	}
	r.uploads[u.ID] = u
	r.order = append(r.order, u.ID)
	clone := *u
	return &clone, nil
}

func (r *Registry) SetTotalLineCount(_ context.Context, id string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return registry.ErrNotFound
	}
	u.TotalLineCount = n
	return nil
}

func (r *Registry) UpdateStatus(_ context.Context, id string, newStatus model.UploadStatus, retryCount *int, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return registry.ErrNotFound
	}
	u.Status = newStatus
	if retryCount != nil {
		u.RetryCount = *retryCount
	}
	if errorMessage != nil {
		u.ErrorMessage = *errorMessage
	}
	now := time.Now().UTC()
	if newStatus == model.UploadStatusProcessing && u.ProcessingStartedAt == nil {
		u.ProcessingStartedAt = &now
	}
	if newStatus.Terminal() {
		u.ProcessingCompletedAt = &now
	}
	return nil
}

func (r *Registry) UpdateCheckpoint(_ context.Context, id string, lastCheckpointLine, processed, failed, skipped int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return registry.ErrNotFound
	}
	if lastCheckpointLine < u.LastCheckpointLine {
		return nil // monotonic: refuse to move backward
	}
	u.LastCheckpointLine = lastCheckpointLine
	u.ProcessedLineCount = processed
	u.FailedLineCount = failed
	u.SkippedLineCount = skipped
	now := time.Now().UTC()
	u.LastCheckpointAt = &now
	return nil
}

func (r *Registry) RecordLineHash(_ context.Context, uploadID, lineHash, lineContent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stagedHashes = append(r.stagedHashes, model.FileUploadLineHash{
		FileUploadID: uploadID,
		LineHash:     lineHash,
		LineContent:  lineContent,
	})
	return nil
}

func (r *Registry) CommitLineHashes(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.stagedHashes {
		r.lineHashes[h.LineHash] = struct{}{}
	}
	r.stagedHashes = nil
	return nil
}

func (r *Registry) IsLineUnique(_ context.Context, lineHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, committed := r.lineHashes[lineHash]
	if committed {
		return false, nil
	}
	for _, h := range r.stagedHashes {
		if h.LineHash == lineHash {
			return false, nil
		}
	}
	return true, nil
}

func (r *Registry) InsertTransaction(_ context.Context, txn *model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transactions[txn.IdempotencyKey]; exists {
		return registry.ErrDuplicateIdempotencyKey
	}
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	txn.CreatedAt = time.Now().UTC()
	clone := *txn
	r.transactions[txn.IdempotencyKey] = &clone
	return nil
}

func (r *Registry) FinaliseResult(_ context.Context, id string, processed, failed, skipped int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return registry.ErrNotFound
	}

	status := registry.FinaliseDecision(u.TotalLineCount, processed, failed, skipped)
	u.ProcessedLineCount = processed
	u.FailedLineCount = failed
	u.SkippedLineCount = skipped
	sum := processed + failed + skipped
	if sum >= u.TotalLineCount {
		u.LastCheckpointLine = sum - 1
	}
	u.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		u.ProcessingCompletedAt = &now
	}
	return nil
}

func (r *Registry) FindStuck(_ context.Context, timeout time.Duration) ([]*model.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-timeout)
	var stuck []*model.FileUpload
	for _, id := range r.order {
		u := r.uploads[id]
		if u.Status.Terminal() {
			continue
		}
		reference := u.ProcessingStartedAt
		if u.LastCheckpointAt != nil {
			reference = u.LastCheckpointAt
		}
		if reference == nil || reference.After(cutoff) {
			continue
		}
		clone := *u
		stuck = append(stuck, &clone)
	}
	return stuck, nil
}

func (r *Registry) GetByID(_ context.Context, id string) (*model.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *Registry) List(_ context.Context, page, pageSize int, filter registry.ListFilter) ([]*model.FileUpload, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.FileUpload
	for i := len(r.order) - 1; i >= 0; i-- {
		u := r.uploads[r.order[i]]
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		clone := *u
		matched = append(matched, &clone)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})

	total := int64(len(matched))
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *Registry) DeleteAllTransactions(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = make(map[string]*model.FileUpload)
	r.fileHashes = make(map[string]string)
	r.lineHashes = make(map[string]struct{})
	r.stagedHashes = nil
	r.transactions = make(map[string]*model.Transaction)
	r.order = nil
	return nil
}

// Backdate shifts id's processing/checkpoint timestamps back by d, for
// tests that exercise FindStuck without sleeping in real time.
func (r *Registry) Backdate(id string, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return registry.ErrNotFound
	}
	if u.ProcessingStartedAt != nil {
		shifted := u.ProcessingStartedAt.Add(-d)
		u.ProcessingStartedAt = &shifted
	}
	if u.LastCheckpointAt != nil {
		shifted := u.LastCheckpointAt.Add(-d)
		u.LastCheckpointAt = &shifted
	}
	return nil
}

var _ registry.UploadRegistry = (*Registry)(nil)
