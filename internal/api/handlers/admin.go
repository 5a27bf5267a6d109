package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/recoveryloop"
	"github.com/cnabflow/ingestor/internal/registry"
)

// AdminHandler serves the admin endpoints from spec.md §6: paged upload
// listing, the stuck-upload report, and the resume operations.
type AdminHandler struct {
	registry registry.UploadRegistry
	recovery *recoveryloop.RecoveryLoop
}

// NewAdminHandler builds an AdminHandler around its collaborators.
func NewAdminHandler(reg registry.UploadRegistry, recovery *recoveryloop.RecoveryLoop) *AdminHandler {
	return &AdminHandler{registry: reg, recovery: recovery}
}

// uploadProjection is the wire shape from spec.md §6's "FileUpload
// projection shape".
type uploadProjection struct {
	ID                    string     `json:"id"`
	FileName              string     `json:"fileName"`
	Status                string     `json:"status"`
	FileSize              int64      `json:"fileSize"`
	TotalLineCount        int64      `json:"totalLineCount"`
	ProcessedLineCount    int64      `json:"processedLineCount"`
	FailedLineCount       int64      `json:"failedLineCount"`
	SkippedLineCount      int64      `json:"skippedLineCount"`
	LastCheckpointLine    int64      `json:"lastCheckpointLine"`
	LastCheckpointAt      *time.Time `json:"lastCheckpointAt,omitempty"`
	ProcessingStartedAt   *time.Time `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processingCompletedAt,omitempty"`
	UploadedAt            time.Time  `json:"uploadedAt"`
	RetryCount            int        `json:"retryCount"`
	ErrorMessage          string     `json:"errorMessage,omitempty"`
	StoragePath           string     `json:"storagePath"`
	ProgressPercentage    float64    `json:"progressPercentage"`
}

func toProjection(u *model.FileUpload) uploadProjection {
	return uploadProjection{
		ID:                    u.ID,
		FileName:              u.FileName,
		Status:                string(u.Status),
		FileSize:              u.FileSize,
		TotalLineCount:        u.TotalLineCount,
		ProcessedLineCount:    u.ProcessedLineCount,
		FailedLineCount:       u.FailedLineCount,
		SkippedLineCount:      u.SkippedLineCount,
		LastCheckpointLine:    u.LastCheckpointLine,
		LastCheckpointAt:      u.LastCheckpointAt,
		ProcessingStartedAt:   u.ProcessingStartedAt,
		ProcessingCompletedAt: u.ProcessingCompletedAt,
		UploadedAt:            u.UploadedAt,
		RetryCount:            u.RetryCount,
		ErrorMessage:          u.ErrorMessage,
		StoragePath:           u.StoragePath,
		ProgressPercentage:    u.ProgressPercentage(),
	}
}

type listResponse struct {
	Items    []uploadProjection `json:"items"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
}

// List handles GET /uploads?page&pageSize&status.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 20)

	filter := registry.ListFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.UploadStatus(status)
	}

	uploads, total, err := h.registry.List(r.Context(), page, pageSize, filter)
	if err != nil {
		WriteAPIError(w, err)
		return
	}

	items := make([]uploadProjection, 0, len(uploads))
	for _, u := range uploads {
		items = append(items, toProjection(u))
	}
	WriteJSON(w, http.StatusOK, listResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// Incomplete handles GET /uploads/incomplete?timeoutMinutes, the findStuck
// projection from spec.md §4.9.
func (h *AdminHandler) Incomplete(w http.ResponseWriter, r *http.Request) {
	timeout := time.Duration(queryInt(r, "timeoutMinutes", 30)) * time.Minute

	stuck, err := h.registry.FindStuck(r.Context(), timeout)
	if err != nil {
		WriteAPIError(w, err)
		return
	}

	items := make([]uploadProjection, 0, len(stuck))
	for _, u := range stuck {
		items = append(items, toProjection(u))
	}
	WriteJSON(w, http.StatusOK, items)
}

// Resume handles POST /uploads/{id}/resume, an idempotent single-upload
// resume.
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result := h.recovery.Resume(r.Context(), id)
	WriteJSON(w, http.StatusOK, result)
}

// ResumeAll handles POST /uploads/resume-all?timeoutMinutes, a batch resume
// returning a per-upload result.
func (h *AdminHandler) ResumeAll(w http.ResponseWriter, r *http.Request) {
	timeout := time.Duration(queryInt(r, "timeoutMinutes", 30)) * time.Minute
	results := h.recovery.ResumeAll(r.Context(), timeout)
	WriteJSON(w, http.StatusOK, results)
}

// DeleteTransactions handles DELETE /transactions, the admin-only cascade
// delete of every Transaction, FileUpload, and line hash row.
func (h *AdminHandler) DeleteTransactions(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteAllTransactions(r.Context()); err != nil {
		WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
