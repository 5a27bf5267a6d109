package handlers

import (
	"fmt"
	"net/http"

	"github.com/cnabflow/ingestor/internal/ingestionfront"
)

// UploadHandler serves the upload endpoint from spec.md §6.
type UploadHandler struct {
	front *ingestionfront.Front
}

// NewUploadHandler builds an UploadHandler around front.
func NewUploadHandler(front *ingestionfront.Front) *UploadHandler {
	return &UploadHandler{front: front}
}

type uploadResponse struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
	Count   int64  `json:"count,omitempty"`
}

type duplicateResponse struct {
	Message          string `json:"message"`
	ExistingUploadID string `json:"existingUploadId"`
}

// Upload handles POST /upload: a multipart form with a single "file" part.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.front.Accept(r.Context(), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		WriteAPIError(w, err)
		return
	}

	switch outcome.Kind {
	case ingestionfront.OutcomeDuplicate:
		WriteJSON(w, http.StatusConflict, duplicateResponse{
			Message:          "File already uploaded",
			ExistingUploadID: outcome.ExistingUploadID,
		})
	case ingestionfront.OutcomeSuccess:
		WriteJSON(w, http.StatusOK, uploadResponse{
			Message: fmt.Sprintf("File processed: %d lines", outcome.Count),
			Count:   outcome.Count,
		})
	default: // OutcomeAccepted
		WriteJSON(w, http.StatusAccepted, uploadResponse{
			Message: "File accepted and queued for background processing",
			Status:  "processing",
		})
	}
}
