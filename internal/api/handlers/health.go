package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cnabflow/ingestor/internal/registry"
)

// HealthHandler serves the unauthenticated liveness/readiness probes.
type HealthHandler struct {
	registry registry.UploadRegistry
}

// NewHealthHandler builds a HealthHandler around reg.
func NewHealthHandler(reg registry.UploadRegistry) *HealthHandler {
	return &HealthHandler{registry: reg}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Liveness handles GET /health: is the process running at all.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Readiness handles GET /health/ready: can the registry actually be
// reached, by running its cheapest read.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, _, err := h.registry.List(ctx, 1, 1, registry.ListFilter{}); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
