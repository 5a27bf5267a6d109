package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cnabflow/ingestor/internal/api/handlers"
	"github.com/cnabflow/ingestor/internal/ingestionfront"
	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/recoveryloop"
	"github.com/cnabflow/ingestor/internal/registry"
)

// NewRouter builds the chi router exposing the upload endpoint and the
// admin endpoints from spec.md §6.
//
// Routes:
//   - GET  /health        - liveness probe
//   - GET  /health/ready  - readiness probe
//   - POST /upload        - CNAB file intake (spec.md §4.7)
//   - GET    /api/v1/uploads                    - paged upload list
//   - GET    /api/v1/uploads/incomplete         - stuck-upload report
//   - POST   /api/v1/uploads/{id}/resume        - single resume
//   - POST   /api/v1/uploads/resume-all         - batch resume
//   - DELETE /api/v1/transactions               - admin cascade delete
func NewRouter(front *ingestionfront.Front, reg registry.UploadRegistry, recovery *recoveryloop.RecoveryLoop) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(reg)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	uploadHandler := handlers.NewUploadHandler(front)
	r.Post("/upload", uploadHandler.Upload)

	adminHandler := handlers.NewAdminHandler(reg, recovery)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", adminHandler.List)
			r.Get("/incomplete", adminHandler.Incomplete)
			r.Post("/resume-all", adminHandler.ResumeAll)
			r.Post("/{id}/resume", adminHandler.Resume)
		})
		r.Delete("/transactions", adminHandler.DeleteTransactions)
	})

	return r
}

// requestLogger logs each request using the internal structured logger:
// start at DEBUG, completion at INFO with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.DebugCtx(r.Context(), "API request started",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.InfoCtx(r.Context(), "API request completed",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "bytes", ww.BytesWritten(), "duration", time.Since(start).String())
	})
}
