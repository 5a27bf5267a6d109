package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func TestNewIngestionMetrics_NilWhenDisabled(t *testing.T) {
	reset()
	m := NewIngestionMetrics()
	require.Nil(t, m)

	// Nil-receiver methods must not panic.
	m.ObserveUpload("accepted", 1024)
	m.ObserveLine("processed", time.Millisecond)
	m.ObserveCheckpoint()
	m.ObserveProcessingRun("completed", time.Second)
	m.SetQueueDepth(3)
	m.ObserveRecoveryResume("scan")
}

func TestNewIngestionMetrics_RecordsObservations(t *testing.T) {
	reset()
	Init()
	t.Cleanup(reset)

	m := NewIngestionMetrics()
	require.NotNil(t, m)

	m.ObserveUpload("accepted", 2048)
	m.ObserveUpload("duplicate", 0)
	m.ObserveLine("processed", 5*time.Millisecond)
	m.ObserveLine("failed", 2*time.Millisecond)
	m.ObserveCheckpoint()
	m.ObserveProcessingRun("completed", 1500*time.Millisecond)
	m.SetQueueDepth(7)
	m.ObserveRecoveryResume("manual")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "cnabflow_uploads_total")
	require.Contains(t, body, "cnabflow_lines_total")
	require.Contains(t, body, "cnabflow_upload_queue_depth 7")
	require.Contains(t, body, "cnabflow_recovery_resumed_total")
}
