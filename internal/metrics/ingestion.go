package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IngestionMetrics observes the upload intake, line-processing, and
// recovery stages of the pipeline. A nil *IngestionMetrics is valid and
// every method is a no-op against it, mirroring the teacher's
// nil-receiver S3Metrics pattern so call sites never branch on
// IsEnabled() themselves.
type IngestionMetrics struct {
	uploadsTotal         *prometheus.CounterVec
	uploadBytes          prometheus.Histogram
	linesTotal           *prometheus.CounterVec
	lineProcessDuration  prometheus.Histogram
	checkpointsTotal     prometheus.Counter
	processingDuration   *prometheus.HistogramVec
	queueDepth           prometheus.Gauge
	recoveryResumedTotal *prometheus.CounterVec
}

// NewIngestionMetrics returns nil if metrics are disabled, so callers
// can pass the result straight through without an IsEnabled check.
func NewIngestionMetrics() *IngestionMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &IngestionMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnabflow_uploads_total",
				Help: "Total uploads accepted by intake, by outcome",
			},
			[]string{"outcome"}, // accepted, duplicate
		),
		uploadBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cnabflow_upload_bytes",
				Help:    "Distribution of accepted upload sizes in bytes",
				Buckets: []float64{1024, 8192, 65536, 262144, 524288, 1048576},
			},
		),
		linesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnabflow_lines_total",
				Help: "Total CNAB lines processed, by result",
			},
			[]string{"result"}, // processed, failed, skipped
		),
		lineProcessDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cnabflow_line_process_duration_milliseconds",
				Help:    "Duration of a single line's parse+persist, in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		checkpointsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cnabflow_checkpoints_total",
				Help: "Total checkpoint flushes written by the processing engine",
			},
		),
		processingDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cnabflow_upload_processing_duration_seconds",
				Help:    "Duration of a full upload's processing run, by outcome",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"outcome"}, // completed, partially_failed, failed, retry
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cnabflow_upload_queue_depth",
				Help: "Last observed pending-entries count of the upload queue stream",
			},
		),
		recoveryResumedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnabflow_recovery_resumed_total",
				Help: "Total uploads re-enqueued by the recovery loop, by trigger",
			},
			[]string{"trigger"}, // scan, manual
		),
	}
}

// ObserveUpload records an intake outcome and, for accepted uploads,
// the file size.
func (m *IngestionMetrics) ObserveUpload(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.uploadBytes.Observe(float64(bytes))
	}
}

// ObserveLine records a single line's processing result and duration.
func (m *IngestionMetrics) ObserveLine(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.linesTotal.WithLabelValues(result).Inc()
	m.lineProcessDuration.Observe(float64(duration.Milliseconds()))
}

// ObserveCheckpoint records one checkpoint flush.
func (m *IngestionMetrics) ObserveCheckpoint() {
	if m == nil {
		return
	}
	m.checkpointsTotal.Inc()
}

// ObserveProcessingRun records a full upload processing run's outcome
// and wall-clock duration.
func (m *IngestionMetrics) ObserveProcessingRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.processingDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetQueueDepth records the last observed queue depth.
func (m *IngestionMetrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ObserveRecoveryResume records a stuck upload being re-enqueued,
// either by the periodic scan or by an admin-triggered resume.
func (m *IngestionMetrics) ObserveRecoveryResume(trigger string) {
	if m == nil {
		return
	}
	m.recoveryResumedTotal.WithLabelValues(trigger).Inc()
}
