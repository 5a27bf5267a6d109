// Package metrics wires Prometheus counters and histograms for the
// ingestion pipeline (spec.md §4.7-§4.9) and serves them over HTTP.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
)

// Init enables metrics collection and creates the backing registry.
// Safe to call more than once; subsequent calls are no-ops.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}
	enabled = true
	registry = prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// IsEnabled reports whether Init has been called. Constructors use this
// to return a nil metrics struct when metrics are disabled, so call
// sites pay zero overhead for an unused feature.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the process-wide registry. Panics if metrics are
// not enabled; callers must check IsEnabled (or rely on the
// New*Metrics constructors, which do).
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		panic("metrics: GetRegistry called before Init")
	}
	return registry
}

// reset is a test-only helper restoring package state between tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	enabled = false
	registry = nil
}
