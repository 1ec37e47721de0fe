package core

import "github.com/VictoriaMetrics/metrics"

// Metrics groups the process-wide counters and gauges rpkid exposes on
// the diagnostics HTTP server (internal/diag). Kept as a distinct set
// rather than the global default set so tests can create disposable
// Engines without colliding on metric names.
type Metrics struct {
	set *metrics.Set

	ValidationRuns     *metrics.Counter
	ValidationFailures *metrics.Counter
	ValidationDuration *metrics.Histogram

	VRPCount     *metrics.Gauge
	CurrentSerial *metrics.Gauge

	RTRSessions     *metrics.Counter
	RTRSessionsOpen *metrics.Gauge
	RTRErrors       *metrics.Counter

	FetchAttempts *metrics.Counter
	FetchFailures *metrics.Counter
}

// NewMetrics allocates a fresh metrics.Set and registers rpkid's
// counters/gauges on it.
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	m := &Metrics{set: set}

	m.ValidationRuns = set.NewCounter("rpkid_validation_runs_total")
	m.ValidationFailures = set.NewCounter("rpkid_validation_failures_total")
	m.ValidationDuration = set.NewHistogram("rpkid_validation_duration_seconds")

	m.VRPCount = set.NewGauge("rpkid_vrp_count", nil)
	m.CurrentSerial = set.NewGauge("rpkid_rtr_current_serial", nil)

	m.RTRSessions = set.NewCounter("rpkid_rtr_sessions_total")
	m.RTRSessionsOpen = set.NewGauge("rpkid_rtr_sessions_open", nil)
	m.RTRErrors = set.NewCounter("rpkid_rtr_errors_total")

	m.FetchAttempts = set.NewCounter("rpkid_fetch_attempts_total")
	m.FetchFailures = set.NewCounter("rpkid_fetch_failures_total")

	return m
}

// Set returns the underlying VictoriaMetrics set, for WritePrometheus.
func (m *Metrics) Set() *metrics.Set { return m.set }
