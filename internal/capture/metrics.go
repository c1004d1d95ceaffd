package capture

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricCapturesTotal           = "snapshot_captures_total"
	MetricWorkspaceCleanupFailure = "workspace_cleanup_failures_total"
	MetricFilesSkipped            = "snapshot_files_skipped_total"
)

// Metrics contains Prometheus collectors for snapshot capture.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	capturesTotal   *prometheus.CounterVec
	cleanupFailures prometheus.Counter
	filesSkipped    prometheus.Counter
}

// NewMetrics creates unregistered collectors; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		capturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCapturesTotal,
				Help: "Total number of snapshot captures by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		cleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricWorkspaceCleanupFailure,
				Help: "Total number of clone workspaces that could not be fully removed",
			},
		),
		filesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricFilesSkipped,
				Help: "Total number of repository files skipped because they could not be read",
			},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.capturesTotal, m.cleanupFailures, m.filesSkipped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCleanupFailure counts a workspace left behind. It is handed to
// workspace.WithFailureHook.
func (m *Metrics) IncCleanupFailure() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

func (m *Metrics) observeCapture(source string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.capturesTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) incSkipped() {
	if m == nil {
		return
	}
	m.filesSkipped.Inc()
}
