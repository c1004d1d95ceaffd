package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricAuditsTotal          = "audits_total"
	MetricEngineDuration       = "audit_engine_duration_seconds"
	MetricComplianceScore      = "audit_compliance_score"
	MetricArchiveFailuresTotal = "audit_archive_failures_total"
)

// Metrics contains Prometheus collectors for audit runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	auditsTotal     *prometheus.CounterVec
	engineDuration  prometheus.Histogram
	complianceScore prometheus.Histogram
	archiveFailures prometheus.Counter
}

// NewMetrics creates unregistered collectors; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		auditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditsTotal,
				Help: "Total number of audits reaching a terminal state by status",
			},
			[]string{"status"},
		),
		engineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricEngineDuration,
				Help:    "Duration of analysis engine calls in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 180},
			},
		),
		complianceScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricComplianceScore,
				Help:    "Overall compliance score of completed audits",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
		),
		archiveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricArchiveFailuresTotal,
				Help: "Total number of raw engine responses that could not be archived",
			},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.auditsTotal, m.engineDuration, m.complianceScore, m.archiveFailures} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeTerminal(status Status) {
	if m == nil {
		return
	}
	m.auditsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeEngine(seconds float64) {
	if m == nil {
		return
	}
	m.engineDuration.Observe(seconds)
}

func (m *Metrics) observeScore(score float64) {
	if m == nil {
		return
	}
	m.complianceScore.Observe(score)
}

func (m *Metrics) incArchiveFailure() {
	if m == nil {
		return
	}
	m.archiveFailures.Inc()
}
