package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("second Register() should report duplicate collectors")
	}

	m.IncRateLimitRequests("/api/audit/run", "ip")
	m.IncRateLimitBlocked("/api/audit/run", "ip")

	for _, name := range []string{MetricRateLimitRequests, MetricRateLimitBlocked} {
		if gatherFamily(t, reg, name) == nil {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}

func TestMetrics_IncRateLimitRequests(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	m.IncRateLimitRequests("/api/audit/run", "ip")
	m.IncRateLimitRequests("/api/audit/run", "ip")
	m.IncRateLimitRequests("/api/cli/audit", "ip")

	mf := gatherFamily(t, reg, MetricRateLimitRequests)
	if mf == nil {
		t.Fatal("rate_limit_requests_total metric not found")
	}
	if len(mf.GetMetric()) != 2 {
		t.Errorf("expected 2 metric entries, got %d", len(mf.GetMetric()))
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.IncRateLimitRequests("/", "ip")
	m.IncRateLimitBlocked("/", "ip")
	m.IncRateLimitRedisErrors()
	m.ObserveHTTPRequest("GET", "/", "200", 0.1, 0, 0)
}

func TestMetrics_Collectors(t *testing.T) {
	if got := len(NewMetrics().Collectors()); got != 7 {
		t.Errorf("expected 7 collectors, got %d", got)
	}
}
