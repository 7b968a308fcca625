package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveOracle("turn", "accepted")
	m.ObserveOracle("turn", "accepted")
	m.ObserveOracle("session", "failed")
	m.ObserveRejected("unrecognized_format")
	m.ObserveSession(true)
	m.ObserveSession(false)
	m.ObserveRun("ok", 1.5)

	if got := testutil.ToFloat64(m.oracleCalls.WithLabelValues("turn", "accepted")); got != 2 {
		t.Fatalf("turn accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.oracleCalls.WithLabelValues("session", "failed")); got != 1 {
		t.Fatalf("session failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsTotal.WithLabelValues("pre_analyzed")); got != 1 {
		t.Fatalf("pre_analyzed sessions = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.runDuration); got != 1 {
		t.Fatalf("run duration series = %d, want 1", got)
	}
}

func TestPipelineMetricsDefaultRegistry(t *testing.T) {
	m := NewPipelineMetrics(nil)
	m.ObserveRejected("invalid_json")
	prometheus.DefaultRegisterer.Unregister(m.oracleCalls)
	prometheus.DefaultRegisterer.Unregister(m.sourcesRejected)
	prometheus.DefaultRegisterer.Unregister(m.sessionsTotal)
	prometheus.DefaultRegisterer.Unregister(m.runDuration)
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveOracle("turn", "accepted")
	m.ObserveRejected("invalid_json")
	m.ObserveSession(false)
	m.ObserveRun("ok", 0.1)
}
