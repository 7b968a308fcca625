// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for analysis runs.
type PipelineMetrics struct {
	oracleCalls     *prometheus.CounterVec
	sourcesRejected *prometheus.CounterVec
	sessionsTotal   *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline collectors on reg, or on the
// default registerer when reg is nil.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatlog",
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Classifier oracle results by unit and outcome",
		}, []string{"unit", "outcome"}),
		sourcesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatlog",
			Subsystem: "ingest",
			Name:      "sources_rejected_total",
			Help:      "Sources skipped during analysis",
		}, []string{"reason"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatlog",
			Subsystem: "analysis",
			Name:      "sessions_total",
			Help:      "Sessions placed in a result document by origin",
		}, []string{"origin"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatlog",
			Subsystem: "analysis",
			Name:      "run_duration_seconds",
			Help:      "Duration of complete analysis runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.oracleCalls, m.sourcesRejected, m.sessionsTotal, m.runDuration)
	return m
}

// ObserveOracle counts one classifier outcome for unit.
func (m *PipelineMetrics) ObserveOracle(unit, outcome string) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(unit, outcome).Inc()
}

// ObserveRejected counts a source rejected for reason.
func (m *PipelineMetrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.sourcesRejected.WithLabelValues(reason).Inc()
}

// ObserveSession counts a session; preAnalyzed selects the origin label.
func (m *PipelineMetrics) ObserveSession(preAnalyzed bool) {
	if m == nil {
		return
	}
	origin := "analyzed"
	if preAnalyzed {
		origin = "pre_analyzed"
	}
	m.sessionsTotal.WithLabelValues(origin).Inc()
}

// ObserveRun records the duration of one analysis run.
func (m *PipelineMetrics) ObserveRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(status).Observe(seconds)
}
