// Package metrics exposes Prometheus collectors for cycle orchestration.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal          *prometheus.CounterVec
	CoderIterationsTotal *prometheus.CounterVec
	PlanRetriesTotal     *prometheus.CounterVec
	AgentSessionsTotal   *prometheus.CounterVec
	AuditDecisionsTotal  *prometheus.CounterVec
	ChangesTotal         *prometheus.CounterVec
	TestRunsTotal        *prometheus.CounterVec
	NodeDuration         *prometheus.HistogramVec
}

// Default returns the process-wide metrics, registering them once.
//
// Metrics:
//   - accdd_cycles_total{outcome} - cycles finished, by completed or failed
//   - accdd_coder_iterations_total{cycle} - coder sessions dispatched
//   - accdd_plan_retries_total{cycle} - outer re-plan attempts
//   - accdd_agent_sessions_total{kind} - new, resumed, succeeded, failed, timeout
//   - accdd_audit_decisions_total{auditor,decision} - committee outcomes
//   - accdd_changes_total{op,result} - file operations applied or skipped
//   - accdd_test_runs_total{result} - sandbox test and UAT runs
//   - accdd_node_duration_seconds{node} - graph node latency
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = New(prometheus.NewRegistry())
	})
	return globalMetrics
}

// New registers a fresh set of collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accdd_cycles_total",
				Help: "Total number of development cycles finished",
			},
			[]string{"outcome"},
		),

		CoderIterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accdd_coder_iterations_total",
				Help: "Total number of coder sessions dispatched",
			},
			[]string{"cycle"},
		),

		PlanRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accdd_plan_retries_total",
				Help: "Total number of cycle re-plan attempts",
			},
			[]string{"cycle"},
		),

		AgentSessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accdd_agent_sessions_total",
				Help: "Total number of external agent session events",
			},
			[]string{"kind"},
		),

		AuditDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accdd_audit_decisions_total",
				Help: "Total number of auditor committee decisions",
			},
			[]string{"auditor", "decision"},
		),

		ChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accdd_changes_total",
				Help: "Total number of file operations processed",
			},
			[]string{"op", "result"},
		),

		TestRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accdd_test_runs_total",
				Help: "Total number of sandbox test runs",
			},
			[]string{"result"},
		),

		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accdd_node_duration_seconds",
				Help:    "Duration of cycle graph node execution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43m
			},
			[]string{"node"},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WriteTextfile writes the registry to path for the node_exporter textfile
// collector, creating parent directories as needed.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(outcome string) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordIteration records a coder session dispatch for cycleID.
func (m *Metrics) RecordIteration(cycleID string) {
	m.CoderIterationsTotal.WithLabelValues(cycleID).Inc()
}

// RecordPlanRetry records an outer re-plan attempt for cycleID.
func (m *Metrics) RecordPlanRetry(cycleID string) {
	m.PlanRetriesTotal.WithLabelValues(cycleID).Inc()
}

// RecordSession records an agent session event such as "new" or "resumed".
func (m *Metrics) RecordSession(kind string) {
	m.AgentSessionsTotal.WithLabelValues(kind).Inc()
}

// RecordAudit records one auditor decision.
func (m *Metrics) RecordAudit(auditor, decision string) {
	m.AuditDecisionsTotal.WithLabelValues(auditor, decision).Inc()
}

// RecordChange records a file operation result.
func (m *Metrics) RecordChange(op, result string) {
	m.ChangesTotal.WithLabelValues(op, result).Inc()
}

// RecordTestRun records a sandbox run result ("pass" or "fail").
func (m *Metrics) RecordTestRun(result string) {
	m.TestRunsTotal.WithLabelValues(result).Inc()
}

// ObserveNode records graph node latency.
func (m *Metrics) ObserveNode(node string, seconds float64) {
	m.NodeDuration.WithLabelValues(node).Observe(seconds)
}
