package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for graph execution.
//
// Metrics exposed (namespace "convoflow", subsystem "graph"):
//
//   - runs_total (counter): Completed runs by outcome
//     (success/cancelled/error/max_steps).
//   - run_steps (histogram): Steps executed per run.
//   - run_latency_ms (histogram): Total run duration by outcome.
//   - step_latency_ms (histogram): Node execution duration in milliseconds
//     by node and status.
//
// Register a Metrics against a registry once and share it across
// runnables; label cardinality is bounded by node names, not run IDs.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewMetrics(registry)
//	g := graph.NewStateGraph(graph.Options{Metrics: metrics})
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	runs        *prometheus.CounterVec
	runSteps    prometheus.Histogram
	runLatency  *prometheus.HistogramVec
	stepLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers graph execution metrics with the given
// registry. A nil registry falls back to prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Subsystem: "graph",
			Name:      "runs_total",
			Help:      "Completed graph runs by outcome",
		}, []string{"outcome"}), // outcome: success, cancelled, error, max_steps

		runSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "convoflow",
			Subsystem: "graph",
			Name:      "run_steps",
			Help:      "Number of steps executed per run",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		runLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "convoflow",
			Subsystem: "graph",
			Name:      "run_latency_ms",
			Help:      "Total run duration in milliseconds by outcome",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000},
		}, []string{"outcome"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "convoflow",
			Subsystem: "graph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}), // status: success, error, cancelled
	}
}

// ObserveStep records the execution duration of a single node.
func (m *Metrics) ObserveStep(nodeID string, latency time.Duration, status string) {
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// ObserveRun records a completed run: its outcome, total steps, and wall time.
func (m *Metrics) ObserveRun(outcome string, steps int, latency time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runSteps.Observe(float64(steps))
	m.runLatency.WithLabelValues(outcome).Observe(float64(latency.Milliseconds()))
}
