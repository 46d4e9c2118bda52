package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for the sequencer.
//
// Metrics exposed (namespace "convoflow", subsystem "sequencer"):
//
//   - submissions_total (counter): Inbound events by result
//     (accepted/rate_limited/invalid).
//   - supersessions_total (counter): In-flight runs cancelled because
//     newer input arrived.
//   - batches_total (counter): Drained batches by outcome
//     (success/superseded/error).
//   - batch_size (histogram): Entries coalesced into each batch.
//   - active_sessions (gauge): Live per-key sessions held in process.
//   - evicted_sessions_total (counter): Sessions removed by the TTL sweep.
type Metrics struct {
	submissions   *prometheus.CounterVec
	supersessions prometheus.Counter
	batches       *prometheus.CounterVec
	batchSize     prometheus.Histogram
	activeKeys    prometheus.Gauge
	evicted       prometheus.Counter
}

// NewMetrics creates and registers sequencer metrics with the given
// registry. A nil registry falls back to prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Subsystem: "sequencer",
			Name:      "submissions_total",
			Help:      "Inbound events by acceptance result",
		}, []string{"result"}), // result: accepted, rate_limited, invalid

		supersessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "convoflow",
			Subsystem: "sequencer",
			Name:      "supersessions_total",
			Help:      "In-flight runs cancelled because newer input arrived for the same key",
		}),

		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Subsystem: "sequencer",
			Name:      "batches_total",
			Help:      "Drained batches by outcome",
		}, []string{"outcome"}), // outcome: success, superseded, error

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "convoflow",
			Subsystem: "sequencer",
			Name:      "batch_size",
			Help:      "Entries coalesced into each runner invocation",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),

		activeKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "convoflow",
			Subsystem: "sequencer",
			Name:      "active_sessions",
			Help:      "Live per-key sessions currently held in process",
		}),

		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "convoflow",
			Subsystem: "sequencer",
			Name:      "evicted_sessions_total",
			Help:      "Sessions removed by the TTL sweep",
		}),
	}
}

func (m *Metrics) recordSubmission(result string) {
	if m != nil {
		m.submissions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) recordSupersession() {
	if m != nil {
		m.supersessions.Inc()
	}
}

func (m *Metrics) recordBatch(outcome string, size int) {
	if m != nil {
		m.batches.WithLabelValues(outcome).Inc()
		m.batchSize.Observe(float64(size))
	}
}

func (m *Metrics) setActiveSessions(n int) {
	if m != nil {
		m.activeKeys.Set(float64(n))
	}
}

func (m *Metrics) recordEvictions(n int) {
	if m != nil {
		m.evicted.Add(float64(n))
	}
}
