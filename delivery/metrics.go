package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for the delivery tracker.
//
// Metrics exposed (namespace "convoflow", subsystem "delivery"):
//
//   - notifications_total (counter): Applied statuses by status and
//     disposition (resolved into a waiter, or cached for a late one).
//   - confirmations_total (counter): Await outcomes by stage
//     (sent/delivered) and result (confirmed/timeout).
type Metrics struct {
	notifications *prometheus.CounterVec
	confirmations *prometheus.CounterVec
}

// NewMetrics creates and registers delivery metrics with the given
// registry. A nil registry falls back to prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Subsystem: "delivery",
			Name:      "notifications_total",
			Help:      "Delivery status notifications by status and disposition",
		}, []string{"status", "disposition"}), // disposition: resolved, cached

		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Subsystem: "delivery",
			Name:      "confirmations_total",
			Help:      "Confirmation wait outcomes by stage and result",
		}, []string{"stage", "result"}), // stage: sent, delivered; result: confirmed, timeout
	}
}

func (m *Metrics) recordNotification(status, disposition string) {
	if m != nil {
		m.notifications.WithLabelValues(status, disposition).Inc()
	}
}

func (m *Metrics) recordConfirmation(stage, result string) {
	if m != nil {
		m.confirmations.WithLabelValues(stage, result).Inc()
	}
}
