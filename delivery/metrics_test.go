package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsDispositions(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	tr := New(Options{
		SentTimeout:      50 * time.Millisecond,
		DeliveredTimeout: 50 * time.Millisecond,
		Metrics:          metrics,
	})

	// Resolved against a registered waiter.
	if err := tr.RegisterWait("msg-1"); err != nil {
		t.Fatalf("RegisterWait failed: %v", err)
	}
	tr.Notify("msg-1", StatusSent)
	tr.Notify("msg-1", StatusDelivered)
	tr.AwaitConfirmation(context.Background(), "msg-1")

	// Cached for a waiter that never registered.
	tr.Notify("early", StatusSent)

	if got := testutil.ToFloat64(metrics.notifications.WithLabelValues("sent", "resolved")); got != 1 {
		t.Errorf("resolved sent notifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notifications.WithLabelValues("delivered", "resolved")); got != 1 {
		t.Errorf("resolved delivered notifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notifications.WithLabelValues("sent", "cached")); got != 1 {
		t.Errorf("cached sent notifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.confirmations.WithLabelValues("sent", "confirmed")); got != 1 {
		t.Errorf("confirmed sent stage = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.confirmations.WithLabelValues("delivered", "confirmed")); got != 1 {
		t.Errorf("confirmed delivered stage = %v, want 1", got)
	}

	// Timeout path.
	if err := tr.RegisterWait("silent"); err != nil {
		t.Fatalf("RegisterWait failed: %v", err)
	}
	tr.AwaitConfirmation(context.Background(), "silent")
	if got := testutil.ToFloat64(metrics.confirmations.WithLabelValues("sent", "timeout")); got != 1 {
		t.Errorf("timed-out sent stage = %v, want 1", got)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.recordNotification("sent", "resolved")
	m.recordConfirmation("delivered", "timeout")
}
