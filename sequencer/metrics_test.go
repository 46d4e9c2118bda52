package sequencer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsSubmissionResults(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	rec := &runRecorder{}
	s := New(rec.run, nil, Options{
		BucketCapacity: 1,
		RefillPeriod:   time.Hour,
		SweepInterval:  -1,
		Metrics:        metrics,
	})
	defer s.Close()

	ctx := context.Background()
	if err := s.Submit(ctx, "k", Payload{Text: "ok"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	_ = s.Submit(ctx, "k", Payload{Text: "over the limit"})
	_ = s.Submit(ctx, "", Payload{Text: "no key"})
	waitIdle(t, s, "k")

	if got := testutil.ToFloat64(metrics.submissions.WithLabelValues("accepted")); got != 1 {
		t.Errorf("accepted submissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.submissions.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("rate_limited submissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.submissions.WithLabelValues("invalid")); got != 1 {
		t.Errorf("invalid submissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.batches.WithLabelValues("success")); got != 1 {
		t.Errorf("successful batches = %v, want 1", got)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.recordSubmission("accepted")
	m.recordSupersession()
	m.recordBatch("success", 3)
	m.setActiveSessions(1)
	m.recordEvictions(2)
}
