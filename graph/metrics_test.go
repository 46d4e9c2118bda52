package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsRunsAndSteps(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	g := NewStateGraph(Options{Metrics: metrics})
	if err := g.AddNode("a", func(_ context.Context, _ State) (State, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if err := g.AddEdge(Start, "a"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if err := g.AddEdge("a", End); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	runnable, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := runnable.Invoke(context.Background(), "run-metrics", State{}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	got := testutil.ToFloat64(metrics.runs.WithLabelValues("success"))
	if got != 1 {
		t.Errorf("expected runs_total{outcome=success} = 1, got %v", got)
	}
}

func TestMetrics_ObserveStep(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.ObserveStep("nodeA", 25*time.Millisecond, "success")
	metrics.ObserveRun("error", 3, 100*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"convoflow_graph_step_latency_ms",
		"convoflow_graph_runs_total",
		"convoflow_graph_run_steps",
		"convoflow_graph_run_latency_ms",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered; got %s", name, strings.Join(keys(found), ", "))
		}
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
