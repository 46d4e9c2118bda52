package sequencer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/convoflow-go/delivery"
	"github.com/dshills/convoflow-go/graph"
	"github.com/dshills/convoflow-go/sequencer"
)

// TestPipeline_GraphRunnerWithDeliveryTracking drives the full pipeline: a
// burst of inbound events is sequenced per key, each coalesced batch runs
// through a compiled graph whose send node registers a delivery wait, and a
// simulated transport callback resolves it.
func TestPipeline_GraphRunnerWithDeliveryTracking(t *testing.T) {
	tracker := delivery.New(delivery.Options{
		SentTimeout:      200 * time.Millisecond,
		DeliveredTimeout: 500 * time.Millisecond,
	})

	var mu sync.Mutex
	var replies []string
	var confirmations []delivery.Confirmation

	// Three-node flow: classify the input, compose a reply, send it and
	// await transport confirmation.
	g := graph.NewStateGraph(graph.Options{MaxSteps: 10})
	g.AddNode("classify", func(ctx context.Context, state graph.State) (graph.State, error) {
		text, _ := state["input"].(string)
		kind := "chat"
		if strings.Contains(text, "urgent") {
			kind = "priority"
		}
		return graph.State{"kind": kind}, nil
	})
	g.AddNode("compose", func(ctx context.Context, state graph.State) (graph.State, error) {
		kind, _ := state["kind"].(string)
		text, _ := state["input"].(string)
		return graph.State{"reply": fmt.Sprintf("[%s] re: %s", kind, text)}, nil
	})
	g.AddNode("send", func(ctx context.Context, state graph.State) (graph.State, error) {
		msgID, _ := state["message_id"].(string)
		if err := tracker.RegisterWait(msgID); err != nil {
			return nil, err
		}

		// Simulated transport: the webhook fires after the send returns.
		go func() {
			tracker.Notify(msgID, delivery.StatusSent)
			tracker.Notify(msgID, delivery.StatusDelivered)
		}()

		conf := tracker.AwaitConfirmation(ctx, msgID)
		if ctx.Err() != nil {
			// Superseded mid-send; the replacement run re-sends the
			// coalesced input.
			return nil, ctx.Err()
		}
		mu.Lock()
		replies = append(replies, state["reply"].(string))
		confirmations = append(confirmations, conf)
		mu.Unlock()
		return nil, nil
	})
	g.AddEdge(graph.Start, "classify")
	g.AddEdge("classify", "compose")
	g.AddEdge("compose", "send")
	g.AddEdge("send", graph.End)

	flow, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	runner := func(ctx context.Context, runID string, payload sequencer.Payload) error {
		_, err := flow.Invoke(ctx, runID, graph.State{
			"input":      payload.Text,
			"message_id": runID,
		})
		return err
	}

	s := sequencer.New(runner, nil, sequencer.Options{
		BucketCapacity: 5,
		RefillPeriod:   time.Minute,
		SweepInterval:  -1,
	})
	defer s.Close()

	// Seven submissions against a bucket of five: exactly two are refused.
	accepted := make([]string, 0, 5)
	rejected := 0
	for i := 0; i < 7; i++ {
		text := fmt.Sprintf("event-%d", i)
		err := s.Submit(context.Background(), "+15550001", sequencer.Payload{Text: text})
		var rle *sequencer.RateLimitError
		switch {
		case err == nil:
			accepted = append(accepted, text)
		case errors.As(err, &rle):
			rejected++
		default:
			t.Fatalf("Submit %s: unexpected error %v", text, err)
		}
	}
	if len(accepted) != 5 || rejected != 2 {
		t.Fatalf("accepted=%d rejected=%d, want 5/2", len(accepted), rejected)
	}

	waitForReplies(t, &mu, &replies, accepted)

	mu.Lock()
	defer mu.Unlock()

	// Every accepted event is represented in some reply, none twice.
	all := strings.Join(replies, " | ")
	for _, text := range accepted {
		if got := strings.Count(all, text); got != 1 {
			t.Errorf("event %s appeared %d times in replies, want 1", text, got)
		}
	}

	for i, conf := range confirmations {
		if !conf.Sent || conf.SentStatus != delivery.StatusSent {
			t.Errorf("confirmation %d: sent stage not confirmed: %+v", i, conf)
		}
		if !conf.Delivered || conf.DeliveredStatus != delivery.StatusDelivered {
			t.Errorf("confirmation %d: delivered stage not confirmed: %+v", i, conf)
		}
	}
	// Waiters linger until the cleanup grace: one per completed run, plus
	// possibly one per superseded attempt.
	if got := tracker.PendingWaiters(); got < len(replies) {
		t.Errorf("PendingWaiters = %d, want at least %d", got, len(replies))
	}
}

// waitForReplies polls until every accepted event's text shows up in a
// recorded reply.
func waitForReplies(t *testing.T, mu *sync.Mutex, replies *[]string, accepted []string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		all := strings.Join(*replies, " | ")
		mu.Unlock()

		done := true
		for _, text := range accepted {
			if !strings.Contains(all, text) {
				done = false
				break
			}
		}
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("not all accepted events produced a reply")
}

// TestPipeline_SupersessionReachesTheGraph verifies that a superseding
// submission cancels the run inside the graph, and the replacement run sees
// the coalesced input.
func TestPipeline_SupersessionReachesTheGraph(t *testing.T) {
	firstEntered := make(chan struct{})
	var enterOnce sync.Once

	var mu sync.Mutex
	var finished []string

	g := graph.NewStateGraph(graph.Options{})
	g.AddNode("work", func(ctx context.Context, state graph.State) (graph.State, error) {
		first := false
		enterOnce.Do(func() {
			first = true
			close(firstEntered)
		})
		if first {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		mu.Lock()
		finished = append(finished, state["input"].(string))
		mu.Unlock()
		return nil, nil
	})
	g.AddEdge(graph.Start, "work")
	g.AddEdge("work", graph.End)

	flow, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	runner := func(ctx context.Context, runID string, payload sequencer.Payload) error {
		_, err := flow.Invoke(ctx, runID, graph.State{"input": payload.Text})
		return err
	}

	s := sequencer.New(runner, nil, sequencer.Options{SweepInterval: -1})
	defer s.Close()

	if err := s.Submit(context.Background(), "k", sequencer.Payload{Text: "draft"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-firstEntered
	if err := s.Submit(context.Background(), "k", sequencer.Payload{Text: "final"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(finished)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replacement run never completed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finished) != 1 {
		t.Fatalf("expected one completed run, got %v", finished)
	}
	if !strings.Contains(finished[0], "draft") || !strings.Contains(finished[0], "final") {
		t.Errorf("coalesced input missing content: %q", finished[0])
	}
}
