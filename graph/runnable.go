package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/convoflow-go/graph/emit"
)

// Runnable is a compiled graph ready for execution.
//
// A Runnable is immutable and safe for concurrent Invoke calls; each run
// owns its state exclusively.
type Runnable[S any] struct {
	merge Merge[S]
	nodes map[string]NodeFunc[S]
	edges map[string]edge[S]
	start string
	opts  Options
}

// Invoke executes the graph from the start node until a transition routes
// to End, returning the final merged state.
//
// The cancellation signal is checked between steps; a triggered signal
// fails the run with ErrCancelled before the next node executes. Node
// errors propagate unmodified. A resolver key absent from its target table
// fails with UNKNOWN_TRANSITION, and a transition to an unregistered node
// fails with UNKNOWN_NODE.
//
// Cycles are permitted and, unless Options.MaxSteps is set, bounded only
// by ctx.
func (r *Runnable[S]) Invoke(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	state := initial
	current := r.start
	step := 0
	started := time.Now()

	r.emitEvent(runID, 0, "", "run_start", nil)

	for current != End {
		step++

		if r.opts.MaxSteps > 0 && step > r.opts.MaxSteps {
			r.finishRun(runID, step, started, "max_steps")
			return zero, fmt.Errorf("%w: run %s stopped after %d steps", ErrMaxStepsExceeded, runID, r.opts.MaxSteps)
		}

		// Cooperative cancellation: checked at step boundaries only.
		// Nodes doing long I/O observe ctx themselves.
		select {
		case <-ctx.Done():
			r.finishRun(runID, step, started, "cancelled")
			return zero, fmt.Errorf("%w before node %s: %w", ErrCancelled, current, context.Cause(ctx))
		default:
		}

		fn, exists := r.nodes[current]
		if !exists {
			r.finishRun(runID, step, started, "error")
			return zero, &GraphError{
				Message: "no node registered for: " + current,
				Code:    CodeUnknownNode,
			}
		}

		stepStart := time.Now()
		delta, err := r.runNode(ctx, current, state, fn)
		if err != nil {
			status := "error"
			if IsCancelled(err) {
				status = "cancelled"
			}
			r.observeStep(current, stepStart, status)
			r.finishRun(runID, step, started, status)
			return zero, err
		}

		state = r.merge(state, delta)
		r.observeStep(current, stepStart, "success")
		r.emitEvent(runID, step, current, "node_complete", nil)

		next, err := r.nextNode(current, state)
		if err != nil {
			r.finishRun(runID, step, started, "error")
			return zero, err
		}
		current = next
	}

	r.finishRun(runID, step, started, "success")
	return state, nil
}

// runNode executes one step, applying the per-step timeout when configured.
func (r *Runnable[S]) runNode(ctx context.Context, name string, state S, fn NodeFunc[S]) (S, error) {
	if r.opts.StepTimeout <= 0 {
		return fn(ctx, state)
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	delta, err := fn(stepCtx, state)
	if err == nil && stepCtx.Err() == context.DeadlineExceeded {
		var zero S
		return zero, fmt.Errorf("node %s exceeded step timeout of %v: %w", name, r.opts.StepTimeout, context.DeadlineExceeded)
	}
	return delta, err
}

// nextNode resolves the outgoing edge for current against the merged state.
func (r *Runnable[S]) nextNode(current string, state S) (string, error) {
	e, exists := r.edges[current]
	if !exists {
		return "", &GraphError{
			Message: "no outgoing edge from node: " + current,
			Code:    CodeUnknownTransition,
		}
	}

	if !e.conditional() {
		return e.target, nil
	}

	key := e.resolver(state)
	target, ok := e.targets[key]
	if !ok {
		return "", &GraphError{
			Message: "resolver key " + key + " has no target from node: " + current,
			Code:    CodeUnknownTransition,
		}
	}
	return target, nil
}

func (r *Runnable[S]) emitEvent(runID string, step int, nodeID, msg string, meta map[string]interface{}) {
	if r.opts.Emitter == nil {
		return
	}
	r.opts.Emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (r *Runnable[S]) observeStep(nodeID string, started time.Time, status string) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveStep(nodeID, time.Since(started), status)
	}
}

func (r *Runnable[S]) finishRun(runID string, steps int, started time.Time, outcome string) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveRun(outcome, steps, time.Since(started))
	}
	r.emitEvent(runID, steps, "", "run_"+outcome, nil)
}
