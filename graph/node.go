package graph

import "context"

// NodeFunc is a single step in the state machine.
//
// It receives the accumulated run state and returns a partial delta that is
// merged into the state before the next transition is resolved. Nodes may
// block on I/O; they are expected to observe ctx so that supersession can
// cancel long operations promptly, since the engine itself only checks the
// signal between steps.
//
// Errors returned by a node propagate out of Invoke unmodified.
//
// Type parameter S is the state type shared across the run.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Resolver selects the transition key for a conditional edge.
//
// It is evaluated against the merged state after the source node completes.
// The returned key is looked up in the edge's target table; a key with no
// mapping fails the run with UNKNOWN_TRANSITION rather than silently
// stalling. Resolvers should be pure functions of the state.
type Resolver[S any] func(state S) string
