// Package graph provides the cyclic state-machine execution engine for ConvoFlow-Go.
package graph

import (
	"context"
	"errors"
)

// ErrCancelled indicates that a run was aborted through its context before
// reaching the End node. Supersession of an in-flight run by newer input
// surfaces as this error; callers should treat it as an expected outcome
// rather than a failure.
var ErrCancelled = errors.New("run cancelled")

// ErrMaxStepsExceeded indicates that a run reached the configured step
// ceiling without hitting the End node. This only fires when
// Options.MaxSteps > 0; by default cycles are bounded solely by the
// caller's context.
var ErrMaxStepsExceeded = errors.New("run exceeded maximum steps limit")

// GraphError represents a graph construction or execution error.
//
// Construction errors (duplicate nodes, conflicting edges, missing start)
// are configuration bugs and always fatal. Execution errors carry the code
// of the condition that stopped the run.
type GraphError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string
}

// Error codes returned in GraphError.Code.
const (
	CodeDuplicateNode     = "DUPLICATE_NODE"
	CodeStartAlreadySet   = "START_ALREADY_SET"
	CodeEdgeAlreadySet    = "EDGE_ALREADY_SET"
	CodeNoStartNode       = "NO_START_NODE"
	CodeUnknownNode       = "UNKNOWN_NODE"
	CodeUnknownTransition = "UNKNOWN_TRANSITION"
)

func (e *GraphError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// IsCancelled reports whether err represents run cancellation, either the
// engine's own ErrCancelled tag or a bare context error propagated from a
// node that observed the signal itself.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
