// Package emit provides pluggable observability for graph runs, the
// conversation sequencer, and the delivery tracker.
package emit

// Event is a single observability event.
//
// Events are the library's log surface: graph runs emit one per step plus
// run start/end, the sequencer emits submission, supersession, and batch
// events, and the delivery tracker emits status correlation events.
type Event struct {
	// RunID identifies the run (or generation) that emitted this event.
	// Empty for events not tied to a run, such as sequencer submissions.
	RunID string

	// Step is the sequential step number within a run (1-indexed).
	// Zero for run-level and non-run events.
	Step int

	// NodeID identifies the node for step events; empty otherwise.
	NodeID string

	// Msg names the event, e.g. "node_complete", "run_superseded",
	// "delivery_status".
	Msg string

	// Meta carries additional structured data, e.g. "key", "status",
	// "batch_size", "error".
	Meta map[string]interface{}
}
