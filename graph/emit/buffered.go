package emit

import "sync"

// BufferedEmitter captures events in memory, keyed by run ID, and supports
// filtered queries over the captured history.
//
// Intended for tests, debugging, and post-run analysis. Everything is held
// in memory; long-lived processes should Clear runs they are done with.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run workloads ...
//	events := emitter.History("run-001")
//	errors := emitter.HistoryWithFilter("run-001", emit.HistoryFilter{Msg: "run_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events in emission order
}

// HistoryFilter selects events from a run's history. All fields are
// optional and combined with AND.
type HistoryFilter struct {
	// NodeID filters by node (empty = any).
	NodeID string

	// Msg filters by event name (empty = any).
	Msg string

	// MinStep and MaxStep bound the step range (nil = unbounded).
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of all events captured for runID, in emission
// order. Returns nil if the run is unknown.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events, exists := b.events[runID]
	if !exists {
		return nil
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the events for runID matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[runID] {
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		if filter.MinStep != nil && ev.Step < *filter.MinStep {
			continue
		}
		if filter.MaxStep != nil && ev.Step > *filter.MaxStep {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear drops the captured history for runID.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}

// ClearAll drops every captured event.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
