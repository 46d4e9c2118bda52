package graph

// Merge combines a node's partial delta into the accumulated run state.
//
// The engine applies the merge after every step; later values win for the
// same field. Callers with nested state that needs deep merging supply
// their own function instead of relying on shallow overwrite semantics.
//
// Type parameter S is the state type shared across the run.
type Merge[S any] func(prev, delta S) S

// State is the default open key/value state bag for graphs that do not
// define a typed state struct. Each run owns its State exclusively; it is
// never shared across runs.
type State map[string]any

// MergeState is the default Merge for State: field-wise overwrite, with
// delta values replacing prev values for the same key. The result is a new
// map; neither input is mutated.
func MergeState(prev, delta State) State {
	merged := make(State, len(prev)+len(delta))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}
