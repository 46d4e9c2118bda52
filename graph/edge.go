package graph

// Edge kinds registered against a source node.
//
// A node has exactly one outgoing edge entry: either a direct edge to a
// fixed target, or a conditional edge whose resolver picks the target from
// a key -> node table. Conditional targets may point backwards, so cycles
// are legal; termination comes from routing to End or from the run's
// context.
type edge[S any] struct {
	// target is the fixed destination for a direct edge. Empty for
	// conditional edges.
	target string

	// resolver is non-nil for conditional edges.
	resolver Resolver[S]

	// targets maps resolver keys to destination nodes.
	targets map[string]string
}

func (e edge[S]) conditional() bool { return e.resolver != nil }
