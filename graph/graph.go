package graph

import (
	"sync"
	"time"

	"github.com/dshills/convoflow-go/graph/emit"
)

// Sentinel node names used when wiring edges.
//
// An edge from Start sets the graph's entry point; an edge to End marks a
// terminal transition. Neither sentinel has a NodeFunc.
const (
	Start = "__start__"
	End   = "__end__"
)

// Graph builds the topology for a cyclic state machine: named step
// functions plus the transition table between them.
//
// Build the graph with AddNode/AddEdge/AddConditionalEdges, then call
// Compile to obtain a Runnable. A Graph is safe for concurrent
// registration, though typical usage wires it once at startup.
//
// Type parameter S is the state type shared across a run.
//
// Example:
//
//	g := graph.NewStateGraph(graph.Options{})
//	g.AddNode("classify", classify)
//	g.AddNode("reply", reply)
//	g.AddEdge(graph.Start, "classify")
//	g.AddConditionalEdges("classify", route, map[string]string{
//	    "answer": "reply",
//	    "again":  "classify",
//	})
//	g.AddEdge("reply", graph.End)
//
//	runnable, err := g.Compile()
//	final, err := runnable.Invoke(ctx, "run-001", graph.State{"text": "hi"})
type Graph[S any] struct {
	mu sync.RWMutex

	// merge combines each node's partial delta into the running state.
	merge Merge[S]

	// nodes maps node names to step functions.
	nodes map[string]NodeFunc[S]

	// edges maps a source node to its single outgoing edge entry.
	edges map[string]edge[S]

	// start is the entry node, set exactly once via AddEdge(Start, ...).
	start string

	opts Options
}

// Options configures graph execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits a run to prevent infinite conditional cycles.
	// If 0, no ceiling is enforced and cycles are bounded only by the
	// run's context.
	MaxSteps int

	// StepTimeout bounds each individual node execution. If 0, nodes run
	// without a per-step deadline.
	StepTimeout time.Duration

	// Emitter receives observability events for each step. Optional.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics for runs and steps. Optional.
	Metrics *Metrics
}

// New creates a Graph with the given merge function and options.
//
// The merge function is required; Compile fails without one. For untyped
// map state use NewStateGraph instead.
func New[S any](merge Merge[S], opts Options) *Graph[S] {
	return &Graph[S]{
		merge: merge,
		nodes: make(map[string]NodeFunc[S]),
		edges: make(map[string]edge[S]),
		opts:  opts,
	}
}

// NewStateGraph creates a Graph over the open key/value State bag with the
// default field-wise overwrite merge.
func NewStateGraph(opts Options) *Graph[State] {
	return New(MergeState, opts)
}

// AddNode registers a named step function.
//
// Names must be unique and may not collide with the Start/End sentinels.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) error {
	if name == "" || name == Start || name == End {
		return &GraphError{Message: "invalid node name: " + name}
	}
	if fn == nil {
		return &GraphError{Message: "node function cannot be nil: " + name}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[name]; exists {
		return &GraphError{
			Message: "duplicate node: " + name,
			Code:    CodeDuplicateNode,
		}
	}

	g.nodes[name] = fn
	return nil
}

// AddEdge registers a direct transition from source to target.
//
// If source is the Start sentinel, this sets the graph's entry point;
// setting it twice fails with START_ALREADY_SET. Any other source may
// carry exactly one outgoing edge entry; a second registration fails with
// EDGE_ALREADY_SET.
func (g *Graph[S]) AddEdge(source, target string) error {
	if source == "" || target == "" {
		return &GraphError{Message: "edge endpoints cannot be empty"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if source == Start {
		if g.start != "" {
			return &GraphError{
				Message: "start node already set: " + g.start,
				Code:    CodeStartAlreadySet,
			}
		}
		g.start = target
		return nil
	}

	if _, exists := g.edges[source]; exists {
		return &GraphError{
			Message: "edge already set for node: " + source,
			Code:    CodeEdgeAlreadySet,
		}
	}

	g.edges[source] = edge[S]{target: target}
	return nil
}

// AddConditionalEdges registers a resolver-driven transition from source.
//
// After source completes, resolver(state) produces a key looked up in
// targets; a key with no mapping fails the run with UNKNOWN_TRANSITION.
// The same one-edge-per-source rule as AddEdge applies. Targets may route
// backwards to form cycles.
func (g *Graph[S]) AddConditionalEdges(source string, resolver Resolver[S], targets map[string]string) error {
	if source == "" || source == Start {
		return &GraphError{Message: "invalid conditional edge source: " + source}
	}
	if resolver == nil {
		return &GraphError{Message: "resolver cannot be nil for node: " + source}
	}
	if len(targets) == 0 {
		return &GraphError{Message: "conditional edge needs at least one target: " + source}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.edges[source]; exists {
		return &GraphError{
			Message: "edge already set for node: " + source,
			Code:    CodeEdgeAlreadySet,
		}
	}

	table := make(map[string]string, len(targets))
	for k, v := range targets {
		table[k] = v
	}

	g.edges[source] = edge[S]{resolver: resolver, targets: table}
	return nil
}

// Compile validates the topology and returns a Runnable.
//
// It fails with NO_START_NODE if no AddEdge(Start, ...) call was made, and
// fails outright if no merge function was supplied. The Runnable holds a
// snapshot of the topology; later mutation of the Graph does not affect
// compiled runnables.
func (g *Graph[S]) Compile() (*Runnable[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.merge == nil {
		return nil, &GraphError{Message: "merge function is required"}
	}
	if g.start == "" {
		return nil, &GraphError{
			Message: "start node not set (add an edge from graph.Start)",
			Code:    CodeNoStartNode,
		}
	}

	nodes := make(map[string]NodeFunc[S], len(g.nodes))
	for name, fn := range g.nodes {
		nodes[name] = fn
	}
	edges := make(map[string]edge[S], len(g.edges))
	for name, e := range g.edges {
		edges[name] = e
	}

	return &Runnable[S]{
		merge: g.merge,
		nodes: nodes,
		edges: edges,
		start: g.start,
		opts:  g.opts,
	}, nil
}
