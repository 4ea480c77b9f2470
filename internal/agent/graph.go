package agent

import (
	"context"
	"errors"
	"fmt"
)

// Start and End are the sentinel node names of every graph.
const (
	Start = "__start__"
	End   = "__end__"
)

// DefaultMaxSteps bounds a single invocation when Compile is given no limit.
const DefaultMaxSteps = 10

var (
	ErrMaxSteps     = errors.New("graph exceeded the maximum number of steps")
	ErrInvalidGraph = errors.New("invalid graph")
)

// Update is what a node contributes to the state. Messages are appended and Usage is added.
type Update struct {
	Messages []Message
	Usage    Usage
}

// Node is one step of a graph.
type Node func(ctx context.Context, state State) (Update, error)

// Router picks the next node from the state produced by the node it follows.
type Router func(state State) string

// Graph is a set of nodes joined by static and conditional edges.
type Graph struct {
	nodes    map[string]Node
	edges    map[string]string
	branches map[string]Router
	entry    string
}

func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]Node),
		edges:    make(map[string]string),
		branches: make(map[string]Router),
	}
}

func (g *Graph) AddNode(name string, node Node) *Graph {
	g.nodes[name] = node
	return g
}

// AddEdge routes from one node to another unconditionally. An edge from [Start] sets the entry node.
func (g *Graph) AddEdge(from, to string) *Graph {
	if from == Start {
		g.entry = to
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from a node to whatever router returns.
func (g *Graph) AddConditionalEdges(from string, router Router) *Graph {
	g.branches[from] = router
	return g
}

// Compile checks the graph and binds it to a checkpointer. A maxSteps of zero or less uses [DefaultMaxSteps].
func (g *Graph) Compile(checkpointer Checkpointer, maxSteps int) (*Runnable, error) {
	if g.entry == "" {
		return nil, fmt.Errorf("%w: no entry node", ErrInvalidGraph)
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("%w: entry node %q is not defined", ErrInvalidGraph, g.entry)
	}

	for name := range g.nodes {
		_, static := g.edges[name]
		_, conditional := g.branches[name]
		if !static && !conditional {
			return nil, fmt.Errorf("%w: node %q has no outgoing edge", ErrInvalidGraph, name)
		}
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: edge from unknown node %q", ErrInvalidGraph, from)
		}
		if _, ok := g.nodes[to]; !ok && to != End {
			return nil, fmt.Errorf("%w: edge to unknown node %q", ErrInvalidGraph, to)
		}
	}

	if checkpointer == nil {
		checkpointer = NewMemorySaver()
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Runnable{graph: g, checkpointer: checkpointer, maxSteps: maxSteps}, nil
}

// Runnable executes a compiled graph against checkpointed threads.
type Runnable struct {
	graph        *Graph
	checkpointer Checkpointer
	maxSteps     int
}

// Input starts an invocation. Seed is prepended only when the thread has no checkpoint yet.
type Input struct {
	Messages []Message
	Seed     []Message
	Model    string
}

// Invoke loads the thread, appends the input and runs nodes until [End].
//
// The checkpoint is written only when the run reaches [End]; a failed run leaves the thread as it was.
func (r *Runnable) Invoke(ctx context.Context, threadID string, input Input) (State, error) {
	state, found, err := r.checkpointer.Load(ctx, threadID)
	if err != nil {
		return State{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !found {
		state = State{Messages: append([]Message(nil), input.Seed...)}
	}
	if input.Model != "" {
		state.Model = input.Model
	}
	state.Messages = append(state.Messages, input.Messages...)

	current := r.graph.entry
	for step := 0; current != End; step++ {
		if step >= r.maxSteps {
			return state, fmt.Errorf("%w (%d)", ErrMaxSteps, r.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		update, err := r.graph.nodes[current](ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}
		state.Messages = append(state.Messages, update.Messages...)
		state.Usage = state.Usage.Add(update.Usage)

		current = r.next(current, state)
		if _, ok := r.graph.nodes[current]; !ok && current != End {
			return state, fmt.Errorf("%w: unknown node %q", ErrInvalidGraph, current)
		}
	}

	if err := r.checkpointer.Save(ctx, threadID, state); err != nil {
		return state, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return state, nil
}

func (r *Runnable) next(from string, state State) string {
	if router, ok := r.graph.branches[from]; ok {
		return router(state)
	}
	return r.graph.edges[from]
}

// State returns the checkpointed state of a thread.
func (r *Runnable) State(ctx context.Context, threadID string) (State, bool, error) {
	return r.checkpointer.Load(ctx, threadID)
}
