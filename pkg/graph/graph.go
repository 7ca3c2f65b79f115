// Package graph implements the weighted symbol graph that underlies the
// Muninn associative engine.
//
// Every symbol the engine has ever seen becomes a node. Directed edges
// between nodes carry a weight in [0.01, 1.0] that encodes how strongly one
// symbol predicts the next. Nodes additionally carry a transient energy
// level (the wave state used during output generation) and a firing
// threshold.
//
// The graph is deliberately not safe for concurrent use. An episode runs
// single threaded and callers that share a graph across goroutines must
// serialize access themselves (the HTTP server does exactly that).
//
// Example usage:
//
//	g := graph.New()
//	g.EnsureNode('c')
//	g.Reinforce('c', 'a', 0.3)
//	w := g.EdgeWeight('c', 'a') // 0.31: default 0.01 plus delta
package graph

import (
	"errors"
	"sort"
)

// Symbol is a single unit of input or output. Symbols are runes so that the
// engine works on any UTF-8 text, not just ASCII bytes.
type Symbol rune

// Errors for graph operations.
var (
	ErrNodeNotFound = errors.New("node not found")
	ErrEdgeNotFound = errors.New("edge not found")
)

// Weight and energy bounds. A fresh edge starts at WeightMin and no amount
// of reinforcement may push it past WeightMax. Energies live in [0, 1].
const (
	WeightMin = 0.01
	WeightMax = 1.0

	EnergyMin = 0.0
	EnergyMax = 1.0

	// DefaultThreshold is the firing threshold assigned to new nodes.
	// A node whose energy sits below its threshold is never emitted.
	DefaultThreshold = 0.1
)

// Node is a single symbol with its wave state.
type Node struct {
	Symbol    Symbol
	Energy    float64
	Threshold float64
}

// Edge is a directed, weighted association between two symbols.
type Edge struct {
	From   Symbol
	To     Symbol
	Weight float64
}

// Graph holds nodes keyed by symbol and their outgoing edges.
type Graph struct {
	nodes map[Symbol]*Node
	out   map[Symbol]map[Symbol]*Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[Symbol]*Node),
		out:   make(map[Symbol]map[Symbol]*Edge),
	}
}

// EnsureNode returns the node for s, creating it with zero energy and the
// default threshold if it does not exist yet. Repeated calls are idempotent
// and never reset an existing node's state.
func (g *Graph) EnsureNode(s Symbol) *Node {
	if n, ok := g.nodes[s]; ok {
		return n
	}
	n := &Node{Symbol: s, Threshold: DefaultThreshold}
	g.nodes[s] = n
	return n
}

// Node returns the node for s, or ErrNodeNotFound.
func (g *Graph) Node(s Symbol) (*Node, error) {
	n, ok := g.nodes[s]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// HasNode reports whether s exists in the graph.
func (g *Graph) HasNode(s Symbol) bool {
	_, ok := g.nodes[s]
	return ok
}

// Edge returns the edge from -> to, or ErrEdgeNotFound.
func (g *Graph) Edge(from, to Symbol) (*Edge, error) {
	e, ok := g.out[from][to]
	if !ok {
		return nil, ErrEdgeNotFound
	}
	return e, nil
}

// GetOrCreateEdge returns the edge from -> to, creating both endpoints and
// the edge at WeightMin as needed.
func (g *Graph) GetOrCreateEdge(from, to Symbol) *Edge {
	g.EnsureNode(from)
	g.EnsureNode(to)
	m, ok := g.out[from]
	if !ok {
		m = make(map[Symbol]*Edge)
		g.out[from] = m
	}
	if e, ok := m[to]; ok {
		return e
	}
	e := &Edge{From: from, To: to, Weight: WeightMin}
	m[to] = e
	return e
}

// Reinforce strengthens the edge from -> to by delta, creating it at
// WeightMin first if absent. The resulting weight is clamped to
// [WeightMin, WeightMax] and returned. Negative deltas weaken the edge but
// can never drive it below WeightMin; an edge, once formed, is only
// forgotten by being rewritten through persistence.
func (g *Graph) Reinforce(from, to Symbol, delta float64) float64 {
	e := g.GetOrCreateEdge(from, to)
	e.Weight = ClampWeight(e.Weight + delta)
	return e.Weight
}

// EdgeWeight returns the weight of from -> to, or 0 when the edge does not
// exist. Absent edges are indistinguishable from "never associated", which
// is exactly what callers probing for cross-talk want.
func (g *Graph) EdgeWeight(from, to Symbol) float64 {
	e, ok := g.out[from][to]
	if !ok {
		return 0
	}
	return e.Weight
}

// SetEnergy stores a clamped energy on s, creating the node if needed.
func (g *Graph) SetEnergy(s Symbol, energy float64) {
	g.EnsureNode(s).Energy = ClampEnergy(energy)
}

// Energy returns the current energy of s, or 0 for unknown symbols.
func (g *Graph) Energy(s Symbol) float64 {
	n, ok := g.nodes[s]
	if !ok {
		return 0
	}
	return n.Energy
}

// ResetEnergies zeroes every node's energy. Called when a new input is
// seeded so that consecutive episodes do not bleed wave state into each
// other.
func (g *Graph) ResetEnergies() {
	for _, n := range g.nodes {
		n.Energy = 0
	}
}

// Decay multiplies every node's energy by factor. Factors outside (0, 1)
// are still applied but clamped back into the energy range.
func (g *Graph) Decay(factor float64) {
	for _, n := range g.nodes {
		n.Energy = ClampEnergy(n.Energy * factor)
	}
}

// Outgoing returns the edges leaving from, sorted by destination symbol so
// that iteration order is stable across runs.
func (g *Graph) Outgoing(from Symbol) []*Edge {
	m := g.out[from]
	if len(m) == 0 {
		return nil
	}
	edges := make([]*Edge, 0, len(m))
	for _, e := range m {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	return edges
}

// Nodes returns all nodes sorted by symbol.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Symbol < nodes[j].Symbol })
	return nodes
}

// Edges returns all edges sorted by (from, to).
func (g *Graph) Edges() []*Edge {
	var edges []*Edge
	for _, m := range g.out {
		for _, e := range m {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, m := range g.out {
		total += len(m)
	}
	return total
}

// ClampWeight bounds w to [WeightMin, WeightMax].
func ClampWeight(w float64) float64 {
	if w < WeightMin {
		return WeightMin
	}
	if w > WeightMax {
		return WeightMax
	}
	return w
}

// ClampEnergy bounds e to [EnergyMin, EnergyMax].
func ClampEnergy(e float64) float64 {
	if e < EnergyMin {
		return EnergyMin
	}
	if e > EnergyMax {
		return EnergyMax
	}
	return e
}
