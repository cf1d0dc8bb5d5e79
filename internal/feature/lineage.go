package feature

import (
	"sort"
	"sync"
)

// LineageNode is one recorded artifact in the lineage graph.
type LineageNode struct {
	ID    string
	Kind  string // "realization" or "state"
	Attrs map[string]string
}

// LineageEdge is a directed relation between two recorded artifacts.
type LineageEdge struct {
	From  string
	To    string
	Label string
}

// LineageGraph records which realizations were materialized and which fitted
// state artifacts they produced. Safe for concurrent use.
type LineageGraph struct {
	mu    sync.Mutex
	nodes map[string]LineageNode
	edges []LineageEdge
}

// NewLineageGraph returns an empty graph.
func NewLineageGraph() *LineageGraph {
	return &LineageGraph{nodes: make(map[string]LineageNode)}
}

// Add records a node, overwriting attributes for a repeated id.
func (g *LineageGraph) Add(id, kind string, attrs map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	g.nodes[id] = LineageNode{ID: id, Kind: kind, Attrs: copied}
}

// Link records a directed edge.
func (g *LineageGraph) Link(from, to, label string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, LineageEdge{From: from, To: to, Label: label})
}

// Nodes returns all recorded nodes, ascending by id.
func (g *LineageGraph) Nodes() []LineageNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]LineageNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all recorded edges in insertion order.
func (g *LineageGraph) Edges() []LineageEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]LineageEdge(nil), g.edges...)
}
