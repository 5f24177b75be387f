package graph

import (
	"sort"
	"sync"
	"time"
)

// Multigraph is an in-memory directed multigraph over node and edge versions.
//
// It indexes every version it has been given, active and expired alike, so
// that point-in-time views can be cut from it. It is an index, not a source
// of truth: the version histories held by a storage backend are.
//
// Adding a version whose locator is already present replaces it; this is how
// an expired copy supersedes the active record of the same locator.
type Multigraph struct {
	mu    sync.RWMutex
	nodes map[Locator]*Node
	edges map[Locator]*Edge

	// Secondary indexes, kept in sync by the add helpers.
	nodeVersions map[NanoID]map[int]*Node
	edgeVersions map[NanoID]map[int]*Edge
	nodesByType  map[string]map[Locator]*Node
	edgesByType  map[string]map[Locator]*Edge
	outgoing     map[Locator]map[Locator]*Edge
	incoming     map[Locator]map[Locator]*Edge
}

// NewMultigraph creates an empty multigraph.
func NewMultigraph() *Multigraph {
	return &Multigraph{
		nodes:        make(map[Locator]*Node),
		edges:        make(map[Locator]*Edge),
		nodeVersions: make(map[NanoID]map[int]*Node),
		edgeVersions: make(map[NanoID]map[int]*Edge),
		nodesByType:  make(map[string]map[Locator]*Node),
		edgesByType:  make(map[string]map[Locator]*Edge),
		outgoing:     make(map[Locator]map[Locator]*Edge),
		incoming:     make(map[Locator]map[Locator]*Edge),
	}
}

// NodeCount returns the number of node versions.
func (g *Multigraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edge versions.
func (g *Multigraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// CountNodesByType returns the number of node versions with the given type.
func (g *Multigraph) CountNodesByType(typeName string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodesByType[typeName])
}

// CountEdgesByType returns the number of edge versions with the given type.
func (g *Multigraph) CountEdgesByType(typeName string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edgesByType[typeName])
}

// AddNode inserts a node version, replacing any version with the same locator.
func (g *Multigraph) AddNode(node *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeUnlocked(node)
}

// AddEdge inserts an edge version, replacing any version with the same locator.
// Both endpoint versions must already be present.
func (g *Multigraph) AddEdge(edge *Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeUnlocked(edge)
}

// HasNode reports whether the node version is present.
func (g *Multigraph) HasNode(loc Locator) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[loc]
	return ok
}

// HasEdge reports whether the edge version is present.
func (g *Multigraph) HasEdge(loc Locator) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[loc]
	return ok
}

// Node returns the node version, or nil.
func (g *Multigraph) Node(loc Locator) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[loc]
}

// Edge returns the edge version, or nil.
func (g *Multigraph) Edge(loc Locator) *Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[loc]
}

// Nodes returns every node version ordered by locator.
func (g *Multigraph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedNodes(g.nodes)
}

// Edges returns every edge version ordered by locator.
func (g *Multigraph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.edges)
}

// NodeVersions returns the known versions of a node, version ascending.
func (g *Multigraph) NodeVersions(id NanoID) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	versions := make([]*Node, 0, len(g.nodeVersions[id]))
	for _, n := range g.nodeVersions[id] {
		versions = append(versions, n)
	}
	SortVersions(versions)
	return versions
}

// EdgeVersions returns the known versions of an edge, version ascending.
func (g *Multigraph) EdgeVersions(id NanoID) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	versions := make([]*Edge, 0, len(g.edgeVersions[id]))
	for _, e := range g.edgeVersions[id] {
		versions = append(versions, e)
	}
	SortVersions(versions)
	return versions
}

// ActiveNode returns the active version of a node id.
func (g *Multigraph) ActiveNode(id NanoID) (*Node, bool, error) {
	return FindActive(g.NodeVersions(id))
}

// Outgoing returns the edges leaving the node version, ordered by locator.
func (g *Multigraph) Outgoing(loc Locator) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.outgoing[loc])
}

// Incoming returns the edges entering the node version, ordered by locator.
func (g *Multigraph) Incoming(loc Locator) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.incoming[loc])
}

// EdgesOf returns every edge touching the node version. Self-loops appear once.
func (g *Multigraph) EdgesOf(loc Locator) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	all := make(map[Locator]*Edge, len(g.outgoing[loc])+len(g.incoming[loc]))
	for l, e := range g.outgoing[loc] {
		all[l] = e
	}
	for l, e := range g.incoming[loc] {
		all[l] = e
	}
	return sortedEdges(all)
}

// Source returns the node version an edge leaves, or nil.
func (g *Multigraph) Source(edge Locator) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[edge]
	if !ok {
		return nil
	}
	return g.nodes[e.Source]
}

// Target returns the node version an edge enters, or nil.
func (g *Multigraph) Target(edge Locator) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[edge]
	if !ok {
		return nil
	}
	return g.nodes[e.Target]
}

// Active returns a new multigraph holding only active versions.
func (g *Multigraph) Active() *Multigraph {
	return g.filter(
		func(n *Node) bool { return n.IsActive() },
		func(e *Edge) bool { return e.IsActive() },
	)
}

// At returns a new multigraph holding the versions alive at instant t.
func (g *Multigraph) At(t time.Time) *Multigraph {
	return g.filter(
		func(n *Node) bool { return AliveAt(n, t) },
		func(e *Edge) bool { return AliveAt(e, t) },
	)
}

// Stats returns a summary of graph size.
func (g *Multigraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	activeNodes, activeEdges := 0, 0
	for _, n := range g.nodes {
		if n.IsActive() {
			activeNodes++
		}
	}
	for _, e := range g.edges {
		if e.IsActive() {
			activeEdges++
		}
	}
	return map[string]int{
		"nodes":        len(g.nodes),
		"edges":        len(g.edges),
		"active_nodes": activeNodes,
		"active_edges": activeEdges,
	}
}

func (g *Multigraph) filter(keepNode func(*Node) bool, keepEdge func(*Edge) bool) *Multigraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sub := NewMultigraph()
	for _, n := range g.nodes {
		if keepNode(n) {
			sub.addNodeUnlocked(n)
		}
	}
	for _, e := range g.edges {
		if !keepEdge(e) {
			continue
		}
		// Edges whose endpoints were filtered out are dropped with them.
		_ = sub.addEdgeUnlocked(e)
	}
	return sub
}

// addNodeUnlocked must be called with the write lock held.
func (g *Multigraph) addNodeUnlocked(node *Node) {
	if old, ok := g.nodes[node.Loc]; ok && old.Type.Name != node.Type.Name {
		delete(g.nodesByType[old.Type.Name], node.Loc)
	}
	g.nodes[node.Loc] = node

	if g.nodeVersions[node.Loc.ID] == nil {
		g.nodeVersions[node.Loc.ID] = make(map[int]*Node)
	}
	g.nodeVersions[node.Loc.ID][node.Loc.Version] = node

	if g.nodesByType[node.Type.Name] == nil {
		g.nodesByType[node.Type.Name] = make(map[Locator]*Node)
	}
	g.nodesByType[node.Type.Name][node.Loc] = node
}

// addEdgeUnlocked must be called with the write lock held.
func (g *Multigraph) addEdgeUnlocked(edge *Edge) error {
	if _, ok := g.nodes[edge.Source]; !ok {
		return Validation("graph.add_edge", edge.Loc.String(), "source "+edge.Source.String()+" not in graph")
	}
	if _, ok := g.nodes[edge.Target]; !ok {
		return Validation("graph.add_edge", edge.Loc.String(), "target "+edge.Target.String()+" not in graph")
	}

	if old, ok := g.edges[edge.Loc]; ok {
		delete(g.edgesByType[old.Type.Name], edge.Loc)
		delete(g.outgoing[old.Source], edge.Loc)
		delete(g.incoming[old.Target], edge.Loc)
	}

	g.edges[edge.Loc] = edge

	if g.edgeVersions[edge.Loc.ID] == nil {
		g.edgeVersions[edge.Loc.ID] = make(map[int]*Edge)
	}
	g.edgeVersions[edge.Loc.ID][edge.Loc.Version] = edge

	if g.edgesByType[edge.Type.Name] == nil {
		g.edgesByType[edge.Type.Name] = make(map[Locator]*Edge)
	}
	g.edgesByType[edge.Type.Name][edge.Loc] = edge

	if g.outgoing[edge.Source] == nil {
		g.outgoing[edge.Source] = make(map[Locator]*Edge)
	}
	g.outgoing[edge.Source][edge.Loc] = edge

	if g.incoming[edge.Target] == nil {
		g.incoming[edge.Target] = make(map[Locator]*Edge)
	}
	g.incoming[edge.Target][edge.Loc] = edge
	return nil
}

func sortedNodes(m map[Locator]*Node) []*Node {
	out := make([]*Node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Loc.Less(out[j].Loc) })
	return out
}

func sortedEdges(m map[Locator]*Edge) []*Edge {
	out := make([]*Edge, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Loc.Less(out[j].Loc) })
	return out
}
