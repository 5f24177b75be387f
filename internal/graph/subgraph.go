package graph

import (
	"fmt"
	"sort"
)

// ValidateComponentShape checks that a candidate member set forms a valid
// component: every edge's endpoints are members, the members are connected,
// there is no cycle among the edges, and every leaf is a node.
//
// Parallel edges and self-loops count as cycles. An edge member always
// touches two node members once the dangling check passes, so leaves are
// necessarily nodes; a lone node is a valid component. An empty set is
// accepted as the shape of a component that has no members yet.
func ValidateComponentShape(nodes []*Node, edges []*Edge) error {
	const op = "component.validate"

	members := make(map[Locator]struct{}, len(nodes))
	for _, n := range nodes {
		members[n.Loc] = struct{}{}
	}

	sorted := append([]*Edge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Loc.Less(sorted[j].Loc) })

	for _, e := range sorted {
		if _, ok := members[e.Source]; !ok {
			return Invariant(op, e.Loc.String(), fmt.Sprintf("dangling edge: source %s is not a member", e.Source))
		}
		if _, ok := members[e.Target]; !ok {
			return Invariant(op, e.Loc.String(), fmt.Sprintf("dangling edge: target %s is not a member", e.Target))
		}
	}

	sets := newDisjointSet(len(nodes))
	for _, e := range sorted {
		if !sets.union(e.Source, e.Target) {
			return Invariant(op, e.Loc.String(), "edge closes a cycle")
		}
	}

	if len(nodes) > 1 {
		root := sets.find(nodes[0].Loc)
		for _, n := range nodes[1:] {
			if sets.find(n.Loc) != root {
				return Invariant(op, n.Loc.String(), "member is disconnected from the rest of the component")
			}
		}
	}
	return nil
}

// disjointSet is a union-find over node locators.
type disjointSet struct {
	parent map[Locator]Locator
	rank   map[Locator]int
}

func newDisjointSet(size int) *disjointSet {
	return &disjointSet{
		parent: make(map[Locator]Locator, size),
		rank:   make(map[Locator]int, size),
	}
}

func (d *disjointSet) find(l Locator) Locator {
	p, ok := d.parent[l]
	if !ok {
		d.parent[l] = l
		return l
	}
	if p == l {
		return l
	}
	root := d.find(p)
	d.parent[l] = root
	return root
}

// union joins the sets of a and b. It returns false if they were already joined.
func (d *disjointSet) union(a, b Locator) bool {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return false
	}
	switch {
	case d.rank[ra] < d.rank[rb]:
		d.parent[ra] = rb
	case d.rank[ra] > d.rank[rb]:
		d.parent[rb] = ra
	default:
		d.parent[rb] = ra
		d.rank[ra]++
	}
	return true
}
