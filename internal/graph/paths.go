package graph

import "sort"

// PathExists reports whether dst is reachable from src over directed edges.
// A node always reaches itself.
func (g *Multigraph) PathExists(src, dst Locator) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[src]; !ok {
		return false
	}
	if _, ok := g.nodes[dst]; !ok {
		return false
	}
	if src == dst {
		return true
	}

	visited := map[Locator]bool{src: true}
	queue := []Locator{src}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[current] {
			if e.Target == dst {
				return true
			}
			if !visited[e.Target] {
				visited[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return false
}

// ShortestPath returns a path from src to dst with the fewest edges.
// The path is empty when dst is unreachable; it holds only src when src == dst.
// Ties are broken by edge locator order, so results are deterministic.
func (g *Multigraph) ShortestPath(src, dst Locator) Path {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.nodes[src]
	if !ok {
		return Path{}
	}
	if _, ok := g.nodes[dst]; !ok {
		return Path{}
	}
	if src == dst {
		return Path{Nodes: []*Node{start}}
	}

	parent := make(map[Locator]*Edge)
	visited := map[Locator]bool{src: true}
	queue := []Locator{src}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == dst {
			break
		}
		for _, e := range sortedEdges(g.outgoing[current]) {
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			parent[e.Target] = e
			queue = append(queue, e.Target)
		}
	}

	if !visited[dst] {
		return Path{}
	}

	var edges []*Edge
	for at := dst; at != src; at = parent[at].Source {
		edges = append(edges, parent[at])
	}
	path := Path{Nodes: []*Node{start}}
	for i := len(edges) - 1; i >= 0; i-- {
		path.Edges = append(path.Edges, edges[i])
		path.Nodes = append(path.Nodes, g.nodes[edges[i].Target])
	}
	return path
}

// AllPaths returns every simple directed path from src to dst.
//
// The search depth is bounded by the vertex count, and every candidate is
// checked for repeated nodes before it is returned. Parallel edges yield
// distinct paths.
func (g *Multigraph) AllPaths(src, dst Locator) []Path {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.nodes[src]
	if !ok {
		return nil
	}
	if _, ok := g.nodes[dst]; !ok {
		return nil
	}
	if src == dst {
		return []Path{{Nodes: []*Node{start}}}
	}

	maxDepth := len(g.nodes)
	var (
		paths   []Path
		nodes   = []*Node{start}
		edges   []*Edge
		onStack = map[Locator]bool{src: true}
	)

	var dfs func(current Locator, depth int)
	dfs = func(current Locator, depth int) {
		if current == dst {
			candidate := Path{
				Nodes: append([]*Node(nil), nodes...),
				Edges: append([]*Edge(nil), edges...),
			}
			if isSimple(candidate) {
				paths = append(paths, candidate)
			}
			return
		}
		if depth >= maxDepth {
			return
		}
		for _, e := range sortedEdges(g.outgoing[current]) {
			if onStack[e.Target] {
				continue
			}
			onStack[e.Target] = true
			nodes = append(nodes, g.nodes[e.Target])
			edges = append(edges, e)

			dfs(e.Target, depth+1)

			nodes = nodes[:len(nodes)-1]
			edges = edges[:len(edges)-1]
			onStack[e.Target] = false
		}
	}
	dfs(src, 0)
	return paths
}

// ConnectedComponents groups node versions into weakly connected sets,
// ignoring edge direction. Groups and their members are ordered by locator.
func (g *Multigraph) ConnectedComponents() [][]Locator {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[Locator]bool, len(g.nodes))
	var groups [][]Locator

	for _, n := range sortedNodes(g.nodes) {
		if visited[n.Loc] {
			continue
		}
		var group []Locator
		queue := []Locator{n.Loc}
		visited[n.Loc] = true
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			group = append(group, current)
			for _, e := range g.outgoing[current] {
				if !visited[e.Target] {
					visited[e.Target] = true
					queue = append(queue, e.Target)
				}
			}
			for _, e := range g.incoming[current] {
				if !visited[e.Source] {
					visited[e.Source] = true
					queue = append(queue, e.Source)
				}
			}
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Less(group[j]) })
		groups = append(groups, group)
	}
	return groups
}

func isSimple(p Path) bool {
	seen := make(map[Locator]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if seen[n.Loc] {
			return false
		}
		seen[n.Loc] = true
	}
	return true
}
