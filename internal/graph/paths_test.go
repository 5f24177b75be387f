package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGraph creates one node per name and one edge per "src>dst" pair.
func buildGraph(t *testing.T, names []string, links ...[2]string) (*Multigraph, map[string]*Node) {
	t.Helper()
	g := NewMultigraph()
	nodes := make(map[string]*Node, len(names))
	for _, name := range names {
		n := testNode(name, 1, "n")
		nodes[name] = n
		g.AddNode(n)
	}
	for i, l := range links {
		e := testEdge(l[0]+l[1]+string(rune('0'+i)), nodes[l[0]], nodes[l[1]])
		require.NoError(t, g.AddEdge(e))
	}
	return g, nodes
}

func TestMultigraph_ShortestPath(t *testing.T) {
	t.Parallel()

	t.Run("Chain", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A", "B", "C"}, [2]string{"A", "B"}, [2]string{"B", "C"})

		p := g.ShortestPath(n["A"].Loc, n["C"].Loc)

		assert.Equal(t, []NanoID{"A", "B", "C"}, p.IDs())
		assert.Equal(t, 2, p.Len())
		assert.True(t, g.PathExists(n["A"].Loc, n["C"].Loc))
	})

	t.Run("PrefersFewerEdges", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A", "B", "C"},
			[2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"A", "C"})

		p := g.ShortestPath(n["A"].Loc, n["C"].Loc)

		assert.Equal(t, []NanoID{"A", "C"}, p.IDs())
	})

	t.Run("UnreachableIsEmpty", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A", "B", "C"}, [2]string{"A", "B"}, [2]string{"B", "C"})

		p := g.ShortestPath(n["C"].Loc, n["A"].Loc)

		assert.True(t, p.IsEmpty())
		assert.False(t, g.PathExists(n["C"].Loc, n["A"].Loc))
	})

	t.Run("SameNode", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A"})

		p := g.ShortestPath(n["A"].Loc, n["A"].Loc)

		assert.Equal(t, []NanoID{"A"}, p.IDs())
		assert.Equal(t, 0, p.Len())
	})

	t.Run("UnknownNode", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A"})

		assert.True(t, g.ShortestPath(n["A"].Loc, FirstVersion("Z")).IsEmpty())
		assert.False(t, g.PathExists(FirstVersion("Z"), n["A"].Loc))
	})
}

func TestMultigraph_AllPaths(t *testing.T) {
	t.Parallel()

	t.Run("TwoRoutes", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A", "B", "C"},
			[2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"A", "C"})

		paths := g.AllPaths(n["A"].Loc, n["C"].Loc)

		require.Len(t, paths, 2)
		var routes [][]NanoID
		for _, p := range paths {
			routes = append(routes, p.IDs())
		}
		assert.ElementsMatch(t, [][]NanoID{{"A", "B", "C"}, {"A", "C"}}, routes)
	})

	t.Run("CycleElsewhereNeverRevisits", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A", "B", "C", "D"},
			[2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"A", "C"},
			[2]string{"B", "D"}, [2]string{"D", "B"}, [2]string{"C", "C"})

		paths := g.AllPaths(n["A"].Loc, n["C"].Loc)

		require.Len(t, paths, 2)
		for _, p := range paths {
			seen := map[NanoID]bool{}
			for _, id := range p.IDs() {
				assert.False(t, seen[id], "path revisits %s", id)
				seen[id] = true
			}
		}
	})

	t.Run("ParallelEdgesAreDistinctPaths", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A", "B"}, [2]string{"A", "B"}, [2]string{"A", "B"})

		assert.Len(t, g.AllPaths(n["A"].Loc, n["B"].Loc), 2)
	})

	t.Run("Unreachable", func(t *testing.T) {
		t.Parallel()
		g, n := buildGraph(t, []string{"A", "B"}, [2]string{"B", "A"})

		assert.Empty(t, g.AllPaths(n["A"].Loc, n["B"].Loc))
	})
}

func TestMultigraph_ConnectedComponents(t *testing.T) {
	t.Parallel()

	g, _ := buildGraph(t, []string{"A", "B", "C", "D", "E"},
		[2]string{"A", "B"}, [2]string{"C", "B"}, [2]string{"D", "E"})

	groups := g.ConnectedComponents()

	require.Len(t, groups, 2)
	assert.Equal(t, []Locator{FirstVersion("A"), FirstVersion("B"), FirstVersion("C")}, groups[0])
	assert.Equal(t, []Locator{FirstVersion("D"), FirstVersion("E")}, groups[1])
}
