package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
)

// PathCmd groups the path queries.
type PathCmd struct {
	Shortest PathShortestCmd `cmd:"" help:"Shortest path by edge count"`
	All      PathAllCmd      `cmd:"" help:"Every simple path"`
	Exists   PathExistsCmd   `cmd:"" help:"Whether a path exists"`
}

// Endpoints are the node ids a path query runs between.
type Endpoints struct {
	Source string `arg:"" help:"Source node id"`
	Target string `arg:"" help:"Target node id"`
}

func (p Endpoints) ids() (graph.NanoID, graph.NanoID) {
	return graph.NanoID(p.Source), graph.NanoID(p.Target)
}

// PathShortestCmd prints the shortest path.
type PathShortestCmd struct {
	Endpoints
}

// Run executes the path shortest command.
func (c *PathShortestCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	src, dst := c.ids()
	p, err := eng.ShortestPath(ctx, src, dst)
	if err != nil {
		return err
	}
	if p.IsEmpty() {
		yellow.Fprintf(rt.Out, "No path from %s to %s\n", src, dst)
		return nil
	}
	fmt.Fprintf(rt.Out, "%s (%d hops)\n", formatPath(p), p.Len())
	return nil
}

// PathAllCmd prints every simple path.
type PathAllCmd struct {
	Endpoints
}

// Run executes the path all command.
func (c *PathAllCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	src, dst := c.ids()
	paths, err := eng.AllPaths(ctx, src, dst)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		yellow.Fprintf(rt.Out, "No path from %s to %s\n", src, dst)
		return nil
	}
	for i, p := range paths {
		fmt.Fprintf(rt.Out, "%d. %s\n", i+1, formatPath(p))
	}
	return nil
}

// PathExistsCmd reports reachability.
type PathExistsCmd struct {
	Endpoints
}

// Run executes the path exists command.
func (c *PathExistsCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	src, dst := c.ids()
	ok, err := eng.PathExists(ctx, src, dst)
	if err != nil {
		return err
	}
	fmt.Fprintln(rt.Out, ok)
	return nil
}

// formatPath renders a path as "a@1 -[type]-> b@2".
func formatPath(p graph.Path) string {
	s := ""
	for i, n := range p.Nodes {
		if i > 0 {
			s += fmt.Sprintf(" -[%s]-> ", p.Edges[i-1].Type.Name)
		}
		s += n.Loc.String()
	}
	return s
}

// StatsCmd prints element counts.
type StatsCmd struct {
	At time.Time `help:"Count the graph as it stood at this instant (RFC 3339)"`
}

// Run executes the stats command.
func (c *StatsCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}

	if !c.At.IsZero() {
		g, err := eng.Snapshot(ctx, c.At)
		if err != nil {
			return err
		}
		fmt.Fprintf(rt.Out, "Graph at %s\n", c.At.UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(rt.Out, "  Nodes:             %d\n", g.NodeCount())
		fmt.Fprintf(rt.Out, "  Edges:             %d\n", g.EdgeCount())
		fmt.Fprintf(rt.Out, "  Connected subsets: %d\n", len(g.ConnectedComponents()))
		return nil
	}

	st, err := eng.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.Out, "Graph (%s)\n", rt.Config.Storage.Backend)
	fmt.Fprintf(rt.Out, "  Nodes:             %d\n", st.Nodes)
	fmt.Fprintf(rt.Out, "  Edges:             %d\n", st.Edges)
	fmt.Fprintf(rt.Out, "  Components:        %d\n", st.Components)
	fmt.Fprintf(rt.Out, "  Connected subsets: %d\n", st.ConnectedSubsets)
	fmt.Fprintf(rt.Out, "  Indexed versions:  %d\n", st.IndexedVersions)
	return nil
}
