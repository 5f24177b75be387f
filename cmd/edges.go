package cmd

import (
	"context"
	"time"

	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/graph"
)

// EdgeCmd groups the edge subcommands.
type EdgeCmd struct {
	Add     EdgeAddCmd     `cmd:"" help:"Create a directed edge between two active nodes"`
	Update  EdgeUpdateCmd  `cmd:"" help:"Create a new version of an edge"`
	Expire  EdgeExpireCmd  `cmd:"" help:"Expire an edge"`
	Get     EdgeGetCmd     `cmd:"" help:"Show the active version, or the one alive at --at"`
	History EdgeHistoryCmd `cmd:"" help:"List every version of an edge"`
	List    EdgeListCmd    `cmd:"" help:"List active edges"`
}

// EdgeAddCmd creates an edge.
type EdgeAddCmd struct {
	Source     string    `arg:"" help:"Source node id"`
	Target     string    `arg:"" help:"Target node id"`
	Type       string    `required:"" help:"Edge type"`
	Payload    string    `help:"JSON payload"`
	Components []string  `name:"component" help:"Component locator id@version (repeatable)"`
	At         time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the edge add command.
func (c *EdgeAddCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}

	in := engine.NewEdge{
		Type:   graph.Type{Name: c.Type},
		Source: graph.NanoID(c.Source),
		Target: graph.NanoID(c.Target),
	}
	if in.Components, err = parseLocators(c.Components); err != nil {
		return err
	}
	data, err := parseData(in.Type, c.Payload)
	if err != nil {
		return err
	}
	if data != nil {
		in.Data = *data
	}

	e, err := eng.AddEdge(ctx, in, c.At)
	if err != nil {
		return err
	}
	return rt.printJSON(e)
}

// EdgeUpdateCmd creates a new version of an edge.
type EdgeUpdateCmd struct {
	ID              string    `arg:"" help:"Edge id"`
	Type            string    `help:"New edge type"`
	Payload         string    `help:"New JSON payload"`
	Components      []string  `name:"component" help:"Replace the component locators (repeatable)"`
	ClearComponents bool      `help:"Drop every component locator"`
	At              time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the edge update command.
func (c *EdgeUpdateCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	id := graph.NanoID(c.ID)

	cur, err := eng.Edge(ctx, id)
	if err != nil {
		return err
	}
	var patch engine.EdgePatch
	typ := cur.Type
	if c.Type != "" {
		typ = graph.Type{Name: c.Type}
		patch.Type = &typ
	}
	if patch.Data, err = parseData(typ, c.Payload); err != nil {
		return err
	}
	if len(c.Components) > 0 || c.ClearComponents {
		set, err := parseLocators(c.Components)
		if err != nil {
			return err
		}
		patch.Components = &set
	}

	e, err := eng.UpdateEdge(ctx, id, patch, c.At)
	if err != nil {
		return err
	}
	return rt.printJSON(e)
}

// EdgeExpireCmd expires an edge.
type EdgeExpireCmd struct {
	ID string    `arg:"" help:"Edge id"`
	At time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the edge expire command.
func (c *EdgeExpireCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	if err := eng.ExpireEdge(ctx, graph.NanoID(c.ID), c.At); err != nil {
		return err
	}
	rt.success("Expired edge %s", c.ID)
	return nil
}

// EdgeGetCmd shows one edge version.
type EdgeGetCmd struct {
	ID string    `arg:"" help:"Edge id"`
	At time.Time `help:"Show the version alive at this instant (RFC 3339)"`
}

// Run executes the edge get command.
func (c *EdgeGetCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	e, err := lookup(ctx, graph.NanoID(c.ID), c.At, eng.Edge, eng.EdgeAt)
	if err != nil {
		return err
	}
	return rt.printJSON(e)
}

// EdgeHistoryCmd lists edge versions.
type EdgeHistoryCmd struct {
	ID string `arg:"" help:"Edge id"`
}

// Run executes the edge history command.
func (c *EdgeHistoryCmd) Run(rt *Runtime) error {
	return history(rt, graph.KindEdge, c.ID)
}

// EdgeListCmd lists active edges.
type EdgeListCmd struct{}

// Run executes the edge list command.
func (c *EdgeListCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	edges, err := eng.Edges(ctx)
	if err != nil {
		return err
	}
	return rt.printJSON(edges)
}
