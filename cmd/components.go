package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/graph"
)

// ComponentCmd groups the component subcommands.
type ComponentCmd struct {
	Add       ComponentAddCmd       `cmd:"" help:"Create an empty component"`
	FromEdges ComponentFromEdgesCmd `cmd:"" name:"from-edges" help:"Create a component over a connected acyclic set of edges"`
	Update    ComponentUpdateCmd    `cmd:"" help:"Create a new version of a component; members follow it"`
	Expire    ComponentExpireCmd    `cmd:"" help:"Expire a component"`
	Get       ComponentGetCmd       `cmd:"" help:"Show the active version, or the one alive at --at"`
	History   ComponentHistoryCmd   `cmd:"" help:"List every version of a component"`
	List      ComponentListCmd      `cmd:"" help:"List active components"`
	Members   ComponentMembersCmd   `cmd:"" help:"List the nodes and edges referencing a component version"`
	Check     ComponentCheckCmd     `cmd:"" help:"Check that a component's members form a connected acyclic subgraph"`
	Suggest   ComponentSuggestCmd   `cmd:"" help:"List weakly connected groups of active nodes"`
}

// ComponentAddCmd creates a component.
type ComponentAddCmd struct {
	Type    string    `required:"" help:"Component type"`
	Payload string    `help:"JSON payload"`
	At      time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

func newComponent(typeName, payload string) (engine.NewComponent, error) {
	in := engine.NewComponent{Type: graph.Type{Name: typeName}}
	data, err := parseData(in.Type, payload)
	if err != nil {
		return in, err
	}
	if data != nil {
		in.Data = *data
	}
	return in, nil
}

// Run executes the component add command.
func (c *ComponentAddCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	in, err := newComponent(c.Type, c.Payload)
	if err != nil {
		return err
	}
	comp, err := eng.AddComponent(ctx, in, c.At)
	if err != nil {
		return err
	}
	return rt.printJSON(comp)
}

// ComponentFromEdgesCmd creates a component from edges.
type ComponentFromEdgesCmd struct {
	Edges   []string  `arg:"" help:"Edge ids"`
	Type    string    `required:"" help:"Component type"`
	Payload string    `help:"JSON payload"`
	At      time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the component from-edges command.
func (c *ComponentFromEdgesCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	in, err := newComponent(c.Type, c.Payload)
	if err != nil {
		return err
	}
	ids := make([]graph.NanoID, len(c.Edges))
	for i, id := range c.Edges {
		ids[i] = graph.NanoID(id)
	}
	comp, err := eng.CreateComponentFromEdges(ctx, in, ids, c.At)
	if err != nil {
		return err
	}
	return rt.printJSON(comp)
}

// ComponentUpdateCmd creates a new version of a component.
type ComponentUpdateCmd struct {
	ID      string    `arg:"" help:"Component id"`
	Type    string    `help:"New component type"`
	Payload string    `help:"New JSON payload"`
	At      time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the component update command.
func (c *ComponentUpdateCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	id := graph.NanoID(c.ID)

	cur, err := eng.Component(ctx, id)
	if err != nil {
		return err
	}
	var patch engine.ComponentPatch
	typ := cur.Type
	if c.Type != "" {
		typ = graph.Type{Name: c.Type}
		patch.Type = &typ
	}
	if patch.Data, err = parseData(typ, c.Payload); err != nil {
		return err
	}

	comp, err := eng.UpdateComponent(ctx, id, patch, c.At)
	if err != nil {
		return err
	}
	return rt.printJSON(comp)
}

// ComponentExpireCmd expires a component.
type ComponentExpireCmd struct {
	ID string    `arg:"" help:"Component id"`
	At time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the component expire command.
func (c *ComponentExpireCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	if err := eng.ExpireComponent(ctx, graph.NanoID(c.ID), c.At); err != nil {
		return err
	}
	rt.success("Expired component %s", c.ID)
	return nil
}

// ComponentGetCmd shows one component version.
type ComponentGetCmd struct {
	ID string    `arg:"" help:"Component id"`
	At time.Time `help:"Show the version alive at this instant (RFC 3339)"`
}

// Run executes the component get command.
func (c *ComponentGetCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	comp, err := lookup(ctx, graph.NanoID(c.ID), c.At, eng.Component, eng.ComponentAt)
	if err != nil {
		return err
	}
	return rt.printJSON(comp)
}

// ComponentHistoryCmd lists component versions.
type ComponentHistoryCmd struct {
	ID string `arg:"" help:"Component id"`
}

// Run executes the component history command.
func (c *ComponentHistoryCmd) Run(rt *Runtime) error {
	return history(rt, graph.KindComponent, c.ID)
}

// ComponentListCmd lists active components.
type ComponentListCmd struct{}

// Run executes the component list command.
func (c *ComponentListCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	comps, err := eng.Components(ctx)
	if err != nil {
		return err
	}
	return rt.printJSON(comps)
}

// ComponentMembersCmd lists the members of a component version.
type ComponentMembersCmd struct {
	Locator string `arg:"" help:"Component locator id@version"`
}

// Run executes the component members command.
func (c *ComponentMembersCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	loc, err := graph.ParseLocator(c.Locator)
	if err != nil {
		return err
	}
	m, err := eng.ComponentMembers(ctx, loc)
	if err != nil {
		return err
	}

	fmt.Fprintf(rt.Out, "Members of %s\n", loc)
	fmt.Fprintf(rt.Out, "  Nodes (%d):\n", len(m.Nodes))
	for _, n := range m.Nodes {
		fmt.Fprintf(rt.Out, "    %s (%s)\n", n.Loc, n.Type.Name)
	}
	fmt.Fprintf(rt.Out, "  Edges (%d):\n", len(m.Edges))
	for _, e := range m.Edges {
		fmt.Fprintf(rt.Out, "    %s %s -[%s]-> %s\n", e.Loc, e.Source, e.Type.Name, e.Target)
	}
	return nil
}

// ComponentCheckCmd validates a component's shape.
type ComponentCheckCmd struct {
	Locator string `arg:"" help:"Component locator id@version"`
}

// Run executes the component check command.
func (c *ComponentCheckCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	loc, err := graph.ParseLocator(c.Locator)
	if err != nil {
		return err
	}
	if err := eng.ValidateComponent(ctx, loc); err != nil {
		return err
	}
	rt.success("✓ %s is a connected acyclic subgraph", loc)
	return nil
}

// ComponentSuggestCmd lists connected groups that could become components.
type ComponentSuggestCmd struct {
	MinSize int `default:"2" help:"Smallest group to list"`
}

// Run executes the component suggest command.
func (c *ComponentSuggestCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	groups, err := eng.ConnectedComponents(ctx)
	if err != nil {
		return err
	}

	shown := 0
	for _, g := range groups {
		if len(g) < c.MinSize {
			continue
		}
		shown++
		fmt.Fprintf(rt.Out, "%d. %d nodes\n", shown, len(g))
		for _, id := range g {
			fmt.Fprintf(rt.Out, "   %s\n", id)
		}
	}
	if shown == 0 {
		yellow.Fprintln(rt.Out, "No connected groups found")
	}
	return nil
}
