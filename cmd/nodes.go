package cmd

import (
	"context"
	"time"

	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/graph"
)

// NodeCmd groups the node subcommands.
type NodeCmd struct {
	Add     NodeAddCmd     `cmd:"" help:"Create a node"`
	Update  NodeUpdateCmd  `cmd:"" help:"Create a new version of a node"`
	Expire  NodeExpireCmd  `cmd:"" help:"Expire a node and its edges"`
	Get     NodeGetCmd     `cmd:"" help:"Show the active version, or the one alive at --at"`
	History NodeHistoryCmd `cmd:"" help:"List every version of a node"`
	List    NodeListCmd    `cmd:"" help:"List active nodes"`
}

// NodeAddCmd creates a node.
type NodeAddCmd struct {
	Type       string    `required:"" help:"Node type"`
	Payload    string    `help:"JSON payload"`
	Components []string  `name:"component" help:"Component locator id@version (repeatable)"`
	At         time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the node add command.
func (c *NodeAddCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}

	in := engine.NewNode{Type: graph.Type{Name: c.Type}}
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

	n, err := eng.AddNode(ctx, in, c.At)
	if err != nil {
		return err
	}
	return rt.printJSON(n)
}

// NodeUpdateCmd creates a new version of a node.
type NodeUpdateCmd struct {
	ID              string    `arg:"" help:"Node id"`
	Type            string    `help:"New node type"`
	Payload         string    `help:"New JSON payload"`
	Components      []string  `name:"component" help:"Replace the component locators (repeatable)"`
	ClearComponents bool      `help:"Drop every component locator"`
	At              time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the node update command.
func (c *NodeUpdateCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	id := graph.NanoID(c.ID)

	cur, err := eng.Node(ctx, id)
	if err != nil {
		return err
	}
	var patch engine.NodePatch
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

	n, err := eng.UpdateNode(ctx, id, patch, c.At)
	if err != nil {
		return err
	}
	return rt.printJSON(n)
}

// NodeExpireCmd expires a node.
type NodeExpireCmd struct {
	ID string    `arg:"" help:"Node id"`
	At time.Time `help:"Instant of the change (RFC 3339); defaults to now"`
}

// Run executes the node expire command.
func (c *NodeExpireCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	if err := eng.ExpireNode(ctx, graph.NanoID(c.ID), c.At); err != nil {
		return err
	}
	rt.success("Expired node %s", c.ID)
	return nil
}

// NodeGetCmd shows one node version.
type NodeGetCmd struct {
	ID string    `arg:"" help:"Node id"`
	At time.Time `help:"Show the version alive at this instant (RFC 3339)"`
}

// Run executes the node get command.
func (c *NodeGetCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	n, err := lookup(ctx, graph.NanoID(c.ID), c.At, eng.Node, eng.NodeAt)
	if err != nil {
		return err
	}
	return rt.printJSON(n)
}

// NodeHistoryCmd lists node versions.
type NodeHistoryCmd struct {
	ID string `arg:"" help:"Node id"`
}

// Run executes the node history command.
func (c *NodeHistoryCmd) Run(rt *Runtime) error {
	return history(rt, graph.KindNode, c.ID)
}

// NodeListCmd lists active nodes.
type NodeListCmd struct{}

// Run executes the node list command.
func (c *NodeListCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	nodes, err := eng.Nodes(ctx)
	if err != nil {
		return err
	}
	return rt.printJSON(nodes)
}

// lookup returns the active version of id, or the version alive at at when
// at is set.
func lookup[T any](
	ctx context.Context,
	id graph.NanoID,
	at time.Time,
	active func(context.Context, graph.NanoID) (T, error),
	asOf func(context.Context, graph.NanoID, time.Time) (T, error),
) (T, error) {
	if at.IsZero() {
		return active(ctx, id)
	}
	return asOf(ctx, id, at)
}

func history(rt *Runtime, kind graph.Kind, id string) error {
	ctx := context.Background()
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	versions, err := eng.History(ctx, kind, graph.NanoID(id))
	if err != nil {
		return err
	}
	rt.printHistory(versions)
	return nil
}
