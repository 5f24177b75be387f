package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
)

// NewNode describes a node to create.
type NewNode struct {
	Type       graph.Type
	Data       graph.Data
	Components graph.LocatorSet
}

// NodePatch lists the fields an update replaces. Nil fields keep the value
// of the expired version.
type NodePatch struct {
	Type       *graph.Type
	Data       *graph.Data
	Components *graph.LocatorSet
}

// AddNode creates version 1 of a new node.
func (e *Engine) AddNode(ctx context.Context, in NewNode, at time.Time) (*graph.Node, error) {
	const op = "node.add"

	var created *graph.Node
	err := e.mutate(ctx, graph.KindNode, op, at, func(t *tx) error {
		if err := validateType(op, in.Type); err != nil {
			return err
		}
		if err := t.checkComponentRefs(op, nil, in.Components); err != nil {
			return err
		}
		created = &graph.Node{
			Loc:        graph.FirstVersion(graph.NewNanoID()),
			Type:       in.Type,
			Data:       in.Data,
			Components: graph.NewLocatorSet(in.Components...),
			Created:    t.at,
		}
		t.createNode(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// UpdateNode expires the active version of id and creates its successor with
// the patch applied. Every active incident edge is recreated against the new
// version.
func (e *Engine) UpdateNode(ctx context.Context, id graph.NanoID, patch NodePatch, at time.Time) (*graph.Node, error) {
	const op = "node.update"

	var updated *graph.Node
	err := e.mutate(ctx, graph.KindNode, op, at, func(t *tx) error {
		cur, err := t.activeNode(op, id)
		if err != nil {
			return err
		}
		if patch.Type != nil {
			if err := validateType(op, *patch.Type); err != nil {
				return err
			}
		}
		if patch.Components != nil {
			if err := t.checkComponentRefs(op, cur.Components, *patch.Components); err != nil {
				return err
			}
		}
		updated, _, err = t.advanceNode(op, cur, func(n *graph.Node) {
			if patch.Type != nil {
				n.Type = *patch.Type
			}
			if patch.Data != nil {
				n.Data = *patch.Data
			}
			if patch.Components != nil {
				n.Components = graph.NewLocatorSet(*patch.Components...)
			}
		}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// UpdateNodeComponents replaces the component set of a node, with the same
// cascade as UpdateNode.
func (e *Engine) UpdateNodeComponents(ctx context.Context, id graph.NanoID, components graph.LocatorSet, at time.Time) (*graph.Node, error) {
	return e.UpdateNode(ctx, id, NodePatch{Components: &components}, at)
}

// ExpireNode expires the active version of id and every active edge
// incident to it, at the same instant.
func (e *Engine) ExpireNode(ctx context.Context, id graph.NanoID, at time.Time) error {
	const op = "node.expire"

	return e.mutate(ctx, graph.KindNode, op, at, func(t *tx) error {
		cur, err := t.activeNode(op, id)
		if err != nil {
			return err
		}
		edges, err := t.activeEdgesOf(op, cur.Loc)
		if err != nil {
			return err
		}
		if err := t.expireNode(op, cur); err != nil {
			return err
		}
		for _, edge := range edges {
			if err := t.expireEdge(op, edge); err != nil {
				return err
			}
		}
		return nil
	})
}

// Node returns the active version of id.
func (e *Engine) Node(ctx context.Context, id graph.NanoID) (*graph.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return requireActive(ctx, "node.get", id, e.store.Nodes())
}

// NodeAt returns the version of id alive at instant t.
func (e *Engine) NodeAt(ctx context.Context, id graph.NanoID, t time.Time) (*graph.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return findAt(ctx, "node.at", id, t, e.store.Nodes())
}

// NodeHistory returns every version of id, version ascending.
func (e *Engine) NodeHistory(ctx context.Context, id graph.NanoID) ([]*graph.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return findAll(ctx, "node.history", id, e.store.Nodes())
}

// Nodes returns every active node, ordered by id.
func (e *Engine) Nodes(ctx context.Context) ([]*graph.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	nodes, err := e.store.Nodes().AllActive(ctx)
	return nodes, graph.WithOp("node.list", err)
}

func validateType(op string, typ graph.Type) error {
	if typ.Name == "" {
		return graph.Validation(op, "", "type name is required")
	}
	return nil
}

// checkComponentRefs requires every component locator added to an element
// to be the active version of its component. References already held are
// kept as they are, even when their component has since changed.
func (t *tx) checkComponentRefs(op string, held, next graph.LocatorSet) error {
	for _, loc := range next {
		if held.Contains(loc) {
			continue
		}
		c, err := t.activeComponent(op, loc.ID)
		if errors.Is(err, graph.ErrNotFound) || errors.Is(err, graph.ErrAlreadyExpired) {
			return graph.Validation(op, loc.String(), "unknown or expired component")
		}
		if err != nil {
			return err
		}
		if c.Loc != loc {
			return graph.Validation(op, loc.String(), "component reference is not the active version "+c.Loc.String())
		}
	}
	return nil
}
