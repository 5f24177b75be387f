package engine

import (
	"context"
	"sort"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
)

// NewComponent describes a component to create.
type NewComponent struct {
	Type graph.Type
	Data graph.Data
}

// ComponentPatch lists the fields an update replaces.
type ComponentPatch struct {
	Type *graph.Type
	Data *graph.Data
}

// Members is the computed membership of a component version.
type Members struct {
	Nodes []*graph.Node `json:"nodes"`
	Edges []*graph.Edge `json:"edges"`
}

// AddComponent creates version 1 of a new component with no members.
func (e *Engine) AddComponent(ctx context.Context, in NewComponent, at time.Time) (*graph.Component, error) {
	const op = "component.add"

	var created *graph.Component
	err := e.mutate(ctx, graph.KindComponent, op, at, func(t *tx) error {
		if err := validateType(op, in.Type); err != nil {
			return err
		}
		created = &graph.Component{
			Loc:     graph.FirstVersion(graph.NewNanoID()),
			Type:    in.Type,
			Data:    in.Data,
			Created: t.at,
		}
		t.createComponent(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// CreateComponentFromEdges creates a component whose members are the given
// active edges and their endpoints. The candidate set must be connected and
// acyclic. Every member advances exactly one version to carry the new
// component reference.
func (e *Engine) CreateComponentFromEdges(ctx context.Context, in NewComponent, edgeIDs []graph.NanoID, at time.Time) (*graph.Component, error) {
	const op = "component.from_edges"

	var created *graph.Component
	err := e.mutate(ctx, graph.KindComponent, op, at, func(t *tx) error {
		if err := validateType(op, in.Type); err != nil {
			return err
		}
		if len(edgeIDs) == 0 {
			return graph.Validation(op, "", "at least one edge is required")
		}

		candidates := make(map[graph.NanoID]struct{}, len(edgeIDs))
		var edges []*graph.Edge
		for _, id := range edgeIDs {
			if _, dup := candidates[id]; dup {
				continue
			}
			candidates[id] = struct{}{}
			edge, err := t.activeEdge(op, id)
			if err != nil {
				return err
			}
			edges = append(edges, edge)
		}

		seen := make(map[graph.Locator]struct{})
		var nodes []*graph.Node
		for _, edge := range edges {
			for _, end := range []graph.Locator{edge.Source, edge.Target} {
				if _, ok := seen[end]; ok {
					continue
				}
				seen[end] = struct{}{}
				n, err := t.nodeAt(op, end)
				if err != nil {
					return err
				}
				if !n.IsActive() {
					return graph.Invariant(op, edge.Loc.String(), "active edge references expired node "+end.String())
				}
				nodes = append(nodes, n)
			}
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Loc.Less(nodes[j].Loc) })

		if err := graph.ValidateComponentShape(nodes, edges); err != nil {
			return err
		}

		created = &graph.Component{
			Loc:     graph.FirstVersion(graph.NewNanoID()),
			Type:    in.Type,
			Data:    in.Data,
			Created: t.at,
		}
		t.createComponent(created)

		join := func(s graph.LocatorSet) graph.LocatorSet { return s.With(created.Loc) }
		advanced := make(map[graph.NanoID]struct{}, len(edges))
		for _, n := range nodes {
			cur, err := t.activeNode(op, n.Loc.ID)
			if err != nil {
				return err
			}
			_, ids, err := t.advanceNode(op, cur,
				func(nn *graph.Node) { nn.Components = join(nn.Components) },
				func(ne *graph.Edge) {
					if _, ok := candidates[ne.Loc.ID]; ok {
						ne.Components = join(ne.Components)
					}
				})
			if err != nil {
				return err
			}
			for _, id := range ids {
				advanced[id] = struct{}{}
			}
		}

		for _, edge := range edges {
			if _, ok := advanced[edge.Loc.ID]; ok {
				continue
			}
			cur, err := t.activeEdge(op, edge.Loc.ID)
			if err != nil {
				return err
			}
			if _, err := t.advanceEdge(op, cur, func(ne *graph.Edge) { ne.Components = join(ne.Components) }); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// UpdateComponent expires the active version of id, creates its successor and
// rewrites every active element referencing the old version to reference the
// new one.
//
// Nodes are rewritten first; each node cascade recreates its incident edges
// with the same replacement applied. Edges still referencing the old version
// afterwards are rewritten directly. No element advances more than once.
func (e *Engine) UpdateComponent(ctx context.Context, id graph.NanoID, patch ComponentPatch, at time.Time) (*graph.Component, error) {
	const op = "component.update"

	var updated *graph.Component
	err := e.mutate(ctx, graph.KindComponent, op, at, func(t *tx) error {
		cur, err := t.activeComponent(op, id)
		if err != nil {
			return err
		}
		if patch.Type != nil {
			if err := validateType(op, *patch.Type); err != nil {
				return err
			}
		}

		old := cur.Loc
		updated, err = t.advanceComponent(op, cur, func(c *graph.Component) {
			if patch.Type != nil {
				c.Type = *patch.Type
			}
			if patch.Data != nil {
				c.Data = *patch.Data
			}
		})
		if err != nil {
			return err
		}
		replace := func(s graph.LocatorSet) graph.LocatorSet { return s.Replace(old, updated.Loc) }

		nodes, err := e.store.Nodes().Referencing(ctx, old)
		if err != nil {
			return graph.WithOp(op, err)
		}
		advanced := make(map[graph.NanoID]struct{})
		for _, n := range nodes {
			head, err := t.activeNode(op, n.Loc.ID)
			if err != nil {
				return err
			}
			_, ids, err := t.advanceNode(op, head,
				func(nn *graph.Node) { nn.Components = replace(nn.Components) },
				func(ne *graph.Edge) { ne.Components = replace(ne.Components) })
			if err != nil {
				return err
			}
			for _, id := range ids {
				advanced[id] = struct{}{}
			}
		}

		edges, err := e.store.Edges().Referencing(ctx, old)
		if err != nil {
			return graph.WithOp(op, err)
		}
		for _, edge := range edges {
			if _, ok := advanced[edge.Loc.ID]; ok {
				continue
			}
			head, err := t.activeEdge(op, edge.Loc.ID)
			if err != nil {
				return err
			}
			if _, err := t.advanceEdge(op, head, func(ne *graph.Edge) { ne.Components = replace(ne.Components) }); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// ExpireComponent expires the active version of id. Elements keep their
// reference to the expired version.
func (e *Engine) ExpireComponent(ctx context.Context, id graph.NanoID, at time.Time) error {
	const op = "component.expire"

	return e.mutate(ctx, graph.KindComponent, op, at, func(t *tx) error {
		cur, err := t.activeComponent(op, id)
		if err != nil {
			return err
		}
		return t.expireComponent(op, cur)
	})
}

// ComponentMembers scans the active elements referencing loc.
func (e *Engine) ComponentMembers(ctx context.Context, loc graph.Locator) (Members, error) {
	const op = "component.members"

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.membersLocked(ctx, op, loc)
}

// ValidateComponent checks that the current members of loc still form a
// connected, acyclic subgraph without dangling edges.
func (e *Engine) ValidateComponent(ctx context.Context, loc graph.Locator) error {
	const op = "component.check"

	e.mu.RLock()
	defer e.mu.RUnlock()

	m, err := e.membersLocked(ctx, op, loc)
	if err != nil {
		return err
	}
	return graph.WithOp(op, graph.ValidateComponentShape(m.Nodes, m.Edges))
}

func (e *Engine) membersLocked(ctx context.Context, op string, loc graph.Locator) (Members, error) {
	if _, ok, err := e.store.Components().Get(ctx, loc); err != nil {
		return Members{}, graph.WithOp(op, err)
	} else if !ok {
		return Members{}, graph.NotFound(op, loc.String())
	}

	nodes, err := e.store.Nodes().Referencing(ctx, loc)
	if err != nil {
		return Members{}, graph.WithOp(op, err)
	}
	edges, err := e.store.Edges().Referencing(ctx, loc)
	if err != nil {
		return Members{}, graph.WithOp(op, err)
	}
	return Members{Nodes: nodes, Edges: edges}, nil
}

// Component returns the active version of id.
func (e *Engine) Component(ctx context.Context, id graph.NanoID) (*graph.Component, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return requireActive(ctx, "component.get", id, e.store.Components())
}

// ComponentAt returns the version of id alive at instant t.
func (e *Engine) ComponentAt(ctx context.Context, id graph.NanoID, t time.Time) (*graph.Component, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return findAt(ctx, "component.at", id, t, e.store.Components())
}

// ComponentHistory returns every version of id, version ascending.
func (e *Engine) ComponentHistory(ctx context.Context, id graph.NanoID) ([]*graph.Component, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return findAll(ctx, "component.history", id, e.store.Components())
}

// Components returns every active component, ordered by id.
func (e *Engine) Components(ctx context.Context) ([]*graph.Component, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	comps, err := e.store.Components().AllActive(ctx)
	return comps, graph.WithOp("component.list", err)
}
