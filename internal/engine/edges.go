package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
)

// NewEdge describes an edge to create between the active versions of two
// nodes.
type NewEdge struct {
	Type       graph.Type
	Source     graph.NanoID
	Target     graph.NanoID
	Data       graph.Data
	Components graph.LocatorSet
}

// EdgePatch lists the fields an update replaces. Endpoints are never
// changed by an edge update.
type EdgePatch struct {
	Type       *graph.Type
	Data       *graph.Data
	Components *graph.LocatorSet
}

// AddEdge creates version 1 of a new edge between the active versions of
// its endpoints.
func (e *Engine) AddEdge(ctx context.Context, in NewEdge, at time.Time) (*graph.Edge, error) {
	const op = "edge.add"

	var created *graph.Edge
	err := e.mutate(ctx, graph.KindEdge, op, at, func(t *tx) error {
		if err := validateType(op, in.Type); err != nil {
			return err
		}
		src, err := t.endpoint(op, "source", in.Source)
		if err != nil {
			return err
		}
		dst, err := t.endpoint(op, "target", in.Target)
		if err != nil {
			return err
		}
		if err := t.checkComponentRefs(op, nil, in.Components); err != nil {
			return err
		}
		created = &graph.Edge{
			Loc:        graph.FirstVersion(graph.NewNanoID()),
			Type:       in.Type,
			Source:     src.Loc,
			Target:     dst.Loc,
			Data:       in.Data,
			Components: graph.NewLocatorSet(in.Components...),
			Created:    t.at,
		}
		t.createEdge(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// UpdateEdge expires the active version of id and creates its successor
// with the patch applied. Nodes are not affected.
func (e *Engine) UpdateEdge(ctx context.Context, id graph.NanoID, patch EdgePatch, at time.Time) (*graph.Edge, error) {
	const op = "edge.update"

	var updated *graph.Edge
	err := e.mutate(ctx, graph.KindEdge, op, at, func(t *tx) error {
		cur, err := t.activeEdge(op, id)
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
		updated, err = t.advanceEdge(op, cur, func(ne *graph.Edge) {
			if patch.Type != nil {
				ne.Type = *patch.Type
			}
			if patch.Data != nil {
				ne.Data = *patch.Data
			}
			if patch.Components != nil {
				ne.Components = graph.NewLocatorSet(*patch.Components...)
			}
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// UpdateEdgeComponents replaces the component set of an edge.
func (e *Engine) UpdateEdgeComponents(ctx context.Context, id graph.NanoID, components graph.LocatorSet, at time.Time) (*graph.Edge, error) {
	return e.UpdateEdge(ctx, id, EdgePatch{Components: &components}, at)
}

// ExpireEdge expires the active version of id. Its endpoints stay as they are.
func (e *Engine) ExpireEdge(ctx context.Context, id graph.NanoID, at time.Time) error {
	const op = "edge.expire"

	return e.mutate(ctx, graph.KindEdge, op, at, func(t *tx) error {
		cur, err := t.activeEdge(op, id)
		if err != nil {
			return err
		}
		return t.expireEdge(op, cur)
	})
}

// Edge returns the active version of id.
func (e *Engine) Edge(ctx context.Context, id graph.NanoID) (*graph.Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return requireActive(ctx, "edge.get", id, e.store.Edges())
}

// EdgeAt returns the version of id alive at instant t.
func (e *Engine) EdgeAt(ctx context.Context, id graph.NanoID, t time.Time) (*graph.Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return findAt(ctx, "edge.at", id, t, e.store.Edges())
}

// EdgeHistory returns every version of id, version ascending.
func (e *Engine) EdgeHistory(ctx context.Context, id graph.NanoID) ([]*graph.Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return findAll(ctx, "edge.history", id, e.store.Edges())
}

// Edges returns every active edge, ordered by id.
func (e *Engine) Edges(ctx context.Context) ([]*graph.Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	edges, err := e.store.Edges().AllActive(ctx)
	return edges, graph.WithOp("edge.list", err)
}

// endpoint resolves the active version of an edge endpoint. A missing or
// expired node is malformed input for the edge, not a lookup failure.
func (t *tx) endpoint(op, role string, id graph.NanoID) (*graph.Node, error) {
	if id == "" {
		return nil, graph.Validation(op, "", role+" is required")
	}
	n, err := t.activeNode(op, id)
	if errors.Is(err, graph.ErrNotFound) || errors.Is(err, graph.ErrAlreadyExpired) {
		return nil, graph.Validation(op, string(id), role+" node has no active version")
	}
	return n, err
}
