package engine

import (
	"context"

	"github.com/Benny93/timegraph/internal/graph"
)

// PathExists reports whether dst is reachable from src over active directed
// edges.
func (e *Engine) PathExists(ctx context.Context, src, dst graph.NanoID) (bool, error) {
	active, from, to, err := e.endpoints(ctx, "path.exists", src, dst)
	if err != nil {
		return false, err
	}
	return active.PathExists(from, to), nil
}

// ShortestPath returns a fewest-edges path between the active versions of
// src and dst. The path is empty when dst is unreachable.
func (e *Engine) ShortestPath(ctx context.Context, src, dst graph.NanoID) (graph.Path, error) {
	active, from, to, err := e.endpoints(ctx, "path.shortest", src, dst)
	if err != nil {
		return graph.Path{}, err
	}
	return active.ShortestPath(from, to), nil
}

// AllPaths returns every simple directed path between the active versions of
// src and dst.
func (e *Engine) AllPaths(ctx context.Context, src, dst graph.NanoID) ([]graph.Path, error) {
	active, from, to, err := e.endpoints(ctx, "path.all", src, dst)
	if err != nil {
		return nil, err
	}
	return active.AllPaths(from, to), nil
}

// ConnectedComponents groups active node ids into weakly connected sets.
func (e *Engine) ConnectedComponents(ctx context.Context) ([][]graph.NanoID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	groups := e.index.Active().ConnectedComponents()
	e.mu.RUnlock()

	out := make([][]graph.NanoID, len(groups))
	for i, group := range groups {
		ids := make([]graph.NanoID, len(group))
		for j, loc := range group {
			ids[j] = loc.ID
		}
		out[i] = ids
	}
	return out, nil
}

// endpoints snapshots the active index and resolves both ids in it.
func (e *Engine) endpoints(ctx context.Context, op string, src, dst graph.NanoID) (*graph.Multigraph, graph.Locator, graph.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, graph.Locator{}, graph.Locator{}, err
	}

	e.mu.RLock()
	active := e.index.Active()
	e.mu.RUnlock()

	from, err := activeIn(active, op, src)
	if err != nil {
		return nil, graph.Locator{}, graph.Locator{}, err
	}
	to, err := activeIn(active, op, dst)
	if err != nil {
		return nil, graph.Locator{}, graph.Locator{}, err
	}
	return active, from, to, nil
}

func activeIn(g *graph.Multigraph, op string, id graph.NanoID) (graph.Locator, error) {
	n, ok, err := g.ActiveNode(id)
	if err != nil {
		return graph.Locator{}, graph.WithOp(op, err)
	}
	if !ok {
		return graph.Locator{}, graph.NotFound(op, string(id))
	}
	return n.Loc, nil
}
