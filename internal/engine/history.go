package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
	"github.com/Benny93/timegraph/internal/storage"
)

// History returns every version of id for the given kind, version ascending.
func (e *Engine) History(ctx context.Context, kind graph.Kind, id graph.NanoID) ([]graph.Versioned, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch kind {
	case graph.KindNode:
		return versions(findAll(ctx, "node.history", id, e.store.Nodes()))
	case graph.KindEdge:
		return versions(findAll(ctx, "edge.history", id, e.store.Edges()))
	case graph.KindComponent:
		return versions(findAll(ctx, "component.history", id, e.store.Components()))
	default:
		return nil, graph.Validation("history", string(id), fmt.Sprintf("unknown kind %q", kind))
	}
}

// findAt resolves the version of id alive at instant t.
func findAt[T graph.Versioned](ctx context.Context, op string, id graph.NanoID, t time.Time, repo storage.Repository[T]) (T, error) {
	v, ok, err := repo.FindAt(ctx, id, t)
	if err != nil {
		return v, graph.WithOp(op, err)
	}
	if !ok {
		var zero T
		return zero, graph.NotFound(op, fmt.Sprintf("%s at %s", id, t.Format(time.RFC3339Nano)))
	}
	return v, nil
}

// findAll returns the full history of id, or NotFound for an unknown id.
func findAll[T graph.Versioned](ctx context.Context, op string, id graph.NanoID, repo storage.Repository[T]) ([]T, error) {
	history, err := repo.FindAllVersions(ctx, id)
	if err != nil {
		return nil, graph.WithOp(op, err)
	}
	if len(history) == 0 {
		return nil, graph.NotFound(op, string(id))
	}
	return history, nil
}

func versions[T graph.Versioned](history []T, err error) ([]graph.Versioned, error) {
	if err != nil {
		return nil, err
	}
	out := make([]graph.Versioned, len(history))
	for i, v := range history {
		out[i] = v
	}
	return out, nil
}
