package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Benny93/timegraph/internal/graph"
	"github.com/Benny93/timegraph/internal/storage"
)

// EventKind names a change notification.
type EventKind string

const (
	VertexAdded      EventKind = "vertex_added"
	VertexRemoved    EventKind = "vertex_removed"
	EdgeAdded        EventKind = "edge_added"
	EdgeRemoved      EventKind = "edge_removed"
	ComponentAdded   EventKind = "component_added"
	ComponentRemoved EventKind = "component_removed"
)

// Event is one change produced by a committed operation. Exactly one of
// Node, Edge or Component is set. Removal means expiry; the record carries
// its expiry instant.
type Event struct {
	Kind      EventKind
	Node      *graph.Node
	Edge      *graph.Edge
	Component *graph.Component
}

// Listener receives the events of every committed operation, in commit
// order. It is called with the engine write lock held and must not call
// back into the engine.
type Listener interface {
	OnEvents(ctx context.Context, events []Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, events []Event)

// OnEvents implements Listener.
func (f ListenerFunc) OnEvents(ctx context.Context, events []Event) { f(ctx, events) }

// Flusher persists one batch of buffered changes.
type Flusher interface {
	Flush(ctx context.Context, batchID uuid.UUID, cs *storage.ChangeSet) error
}

// StoreFlusher flushes batches into a secondary store, e.g. a replica.
type StoreFlusher struct {
	Store storage.Store
}

// Flush implements Flusher.
func (f StoreFlusher) Flush(ctx context.Context, batchID uuid.UUID, cs *storage.ChangeSet) error {
	if err := f.Store.Apply(ctx, cs); err != nil {
		return fmt.Errorf("flushing batch %s: %w", batchID, err)
	}
	return nil
}

// BatchListener buffers events and flushes them as one change set.
//
// A flush is all-or-nothing from the listener's point of view: on failure the
// buffer and batch id are kept so the same batch can be retried.
type BatchListener struct {
	mu      sync.Mutex
	flusher Flusher
	batchID uuid.UUID
	events  []Event
}

// NewBatchListener creates a listener that flushes to f.
func NewBatchListener(f Flusher) *BatchListener {
	return &BatchListener{flusher: f, batchID: uuid.New()}
}

// OnEvents implements Listener.
func (b *BatchListener) OnEvents(ctx context.Context, events []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
}

// Pending returns the number of buffered events.
func (b *BatchListener) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// BatchID returns the id of the batch being buffered.
func (b *BatchListener) BatchID() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batchID
}

// Flush hands the buffered events to the flusher as one change set.
// It returns the id of the flushed batch.
func (b *BatchListener) Flush(ctx context.Context) (uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.batchID
	if len(b.events) == 0 {
		return id, nil
	}
	if err := b.flusher.Flush(ctx, id, ChangeSetFromEvents(b.events)); err != nil {
		return id, err
	}
	b.events = nil
	b.batchID = uuid.New()
	return id, nil
}

// ChangeSetFromEvents coalesces events into the change set that reproduces
// them. A version added and removed within the same batch is saved once, in
// its expired form.
func ChangeSetFromEvents(events []Event) *storage.ChangeSet {
	cs := &storage.ChangeSet{}

	nodes := make(map[graph.Locator]int)
	edges := make(map[graph.Locator]int)
	comps := make(map[graph.Locator]int)

	for _, ev := range events {
		switch ev.Kind {
		case VertexAdded:
			nodes[ev.Node.Loc] = len(cs.Nodes)
			cs.Nodes = append(cs.Nodes, ev.Node)
		case EdgeAdded:
			edges[ev.Edge.Loc] = len(cs.Edges)
			cs.Edges = append(cs.Edges, ev.Edge)
		case ComponentAdded:
			comps[ev.Component.Loc] = len(cs.Components)
			cs.Components = append(cs.Components, ev.Component)
		case VertexRemoved:
			if i, ok := nodes[ev.Node.Loc]; ok {
				cs.Nodes[i] = ev.Node
				continue
			}
			cs.Expirations = append(cs.Expirations, expirationOf(graph.KindNode, ev.Node))
		case EdgeRemoved:
			if i, ok := edges[ev.Edge.Loc]; ok {
				cs.Edges[i] = ev.Edge
				continue
			}
			cs.Expirations = append(cs.Expirations, expirationOf(graph.KindEdge, ev.Edge))
		case ComponentRemoved:
			if i, ok := comps[ev.Component.Loc]; ok {
				cs.Components[i] = ev.Component
				continue
			}
			cs.Expirations = append(cs.Expirations, expirationOf(graph.KindComponent, ev.Component))
		}
	}
	return cs
}

func expirationOf(kind graph.Kind, v graph.Versioned) storage.Expiration {
	x := storage.Expiration{Kind: kind, Loc: v.Locator()}
	if exp := v.ExpiredAt(); exp != nil {
		x.At = *exp
	}
	return x
}
