package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
)

// MemoryBackend is an in-memory version arena, used by tests and by
// throwaway engines.
type MemoryBackend struct {
	mu          sync.RWMutex
	initialized bool

	nodes      *memoryRepo[*graph.Node]
	edges      *memoryRepo[*graph.Edge]
	components *memoryRepo[*graph.Component]

	// edgesByNode indexes edge versions by the node versions they touch.
	edgesByNode map[graph.Locator][]graph.Locator
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{edgesByNode: make(map[graph.Locator][]graph.Locator)}
	m.nodes = newMemoryRepo(m, graph.KindNode, componentsOfNode)
	m.edges = newMemoryRepo(m, graph.KindEdge, componentsOfEdge)
	m.components = newMemoryRepo(m, graph.KindComponent, componentsOfComponent)
	return m
}

// Initialize prepares the backend. The path and read-only flag are ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// IsInitialized reports whether Initialize has been called.
func (m *MemoryBackend) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Close implements Store.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	return nil
}

// Nodes implements Store.
func (m *MemoryBackend) Nodes() Repository[*graph.Node] { return m.nodes }

// Edges implements Store.
func (m *MemoryBackend) Edges() Repository[*graph.Edge] { return m.edges }

// Components implements Store.
func (m *MemoryBackend) Components() Repository[*graph.Component] { return m.components }

// EdgesOf implements Store.
func (m *MemoryBackend) EdgesOf(ctx context.Context, node graph.Locator) ([]*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	locs := m.edgesByNode[node]
	out := make([]*graph.Edge, 0, len(locs))
	for _, loc := range locs {
		if e, ok := m.edges.lookup(loc); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Apply implements Store. The change set is checked in full before anything
// is written.
func (m *MemoryBackend) Apply(ctx context.Context, cs *ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cs.IsEmpty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkWrites(graph.KindNode, m.nodes.lookupErr, cs.Expirations, cs.Nodes); err != nil {
		return err
	}
	if err := checkWrites(graph.KindEdge, m.edges.lookupErr, cs.Expirations, cs.Edges); err != nil {
		return err
	}
	if err := checkWrites(graph.KindComponent, m.components.lookupErr, cs.Expirations, cs.Components); err != nil {
		return err
	}

	for _, x := range cs.Expirations {
		switch x.Kind {
		case graph.KindNode:
			m.nodes.expire(x.Loc, x.At)
		case graph.KindEdge:
			m.edges.expire(x.Loc, x.At)
		case graph.KindComponent:
			m.components.expire(x.Loc, x.At)
		}
	}
	for _, n := range sortedByLocator(cs.Nodes) {
		m.nodes.save(n)
	}
	for _, e := range sortedByLocator(cs.Edges) {
		m.edges.save(e)
		m.edgesByNode[e.Source] = append(m.edgesByNode[e.Source], e.Loc)
		if e.Target != e.Source {
			m.edgesByNode[e.Target] = append(m.edgesByNode[e.Target], e.Loc)
		}
	}
	for _, c := range sortedByLocator(cs.Components) {
		m.components.save(c)
	}
	return nil
}

// memoryRepo holds the histories of one kind. Slot i of a history is
// version i+1. It shares the backend lock.
type memoryRepo[T graph.Entity[T]] struct {
	backend    *MemoryBackend
	kind       graph.Kind
	histories  map[graph.NanoID][]T
	components func(T) graph.LocatorSet
}

func newMemoryRepo[T graph.Entity[T]](m *MemoryBackend, kind graph.Kind, components func(T) graph.LocatorSet) *memoryRepo[T] {
	return &memoryRepo[T]{
		backend:    m,
		kind:       kind,
		histories:  make(map[graph.NanoID][]T),
		components: components,
	}
}

func (r *memoryRepo[T]) FindActive(ctx context.Context, id graph.NanoID) (T, bool, error) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	return graph.FindActive(r.histories[id])
}

func (r *memoryRepo[T]) FindAt(ctx context.Context, id graph.NanoID, t time.Time) (T, bool, error) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	return graph.FindAt(r.histories[id], t)
}

func (r *memoryRepo[T]) FindAllVersions(ctx context.Context, id graph.NanoID) ([]T, error) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	return append([]T(nil), r.histories[id]...), nil
}

func (r *memoryRepo[T]) Get(ctx context.Context, loc graph.Locator) (T, bool, error) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	v, ok := r.lookup(loc)
	return v, ok, nil
}

func (r *memoryRepo[T]) AllActive(ctx context.Context) ([]T, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return activeOf("store."+string(r.kind)+".all_active", all)
}

func (r *memoryRepo[T]) All(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()

	ids := make([]graph.NanoID, 0, len(r.histories))
	for id := range r.histories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []T
	for _, id := range ids {
		out = append(out, r.histories[id]...)
	}
	return out, nil
}

func (r *memoryRepo[T]) Referencing(ctx context.Context, component graph.Locator) ([]T, error) {
	active, err := r.AllActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, v := range active {
		if r.components(v).Contains(component) {
			out = append(out, v)
		}
	}
	return out, nil
}

// lookup must be called with the backend lock held.
func (r *memoryRepo[T]) lookup(loc graph.Locator) (T, bool) {
	var zero T
	h := r.histories[loc.ID]
	if loc.Version < 1 || loc.Version > len(h) {
		return zero, false
	}
	return h[loc.Version-1], true
}

func (r *memoryRepo[T]) lookupErr(loc graph.Locator) (T, bool, error) {
	v, ok := r.lookup(loc)
	return v, ok, nil
}

// expire must be called with the write lock held, after checkWrites.
func (r *memoryRepo[T]) expire(loc graph.Locator, at time.Time) {
	h := r.histories[loc.ID]
	h[loc.Version-1] = h[loc.Version-1].WithExpired(at)
}

// save must be called with the write lock held, after checkWrites.
func (r *memoryRepo[T]) save(v T) {
	id := v.Locator().ID
	r.histories[id] = append(r.histories[id], v.Clone())
}
