// Package engine implements the versioned graph engine.
//
// Every node, edge and component is an append-only sequence of immutable
// versions. Mutations expire the active version and create its successor at
// the same instant; structural changes cascade so that no active element ever
// references an expired version. One top-level call is one transaction: it
// commits to the store in a single atomic write or leaves nothing behind.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Benny93/timegraph/internal/graph"
	"github.com/Benny93/timegraph/internal/storage"
)

// Engine is safe for concurrent use. Mutations are serialized by an
// exclusive lock held for the whole operation including cascades; queries
// share a read lock and never observe a half-applied operation.
type Engine struct {
	mu        sync.RWMutex
	store     storage.Store
	index     *graph.Multigraph
	logger    *zap.Logger
	metrics   *Metrics
	listeners []Listener
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l.Named("engine") }
}

// WithMetrics records operation metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithListener registers a change listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithClock sets the clock used when an operation is given a zero timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over store with an empty index.
// Call Hydrate (or use Open) before running path queries on existing data.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		index:  graph.NewMultigraph(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open creates an engine and hydrates its index with the active graph.
func Open(ctx context.Context, store storage.Store, opts ...Option) (*Engine, error) {
	e := New(store, opts...)
	if err := e.Hydrate(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Store returns the store the engine writes to.
func (e *Engine) Store() storage.Store {
	return e.store
}

// Close closes the underlying store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Close()
}

// Hydrate rebuilds the index from the active versions in the store.
// Mutations wait until the new index is in place.
func (e *Engine) Hydrate(ctx context.Context) error {
	e.mu.Lock()
	index, err := e.loadIndex(ctx, "engine.hydrate", false)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.index = index
	e.mu.Unlock()

	e.logger.Info("index hydrated",
		zap.Int("nodes", index.NodeCount()),
		zap.Int("edges", index.EdgeCount()))
	return nil
}

// LoadHistory rebuilds the index from every stored version, expired ones
// included.
func (e *Engine) LoadHistory(ctx context.Context) error {
	e.mu.Lock()
	index, err := e.loadIndex(ctx, "engine.load_history", true)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.index = index
	e.mu.Unlock()

	e.logger.Info("history loaded",
		zap.Int("node_versions", index.NodeCount()),
		zap.Int("edge_versions", index.EdgeCount()))
	return nil
}

// Index returns the active multigraph. The result is a copy and is not
// affected by later mutations.
func (e *Engine) Index() *graph.Multigraph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Active()
}

// Snapshot returns the multigraph as it stood at instant t, built from the
// stored histories.
func (e *Engine) Snapshot(ctx context.Context, t time.Time) (*graph.Multigraph, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	full, err := e.loadIndex(ctx, "engine.snapshot", true)
	if err != nil {
		return nil, err
	}
	return full.At(t), nil
}

// loadIndex builds a multigraph from the store, from every version or from
// the active ones only.
func (e *Engine) loadIndex(ctx context.Context, op string, history bool) (*graph.Multigraph, error) {
	var (
		nodes []*graph.Node
		edges []*graph.Edge
		err   error
	)
	if history {
		nodes, err = e.store.Nodes().All(ctx)
	} else {
		nodes, err = e.store.Nodes().AllActive(ctx)
	}
	if err != nil {
		return nil, graph.WithOp(op, err)
	}
	if history {
		edges, err = e.store.Edges().All(ctx)
	} else {
		edges, err = e.store.Edges().AllActive(ctx)
	}
	if err != nil {
		return nil, graph.WithOp(op, err)
	}

	index := graph.NewMultigraph()
	for _, n := range nodes {
		index.AddNode(n)
	}
	for _, edge := range edges {
		if err := index.AddEdge(edge); err != nil {
			// An active edge must reference active nodes.
			return nil, graph.Invariant(op, edge.Loc.String(), err.Error())
		}
	}
	return index, nil
}

// Stats summarizes the engine state.
type Stats struct {
	Nodes            int `json:"nodes"`
	Edges            int `json:"edges"`
	Components       int `json:"components"`
	IndexedVersions  int `json:"indexed_versions"`
	ConnectedSubsets int `json:"connected_subsets"`
}

// Stats returns counts of active elements.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	comps, err := e.store.Components().AllActive(ctx)
	if err != nil {
		return Stats{}, graph.WithOp("engine.stats", err)
	}
	active := e.index.Active()
	return Stats{
		Nodes:            active.NodeCount(),
		Edges:            active.EdgeCount(),
		Components:       len(comps),
		IndexedVersions:  e.index.NodeCount() + e.index.EdgeCount(),
		ConnectedSubsets: len(active.ConnectedComponents()),
	}, nil
}

// mutate runs fn inside a new transaction under the write lock and commits
// the result: one atomic store write, then the index, then listeners.
func (e *Engine) mutate(ctx context.Context, kind graph.Kind, op string, at time.Time, fn func(t *tx) error) (err error) {
	start := time.Now()
	writes := 0
	defer func() {
		e.metrics.observe(kind, op, start, writes, err)
		if err != nil {
			e.logFailure(op, err)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if at.IsZero() {
		at = e.now()
	}

	t := newTx(ctx, e.store, at)
	if err := fn(t); err != nil {
		return graph.WithOp(op, err)
	}

	cs := t.changeSet()
	if err := e.store.Apply(ctx, cs); err != nil {
		return graph.WithOp(op, err)
	}
	writes = cs.Size()

	if err := t.apply(e.index); err != nil {
		// The store is the source of truth; a stale index is rebuilt from it.
		e.logger.Error("index update failed, rebuilding", zap.String("op", op), zap.Error(err))
		if herr := e.rehydrateLocked(ctx); herr != nil {
			return graph.WithOp(op, herr)
		}
	}

	if events := t.events(); len(events) > 0 {
		for _, l := range e.listeners {
			l.OnEvents(ctx, events)
		}
	}

	e.logger.Debug("operation committed",
		zap.String("op", op),
		zap.Time("at", at),
		zap.Int("saved", cs.Size()-len(cs.Expirations)),
		zap.Int("expired", len(cs.Expirations)))
	return nil
}

// rehydrateLocked rebuilds the index; the write lock must be held.
func (e *Engine) rehydrateLocked(ctx context.Context) error {
	index, err := e.loadIndex(ctx, "engine.rehydrate", false)
	if err != nil {
		return err
	}
	e.index = index
	return nil
}

func (e *Engine) logFailure(op string, err error) {
	switch outcome(err) {
	case "invariant_violation":
		e.logger.Warn("integrity defect", zap.String("op", op), zap.Error(err))
	case "error":
		e.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	default:
		e.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
	}
}
