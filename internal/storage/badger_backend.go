package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/timegraph/internal/graph"
)

// Key prefixes for different data types
const (
	prefixNode      = "n:"     // node versions
	prefixEdge      = "e:"     // edge versions
	prefixComponent = "c:"     // component versions
	prefixIncoming  = "i:in:"  // edges entering a node version
	prefixOutgoing  = "i:out:" // edges leaving a node version
)

// ErrNotInitialized is returned when a BadgerBackend is used before
// Initialize or after Close.
var ErrNotInitialized = errors.New("storage backend not initialized")

// BadgerBackend is a BadgerDB-backed version store.
//
// Every version is one JSON record under kind prefix + "id@" + zero-padded
// version, so a prefix scan returns a history in version order. Expiring a
// version rewrites its record.
type BadgerBackend struct {
	db          *badger.DB
	initialized bool
	mu          sync.RWMutex

	nodes      *badgerRepo[*graph.Node]
	edges      *badgerRepo[*graph.Edge]
	components *badgerRepo[*graph.Component]
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	b := &BadgerBackend{}
	b.nodes = &badgerRepo[*graph.Node]{
		backend: b, kind: graph.KindNode, prefix: prefixNode,
		newT:       func() *graph.Node { return &graph.Node{} },
		components: componentsOfNode,
	}
	b.edges = &badgerRepo[*graph.Edge]{
		backend: b, kind: graph.KindEdge, prefix: prefixEdge,
		newT:       func() *graph.Edge { return &graph.Edge{} },
		components: componentsOfEdge,
	}
	b.components = &badgerRepo[*graph.Component]{
		backend: b, kind: graph.KindComponent, prefix: prefixComponent,
		newT:       func() *graph.Component { return &graph.Component{} },
		components: componentsOfComponent,
	}
	return b
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

// Nodes implements Store.
func (b *BadgerBackend) Nodes() Repository[*graph.Node] { return b.nodes }

// Edges implements Store.
func (b *BadgerBackend) Edges() Repository[*graph.Edge] { return b.edges }

// Components implements Store.
func (b *BadgerBackend) Components() Repository[*graph.Component] { return b.components }

// EdgesOf implements Store using the adjacency indexes.
func (b *BadgerBackend) EdgesOf(ctx context.Context, node graph.Locator) ([]*graph.Edge, error) {
	var edges []*graph.Edge
	err := b.view(func(txn *badger.Txn) error {
		seen := make(map[graph.Locator]bool)
		for _, prefix := range []string{prefixOutgoing, prefixIncoming} {
			locs, err := b.adjacent(txn, prefix+node.String()+":")
			if err != nil {
				return err
			}
			for _, loc := range locs {
				if seen[loc] {
					continue
				}
				seen[loc] = true
				e, ok, err := b.edges.get(txn, loc)
				if err != nil {
					return err
				}
				if ok {
					edges = append(edges, e)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// Apply implements Store. The whole change set is written in one read-write
// transaction after it has been checked against the stored state.
func (b *BadgerBackend) Apply(ctx context.Context, cs *ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cs.IsEmpty() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return ErrNotInitialized
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := checkWrites(graph.KindNode, b.nodes.lookupIn(txn), cs.Expirations, cs.Nodes); err != nil {
			return err
		}
		if err := checkWrites(graph.KindEdge, b.edges.lookupIn(txn), cs.Expirations, cs.Edges); err != nil {
			return err
		}
		if err := checkWrites(graph.KindComponent, b.components.lookupIn(txn), cs.Expirations, cs.Components); err != nil {
			return err
		}

		for _, x := range cs.Expirations {
			var err error
			switch x.Kind {
			case graph.KindNode:
				err = b.nodes.expire(txn, x.Loc, x.At)
			case graph.KindEdge:
				err = b.edges.expire(txn, x.Loc, x.At)
			case graph.KindComponent:
				err = b.components.expire(txn, x.Loc, x.At)
			default:
				err = fmt.Errorf("unknown kind %q", x.Kind)
			}
			if err != nil {
				return err
			}
		}

		for _, n := range cs.Nodes {
			if err := b.nodes.put(txn, n); err != nil {
				return err
			}
		}
		for _, e := range cs.Edges {
			if err := b.edges.put(txn, e); err != nil {
				return err
			}
			if err := b.indexEdge(txn, e); err != nil {
				return err
			}
		}
		for _, c := range cs.Components {
			if err := b.components.put(txn, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// indexEdge creates adjacency list indexes for an edge version.
func (b *BadgerBackend) indexEdge(txn *badger.Txn, e *graph.Edge) error {
	// Outgoing: source version -> edge version (unique key per edge version)
	outKey := fmt.Sprintf("%s%s:%s", prefixOutgoing, e.Source, e.Loc)
	if err := txn.Set([]byte(outKey), []byte(e.Loc.String())); err != nil {
		return fmt.Errorf("setting outgoing index: %w", err)
	}

	// Incoming: target version -> edge version
	inKey := fmt.Sprintf("%s%s:%s", prefixIncoming, e.Target, e.Loc)
	if err := txn.Set([]byte(inKey), []byte(e.Loc.String())); err != nil {
		return fmt.Errorf("setting incoming index: %w", err)
	}

	return nil
}

// adjacent collects edge locators from an index prefix.
func (b *BadgerBackend) adjacent(txn *badger.Txn, prefix string) ([]graph.Locator, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var locs []graph.Locator
	for it.Rewind(); it.Valid(); it.Next() {
		var raw string
		if err := it.Item().Value(func(val []byte) error {
			raw = string(val)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("reading edge locator: %w", err)
		}
		loc, err := graph.ParseLocator(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt adjacency entry %q: %w", it.Item().Key(), err)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func (b *BadgerBackend) view(fn func(txn *badger.Txn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return ErrNotInitialized
	}
	return b.db.View(fn)
}

// badgerRepo reads and writes the versions of one kind.
type badgerRepo[T graph.Entity[T]] struct {
	backend    *BadgerBackend
	kind       graph.Kind
	prefix     string
	newT       func() T
	components func(T) graph.LocatorSet
}

// versionKey returns the BadgerDB key for one version.
func (r *badgerRepo[T]) versionKey(loc graph.Locator) []byte {
	return []byte(fmt.Sprintf("%s%s@%010d", r.prefix, loc.ID, loc.Version))
}

// historyPrefix returns the key prefix shared by every version of id.
func (r *badgerRepo[T]) historyPrefix(id graph.NanoID) []byte {
	return []byte(r.prefix + string(id) + "@")
}

func (r *badgerRepo[T]) FindActive(ctx context.Context, id graph.NanoID) (T, bool, error) {
	history, err := r.FindAllVersions(ctx, id)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return graph.FindActive(history)
}

func (r *badgerRepo[T]) FindAt(ctx context.Context, id graph.NanoID, t time.Time) (T, bool, error) {
	history, err := r.FindAllVersions(ctx, id)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return graph.FindAt(history, t)
}

func (r *badgerRepo[T]) FindAllVersions(ctx context.Context, id graph.NanoID) ([]T, error) {
	var history []T
	err := r.backend.view(func(txn *badger.Txn) error {
		var err error
		history, err = r.scan(txn, r.historyPrefix(id))
		return err
	})
	return history, err
}

func (r *badgerRepo[T]) Get(ctx context.Context, loc graph.Locator) (T, bool, error) {
	var (
		v  T
		ok bool
	)
	err := r.backend.view(func(txn *badger.Txn) error {
		var err error
		v, ok, err = r.get(txn, loc)
		return err
	})
	return v, ok, err
}

func (r *badgerRepo[T]) AllActive(ctx context.Context) ([]T, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return activeOf("store."+string(r.kind)+".all_active", all)
}

func (r *badgerRepo[T]) All(ctx context.Context) ([]T, error) {
	var all []T
	err := r.backend.view(func(txn *badger.Txn) error {
		var err error
		all, err = r.scan(txn, []byte(r.prefix))
		return err
	})
	return all, err
}

func (r *badgerRepo[T]) Referencing(ctx context.Context, component graph.Locator) ([]T, error) {
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

func (r *badgerRepo[T]) scan(txn *badger.Txn, prefix []byte) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []T
	for it.Rewind(); it.Valid(); it.Next() {
		v, err := r.decode(it.Item())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *badgerRepo[T]) get(txn *badger.Txn, loc graph.Locator) (T, bool, error) {
	var zero T
	item, err := txn.Get(r.versionKey(loc))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("getting %s %s: %w", r.kind, loc, err)
	}
	v, err := r.decode(item)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (r *badgerRepo[T]) lookupIn(txn *badger.Txn) func(graph.Locator) (T, bool, error) {
	return func(loc graph.Locator) (T, bool, error) { return r.get(txn, loc) }
}

func (r *badgerRepo[T]) decode(item *badger.Item) (T, error) {
	v := r.newT()
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	}); err != nil {
		var zero T
		key := strings.TrimPrefix(string(item.Key()), r.prefix)
		return zero, fmt.Errorf("unmarshaling %s %s: %w", r.kind, key, err)
	}
	return v, nil
}

func (r *badgerRepo[T]) put(txn *badger.Txn, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", r.kind, err)
	}
	if err := txn.Set(r.versionKey(v.Locator()), data); err != nil {
		return fmt.Errorf("setting %s: %w", r.kind, err)
	}
	return nil
}

func (r *badgerRepo[T]) expire(txn *badger.Txn, loc graph.Locator, at time.Time) error {
	cur, ok, err := r.get(txn, loc)
	if err != nil {
		return err
	}
	if !ok {
		return graph.NotFound("store.apply", loc.String())
	}
	return r.put(txn, cur.WithExpired(at))
}
