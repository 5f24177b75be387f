// Package storage provides the version store behind the timegraph engine.
//
// It defines the Store contract that all storage implementations must
// satisfy, along with the ChangeSet unit of atomic writes. Stores only record
// and return raw versions; every derived state is computed by the engine.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Repository gives per-kind access to version histories.
//
// Implementations must be thread-safe. Returned records are shared and must
// not be modified by the caller.
type Repository[T graph.Versioned] interface {
	// FindActive returns the active version of id. More than one active
	// version is reported as graph.ErrInvariantViolation alongside the
	// highest one.
	FindActive(ctx context.Context, id graph.NanoID) (T, bool, error)

	// FindAt returns the version of id alive at instant t.
	FindAt(ctx context.Context, id graph.NanoID, t time.Time) (T, bool, error)

	// FindAllVersions returns the history of id ordered by version ascending.
	FindAllVersions(ctx context.Context, id graph.NanoID) ([]T, error)

	// Get returns one specific version.
	Get(ctx context.Context, loc graph.Locator) (T, bool, error)

	// AllActive returns every active version of this kind.
	AllActive(ctx context.Context) ([]T, error)

	// All returns every version of this kind, active and expired.
	All(ctx context.Context) ([]T, error)

	// Referencing returns the active versions whose component set contains
	// the given component locator. Components never reference each other, so
	// the component repository always returns an empty result.
	Referencing(ctx context.Context, component graph.Locator) ([]T, error)
}

// Store is the persistence contract the engine depends on.
type Store interface {
	// Nodes returns the node repository.
	Nodes() Repository[*graph.Node]

	// Edges returns the edge repository.
	Edges() Repository[*graph.Edge]

	// Components returns the component repository.
	Components() Repository[*graph.Component]

	// EdgesOf returns every edge version whose source or target is the given
	// node version.
	EdgesOf(ctx context.Context, node graph.Locator) ([]*graph.Edge, error)

	// Apply records a change set atomically: either every expiration and
	// save is recorded or none is.
	Apply(ctx context.Context, cs *ChangeSet) error

	// Close releases all resources held by the store.
	Close() error
}

// Expiration marks one stored version as expired.
type Expiration struct {
	Kind graph.Kind
	Loc  graph.Locator
	At   time.Time
}

// ChangeSet is the unit of atomic writes produced by one engine operation.
//
// Expirations are applied before saves, so a save of version n+1 may rely on
// version n being expired by the same change set.
type ChangeSet struct {
	Nodes       []*graph.Node
	Edges       []*graph.Edge
	Components  []*graph.Component
	Expirations []Expiration
}

// IsEmpty reports whether the change set records nothing.
func (cs *ChangeSet) IsEmpty() bool {
	return cs == nil || len(cs.Nodes)+len(cs.Edges)+len(cs.Components)+len(cs.Expirations) == 0
}

// Size returns the number of records the change set touches.
func (cs *ChangeSet) Size() int {
	if cs == nil {
		return 0
	}
	return len(cs.Nodes) + len(cs.Edges) + len(cs.Components) + len(cs.Expirations)
}

// Open creates and initializes a store of the named backend.
// The path is ignored by the memory backend.
func Open(backend, path string, readOnly bool) (Store, error) {
	switch backend {
	case BackendMemory, "":
		m := NewMemoryBackend()
		if err := m.Initialize(path, readOnly); err != nil {
			return nil, err
		}
		return m, nil
	case BackendBadger:
		b := NewBadgerBackend()
		if err := b.Initialize(path, readOnly); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// activeOf picks the active versions out of a mixed list, one per id.
// Two active versions of one id are reported as an integrity defect.
func activeOf[T graph.Versioned](op string, versions []T) ([]T, error) {
	seen := make(map[graph.NanoID]graph.Locator)
	out := make([]T, 0, len(versions))
	for _, v := range versions {
		if !v.IsActive() {
			continue
		}
		loc := v.Locator()
		if prev, ok := seen[loc.ID]; ok {
			return nil, graph.Invariant(op, loc.ID.String(),
				fmt.Sprintf("versions %d and %d are both active", prev.Version, loc.Version))
		}
		seen[loc.ID] = loc
		out = append(out, v)
	}
	return out, nil
}

// checkWrites validates the expirations and saves of one kind against the
// stored state as seen through lookup. Nothing is written.
func checkWrites[T graph.Entity[T]](
	kind graph.Kind,
	lookup func(graph.Locator) (T, bool, error),
	exps []Expiration,
	saves []T,
) error {
	const op = "store.apply"

	expired := make(map[graph.Locator]bool)
	for _, x := range exps {
		if x.Kind != kind {
			continue
		}
		cur, ok, err := lookup(x.Loc)
		if err != nil {
			return err
		}
		if !ok {
			return graph.NotFound(op, x.Loc.String())
		}
		if !cur.IsActive() || expired[x.Loc] {
			return graph.AlreadyExpired(op, x.Loc.String())
		}
		if x.At.Before(cur.CreatedAt()) {
			return graph.Validation(op, x.Loc.String(), "expiry precedes creation")
		}
		expired[x.Loc] = true
	}

	saved := make(map[graph.Locator]T)
	for _, s := range sortedByLocator(saves) {
		loc := s.Locator()
		if loc.ID == "" || loc.Version < 1 {
			return graph.Validation(op, loc.String(), "malformed locator")
		}
		if _, dup := saved[loc]; dup {
			return graph.Invariant(op, loc.String(), "version saved twice")
		}
		if _, exists, err := lookup(loc); err != nil {
			return err
		} else if exists {
			return graph.Invariant(op, loc.String(), "version already recorded")
		}
		if loc.Version > 1 {
			prevLoc := graph.Locator{ID: loc.ID, Version: loc.Version - 1}
			prev, ok := saved[prevLoc]
			if !ok {
				var err error
				if prev, ok, err = lookup(prevLoc); err != nil {
					return err
				}
			}
			if !ok {
				return graph.Invariant(op, loc.String(), "previous version missing")
			}
			if prev.IsActive() && !expired[prevLoc] {
				return graph.Invariant(op, loc.String(), "previous version still active")
			}
		}
		saved[loc] = s
	}
	return nil
}

// sortedByLocator returns the records ordered by locator so that versions of
// one id are written in order.
func sortedByLocator[T graph.Versioned](records []T) []T {
	out := append([]T(nil), records...)
	sort.Slice(out, func(i, j int) bool { return out[i].Locator().Less(out[j].Locator()) })
	return out
}

func componentsOfNode(n *graph.Node) graph.LocatorSet { return n.Components }

func componentsOfEdge(e *graph.Edge) graph.LocatorSet { return e.Components }

func componentsOfComponent(*graph.Component) graph.LocatorSet { return nil }
