package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/timegraph/internal/graph"
)

func setupTestBadgerBackend(t *testing.T) (*BadgerBackend, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "badger")

	backend := NewBadgerBackend()
	err := backend.Initialize(dbPath, false)
	require.NoError(t, err)

	cleanup := func() {
		backend.Close()
	}

	return backend, cleanup
}

func TestBadgerBackend_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("Success", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "badger")

		backend := NewBadgerBackend()
		err := backend.Initialize(dbPath, false)

		assert.NoError(t, err)
		assert.NotNil(t, backend.db)
		assert.True(t, backend.initialized)

		backend.Close()
	})

	t.Run("ReadOnly", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "badger")

		// First create the DB
		backend1 := NewBadgerBackend()
		err := backend1.Initialize(dbPath, false)
		require.NoError(t, err)
		backend1.Close()

		// Open in read-only mode
		backend2 := NewBadgerBackend()
		err = backend2.Initialize(dbPath, true)

		assert.NoError(t, err)
		assert.True(t, backend2.initialized)

		err = backend2.Apply(context.Background(), &ChangeSet{Nodes: []*graph.Node{node("a", 1, t0)}})
		assert.Error(t, err)

		backend2.Close()
	})

	t.Run("InvalidPath", func(t *testing.T) {
		backend := NewBadgerBackend()
		err := backend.Initialize("/nonexistent/path/that/does/not/exist", false)

		assert.Error(t, err)
	})
}

func TestBadgerBackend_Closed(t *testing.T) {
	t.Parallel()

	backend, _ := setupTestBadgerBackend(t)
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	_, _, err := backend.Nodes().FindActive(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotInitialized)

	err = backend.Apply(context.Background(), &ChangeSet{Nodes: []*graph.Node{node("a", 1, t0)}})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBadgerBackend_Persistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "badger")
	at := t0.Add(time.Hour)

	first := NewBadgerBackend()
	require.NoError(t, first.Initialize(dbPath, false))
	a, b := node("a", 1, t0), node("b", 1, t0)
	require.NoError(t, first.Apply(ctx, &ChangeSet{
		Nodes: []*graph.Node{a, b},
		Edges: []*graph.Edge{edge("ab", a.Loc, b.Loc)},
	}))
	require.NoError(t, first.Apply(ctx, &ChangeSet{
		Nodes:       []*graph.Node{node("a", 2, at)},
		Expirations: []Expiration{{Kind: graph.KindNode, Loc: a.Loc, At: at}},
	}))
	require.NoError(t, first.Close())

	second := NewBadgerBackend()
	require.NoError(t, second.Initialize(dbPath, true))
	defer second.Close()

	history, err := second.Nodes().FindAllVersions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].IsActive())
	assert.True(t, history[1].IsActive())

	edges, err := second.EdgesOf(ctx, b.Loc)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, a.Loc, edges[0].Source)
}

func TestBadgerBackend_VersionOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, cleanup := setupTestBadgerBackend(t)
	defer cleanup()

	// Versions past 9 must still come back in numeric order.
	require.NoError(t, backend.Apply(ctx, &ChangeSet{Nodes: []*graph.Node{node("a", 1, t0)}}))
	for v := 2; v <= 12; v++ {
		at := t0.Add(time.Duration(v) * time.Minute)
		require.NoError(t, backend.Apply(ctx, &ChangeSet{
			Nodes:       []*graph.Node{node("a", v, at)},
			Expirations: []Expiration{{Kind: graph.KindNode, Loc: graph.Locator{ID: "a", Version: v - 1}, At: at}},
		}))
	}

	history, err := backend.Nodes().FindAllVersions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 12)
	for i, n := range history {
		assert.Equal(t, i+1, n.Loc.Version)
	}
	assert.NoError(t, graph.ValidateHistory(history))
}

func TestBadgerBackend_KeyLayout(t *testing.T) {
	t.Parallel()

	backend := NewBadgerBackend()

	assert.Equal(t, "n:abc@0000000007", string(backend.nodes.versionKey(graph.Locator{ID: "abc", Version: 7})))
	assert.Equal(t, "e:abc@", string(backend.edges.historyPrefix("abc")))
	assert.Equal(t, "c:x@0000000001", string(backend.components.versionKey(graph.FirstVersion("x"))))
}
