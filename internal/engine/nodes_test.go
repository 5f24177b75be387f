package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/timegraph/internal/graph"
)

func TestAddNode(t *testing.T) {
	t.Parallel()

	t.Run("CreatesFirstVersion", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t)

		n := addNode(t, e, "alice", tick(0))
		assert.Equal(t, 1, n.Loc.Version)
		assert.NotEmpty(t, n.Loc.ID)
		assert.True(t, n.IsActive())
		assert.Equal(t, tick(0), n.Created)
		assert.Equal(t, `{"name":"alice"}`, mustJSON(t, n.Data))
		assert.True(t, e.Index().HasNode(n.Loc))
	})

	t.Run("RejectsEmptyType", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t)

		_, err := e.AddNode(context.Background(), NewNode{}, tick(0))
		assert.ErrorIs(t, err, graph.ErrValidation)
	})

	t.Run("RejectsUnknownComponent", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t)

		_, err := e.AddNode(context.Background(), NewNode{
			Type:       graph.Type{Name: "person"},
			Components: graph.LocatorSet{graph.FirstVersion("nope")},
		}, tick(0))
		assert.ErrorIs(t, err, graph.ErrValidation)
	})

	t.Run("RejectsStaleComponentVersion", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		e := newTestEngine(t)

		c, err := e.AddComponent(ctx, NewComponent{Type: graph.Type{Name: "team"}}, tick(0))
		require.NoError(t, err)
		_, err = e.UpdateComponent(ctx, c.Loc.ID, ComponentPatch{}, tick(1))
		require.NoError(t, err)

		_, err = e.AddNode(ctx, NewNode{Type: graph.Type{Name: "person"}, Components: graph.LocatorSet{c.Loc}}, tick(2))
		assert.ErrorIs(t, err, graph.ErrValidation)
	})
}

func TestMutations_ReturnDetachedCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	edge := addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(1))
	updated, err := e.UpdateNode(ctx, b.Loc.ID, NodePatch{}, tick(2))
	require.NoError(t, err)

	a.Type.Name = "changed"
	updated.Type.Name = "changed"
	edge.Type.Name = "changed"
	now := tick(3)
	a.Expired = &now

	idx := e.Index()
	assert.Equal(t, 2, idx.CountNodesByType("person"))
	assert.Equal(t, 0, idx.CountNodesByType("changed"))
	assert.Equal(t, 1, idx.CountEdgesByType("knows"))
	assert.True(t, idx.Node(a.Loc).IsActive())

	got, err := e.Node(ctx, a.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, "person", got.Type.Name)
}

func TestUpdateNode_VersionChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	const updates = 5
	n := addNode(t, e, "alice", tick(0))
	for i := 1; i <= updates; i++ {
		updated, err := e.UpdateNode(ctx, n.Loc.ID, NodePatch{Data: ptr(payload(t, i))}, tick(i))
		require.NoError(t, err)
		assert.Equal(t, i+1, updated.Loc.Version)
	}

	history, err := e.NodeHistory(ctx, n.Loc.ID)
	require.NoError(t, err)
	require.Len(t, history, updates+1)
	for i, v := range history {
		assert.Equal(t, i+1, v.Loc.Version)
		if i == updates {
			assert.True(t, v.IsActive())
			continue
		}
		require.NotNil(t, v.Expired)
		assert.Equal(t, history[i+1].Created, *v.Expired)
	}
	require.NoError(t, graph.ValidateHistory(history))

	active, err := e.Node(ctx, n.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", mustJSON(t, active.Data))

	at, err := e.NodeAt(ctx, n.Loc.ID, tick(2).Add(30e9))
	require.NoError(t, err)
	assert.Equal(t, 3, at.Loc.Version)

	_, err = e.NodeAt(ctx, n.Loc.ID, tick(-1))
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestUpdateNode_PatchKeepsUnsetFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	n := addNode(t, e, "alice", tick(0))
	updated, err := e.UpdateNode(ctx, n.Loc.ID, NodePatch{Type: &graph.Type{Name: "admin"}}, tick(1))
	require.NoError(t, err)

	assert.Equal(t, "admin", updated.Type.Name)
	assert.Equal(t, `{"name":"alice"}`, mustJSON(t, updated.Data))
	assert.True(t, n.IsActive(), "returned versions are not modified by later operations")
}

func TestUpdateNode_RecreatesIncidentEdges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	c := addNode(t, e, "c", tick(0))
	out := addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(1))
	in := addEdge(t, e, c.Loc.ID, a.Loc.ID, tick(1))
	loop := addEdge(t, e, a.Loc.ID, a.Loc.ID, tick(1))
	other := addEdge(t, e, b.Loc.ID, c.Loc.ID, tick(1))

	a2, err := e.UpdateNode(ctx, a.Loc.ID, NodePatch{}, tick(2))
	require.NoError(t, err)
	require.Equal(t, 2, a2.Loc.Version)

	gotOut, err := e.Edge(ctx, out.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotOut.Loc.Version)
	assert.Equal(t, a2.Loc, gotOut.Source)
	assert.Equal(t, b.Loc, gotOut.Target)
	assert.Equal(t, tick(2), gotOut.Created)

	gotIn, err := e.Edge(ctx, in.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotIn.Loc.Version)
	assert.Equal(t, c.Loc, gotIn.Source)
	assert.Equal(t, a2.Loc, gotIn.Target)

	gotLoop, err := e.Edge(ctx, loop.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotLoop.Loc.Version, "a self-loop advances once")
	assert.Equal(t, a2.Loc, gotLoop.Source)
	assert.Equal(t, a2.Loc, gotLoop.Target)

	gotOther, err := e.Edge(ctx, other.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotOther.Loc.Version)

	old, err := e.EdgeAt(ctx, out.Loc.ID, tick(1))
	require.NoError(t, err)
	assert.Equal(t, a.Loc, old.Source)
	require.NotNil(t, old.Expired)
	assert.Equal(t, tick(2), *old.Expired)

	index := e.Index()
	assert.False(t, index.HasNode(a.Loc))
	assert.True(t, index.HasNode(a2.Loc))
	assert.Len(t, index.EdgesOf(a2.Loc), 3)
	assert.Empty(t, index.EdgesOf(a.Loc))
}

func TestUpdateNode_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	n := addNode(t, e, "alice", tick(5))

	_, err := e.UpdateNode(ctx, "missing", NodePatch{}, tick(6))
	assert.ErrorIs(t, err, graph.ErrNotFound)

	_, err = e.UpdateNode(ctx, n.Loc.ID, NodePatch{}, tick(4))
	assert.ErrorIs(t, err, graph.ErrValidation)

	_, err = e.UpdateNode(ctx, n.Loc.ID, NodePatch{Type: &graph.Type{}}, tick(6))
	assert.ErrorIs(t, err, graph.ErrValidation)

	require.NoError(t, e.ExpireNode(ctx, n.Loc.ID, tick(7)))
	_, err = e.UpdateNode(ctx, n.Loc.ID, NodePatch{}, tick(8))
	assert.ErrorIs(t, err, graph.ErrAlreadyExpired)

	history, err := e.NodeHistory(ctx, n.Loc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpdateNodeComponents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	c, err := e.AddComponent(ctx, NewComponent{Type: graph.Type{Name: "team"}}, tick(0))
	require.NoError(t, err)
	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	edge := addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(0))

	a2, err := e.UpdateNodeComponents(ctx, a.Loc.ID, graph.LocatorSet{c.Loc}, tick(1))
	require.NoError(t, err)
	assert.True(t, a2.Components.Contains(c.Loc))

	gotEdge, err := e.Edge(ctx, edge.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, a2.Loc, gotEdge.Source)
	assert.Empty(t, gotEdge.Components, "edges keep their own component set")
}

func TestExpireNode_CascadesToIncidentEdges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	c := addNode(t, e, "c", tick(0))
	ab := addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(1))
	ca := addEdge(t, e, c.Loc.ID, a.Loc.ID, tick(1))
	bc := addEdge(t, e, b.Loc.ID, c.Loc.ID, tick(1))

	require.NoError(t, e.ExpireNode(ctx, a.Loc.ID, tick(3)))

	for _, id := range []graph.NanoID{ab.Loc.ID, ca.Loc.ID} {
		_, err := e.Edge(ctx, id)
		assert.ErrorIs(t, err, graph.ErrAlreadyExpired)

		history, err := e.EdgeHistory(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.NotNil(t, history[0].Expired)
		assert.Equal(t, tick(3), *history[0].Expired)
	}

	remaining, err := e.Edge(ctx, bc.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining.Loc.Version)

	edges, err := e.Edges(ctx)
	require.NoError(t, err)
	for _, edge := range edges {
		assert.NotEqual(t, a.Loc.ID, edge.Source.ID)
		assert.NotEqual(t, a.Loc.ID, edge.Target.ID)
	}

	err = e.ExpireNode(ctx, a.Loc.ID, tick(4))
	assert.ErrorIs(t, err, graph.ErrAlreadyExpired)

	err = e.ExpireNode(ctx, "missing", tick(4))
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestNodes_ListsActiveOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	require.NoError(t, e.ExpireNode(ctx, a.Loc.ID, tick(1)))

	nodes, err := e.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, b.Loc, nodes[0].Loc)
}
