package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/timegraph/internal/graph"
	"github.com/Benny93/timegraph/internal/storage"
)

type recorder struct {
	batches [][]Event
}

func (r *recorder) OnEvents(_ context.Context, events []Event) {
	r.batches = append(r.batches, events)
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestListener_ReceivesCommittedChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	e := newTestEngine(t, WithListener(rec))

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(1))
	_, err := e.UpdateNode(ctx, a.Loc.ID, NodePatch{}, tick(2))
	require.NoError(t, err)

	_, err = e.UpdateNode(ctx, "missing", NodePatch{}, tick(3))
	require.Error(t, err)

	require.Len(t, rec.batches, 4, "rejected operations emit nothing")
	assert.Equal(t, []EventKind{VertexAdded}, kinds(rec.batches[0]))
	assert.Equal(t, []EventKind{EdgeAdded}, kinds(rec.batches[2]))
	assert.Equal(t, []EventKind{VertexRemoved, EdgeRemoved, VertexAdded, EdgeAdded}, kinds(rec.batches[3]))

	removed := rec.batches[3][0].Node
	require.NotNil(t, removed.Expired)
	assert.Equal(t, tick(2), *removed.Expired)
	assert.Equal(t, 2, rec.batches[3][2].Node.Loc.Version)
}

func TestListener_ComponentEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	e := newTestEngine(t, WithListener(rec))

	c, err := e.AddComponent(ctx, team, tick(0))
	require.NoError(t, err)
	require.NoError(t, e.ExpireComponent(ctx, c.Loc.ID, tick(1)))

	require.Len(t, rec.batches, 2)
	assert.Equal(t, []EventKind{ComponentAdded}, kinds(rec.batches[0]))
	assert.Equal(t, []EventKind{ComponentRemoved}, kinds(rec.batches[1]))
}

func TestBatchListener_MirrorsStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mirror := newMemoryStore(t)
	batch := NewBatchListener(StoreFlusher{Store: mirror})
	e := newTestEngine(t, WithListener(batch))

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	edge := addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(1))
	_, err := e.UpdateNode(ctx, a.Loc.ID, NodePatch{}, tick(2))
	require.NoError(t, err)
	assert.Equal(t, 7, batch.Pending())

	first := batch.BatchID()
	flushed, err := batch.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, flushed)
	assert.NotEqual(t, first, batch.BatchID())
	assert.Equal(t, 0, batch.Pending())

	require.NoError(t, e.ExpireNode(ctx, b.Loc.ID, tick(3)))
	_, err = batch.Flush(ctx)
	require.NoError(t, err)

	for _, id := range []graph.NanoID{a.Loc.ID, b.Loc.ID} {
		want, err := e.Store().Nodes().FindAllVersions(ctx, id)
		require.NoError(t, err)
		got, err := mirror.Nodes().FindAllVersions(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	want, err := e.Store().Edges().FindAllVersions(ctx, edge.Loc.ID)
	require.NoError(t, err)
	got, err := mirror.Edges().FindAllVersions(ctx, edge.Loc.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

type flakyFlusher struct {
	fail    int
	batches []uuid.UUID
	sizes   []int
}

func (f *flakyFlusher) Flush(_ context.Context, id uuid.UUID, cs *storage.ChangeSet) error {
	f.batches = append(f.batches, id)
	if f.fail > 0 {
		f.fail--
		return errors.New("replica unavailable")
	}
	f.sizes = append(f.sizes, cs.Size())
	return nil
}

func TestBatchListener_FailedFlushKeepsBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	flusher := &flakyFlusher{fail: 1}
	batch := NewBatchListener(flusher)
	e := newTestEngine(t, WithListener(batch))

	addNode(t, e, "a", tick(0))
	addNode(t, e, "b", tick(0))

	id, err := batch.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, batch.Pending())
	assert.Equal(t, id, batch.BatchID())

	retried, err := batch.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, retried)
	assert.Equal(t, []uuid.UUID{id, id}, flusher.batches)
	assert.Equal(t, []int{2}, flusher.sizes)

	// Nothing buffered: no call to the flusher.
	_, err = batch.Flush(ctx)
	require.NoError(t, err)
	assert.Len(t, flusher.batches, 2)
}

func TestChangeSetFromEvents_Coalesces(t *testing.T) {
	t.Parallel()

	n1 := &graph.Node{Loc: graph.FirstVersion("n"), Type: graph.Type{Name: "person"}, Created: tick(0)}
	n1Expired := n1.WithExpired(tick(1))
	n2 := n1.Successor(tick(1))
	old := &graph.Node{Loc: graph.FirstVersion("old"), Created: tick(0)}

	cs := ChangeSetFromEvents([]Event{
		{Kind: VertexAdded, Node: n1},
		{Kind: VertexRemoved, Node: n1Expired},
		{Kind: VertexAdded, Node: n2},
		{Kind: VertexRemoved, Node: old.WithExpired(tick(1))},
	})

	require.Len(t, cs.Nodes, 2)
	assert.Same(t, n1Expired, cs.Nodes[0])
	assert.Same(t, n2, cs.Nodes[1])
	require.Len(t, cs.Expirations, 1)
	assert.Equal(t, storage.Expiration{Kind: graph.KindNode, Loc: old.Loc, At: tick(1)}, cs.Expirations[0])
}
