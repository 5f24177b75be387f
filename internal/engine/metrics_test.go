package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/timegraph/internal/graph"
)

func TestMetrics_RecordsOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMetrics("timegraph_test")
	e := newTestEngine(t, WithMetrics(m))

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(1))
	_, err := e.UpdateNode(ctx, a.Loc.ID, NodePatch{}, tick(2))
	require.NoError(t, err)

	_, err = e.UpdateNode(ctx, "missing", NodePatch{}, tick(3))
	require.ErrorIs(t, err, graph.ErrNotFound)

	_, err = e.CreateComponentFromEdges(ctx, team, nil, tick(3))
	require.ErrorIs(t, err, graph.ErrValidation)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("node", "node.add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("node", "node.update", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("node", "node.update", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("component", "component.from_edges", "validation")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Violations))

	// node.add, edge.add and node.update each observed one write batch.
	assert.Equal(t, 3, testutil.CollectAndCount(m.CascadeWrites))
}

func TestMetrics_CountsViolations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMetrics("timegraph_test")
	e := newTestEngine(t, WithMetrics(m))

	a := addNode(t, e, "a", tick(0))
	b := addNode(t, e, "b", tick(0))
	ab := addEdge(t, e, a.Loc.ID, b.Loc.ID, tick(1))
	ba := addEdge(t, e, b.Loc.ID, a.Loc.ID, tick(1))

	_, err := e.CreateComponentFromEdges(ctx, team, []graph.NanoID{ab.Loc.ID, ba.Loc.ID}, tick(2))
	require.ErrorIs(t, err, graph.ErrInvariantViolation)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Violations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("component", "component.from_edges", "invariant_violation")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() { m.observe(graph.KindNode, "node.add", tick(0), 1, nil) })
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{graph.NotFound("op", "x"), "not_found"},
		{graph.AlreadyExpired("op", "x"), "already_expired"},
		{graph.Invariant("op", "x", "bad"), "invariant_violation"},
		{graph.Validation("op", "x", "bad"), "validation"},
		{context.Canceled, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.err))
		})
	}
}
