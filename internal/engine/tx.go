package engine

import (
	"context"
	"sort"
	"time"

	"github.com/Benny93/timegraph/internal/graph"
	"github.com/Benny93/timegraph/internal/storage"
)

// tx stages the versions one top-level operation produces.
//
// Reads consult staged versions before the store. Nothing reaches the store
// or the index until commit; dropping a tx discards the operation.
//
// A version created inside the tx is revised in place when a later cascade
// step touches it again, so no element advances more than one version per
// operation.
type tx struct {
	ctx   context.Context
	store storage.Store
	at    time.Time

	// Latest staged version per id, active or expired.
	nodeHeads map[graph.NanoID]*graph.Node
	edgeHeads map[graph.NanoID]*graph.Edge
	compHeads map[graph.NanoID]*graph.Component

	// Versions first created by this tx.
	created map[graph.Locator]bool

	// Stored versions this tx expires, with their expired copies.
	expirations  []storage.Expiration
	expiredNodes []*graph.Node
	expiredEdges []*graph.Edge
	expiredComps []*graph.Component

	// Creation order of new versions, for deterministic commits.
	newNodes []graph.Locator
	newEdges []graph.Locator
	newComps []graph.Locator

	// Node versions read from the store, so the index can hold edge endpoints.
	loadedNodes map[graph.Locator]*graph.Node
}

func newTx(ctx context.Context, store storage.Store, at time.Time) *tx {
	return &tx{
		ctx:         ctx,
		store:       store,
		at:          at,
		nodeHeads:   make(map[graph.NanoID]*graph.Node),
		edgeHeads:   make(map[graph.NanoID]*graph.Edge),
		compHeads:   make(map[graph.NanoID]*graph.Component),
		created:     make(map[graph.Locator]bool),
		loadedNodes: make(map[graph.Locator]*graph.Node),
	}
}

// Lookups.

func (t *tx) activeNode(op string, id graph.NanoID) (*graph.Node, error) {
	if head, ok := t.nodeHeads[id]; ok {
		if !head.IsActive() {
			return nil, graph.AlreadyExpired(op, string(id))
		}
		return head, nil
	}
	n, err := requireActive(t.ctx, op, id, t.store.Nodes())
	if err != nil {
		return nil, err
	}
	t.loadedNodes[n.Loc] = n
	return n, nil
}

func (t *tx) activeEdge(op string, id graph.NanoID) (*graph.Edge, error) {
	if head, ok := t.edgeHeads[id]; ok {
		if !head.IsActive() {
			return nil, graph.AlreadyExpired(op, string(id))
		}
		return head, nil
	}
	return requireActive(t.ctx, op, id, t.store.Edges())
}

func (t *tx) activeComponent(op string, id graph.NanoID) (*graph.Component, error) {
	if head, ok := t.compHeads[id]; ok {
		if !head.IsActive() {
			return nil, graph.AlreadyExpired(op, string(id))
		}
		return head, nil
	}
	return requireActive(t.ctx, op, id, t.store.Components())
}

// nodeAt returns a node version by locator, staged or stored.
func (t *tx) nodeAt(op string, loc graph.Locator) (*graph.Node, error) {
	if head, ok := t.nodeHeads[loc.ID]; ok && head.Loc == loc {
		return head, nil
	}
	n, ok, err := t.store.Nodes().Get(t.ctx, loc)
	if err != nil {
		return nil, graph.WithOp(op, err)
	}
	if !ok {
		return nil, graph.NotFound(op, loc.String())
	}
	t.loadedNodes[n.Loc] = n
	return n, nil
}

// activeEdgesOf returns the active edges currently touching a node version,
// merging stored adjacency with edges staged by this tx.
func (t *tx) activeEdgesOf(op string, node graph.Locator) ([]*graph.Edge, error) {
	stored, err := t.store.EdgesOf(t.ctx, node)
	if err != nil {
		return nil, graph.WithOp(op, err)
	}

	ids := make(map[graph.NanoID]struct{}, len(stored))
	for _, e := range stored {
		ids[e.Loc.ID] = struct{}{}
	}
	for id, head := range t.edgeHeads {
		if head.Touches(node) {
			ids[id] = struct{}{}
		}
	}

	var out []*graph.Edge
	for id := range ids {
		head, ok := t.edgeHeads[id]
		if !ok {
			var found bool
			head, found, err = t.store.Edges().FindActive(t.ctx, id)
			if err != nil {
				return nil, graph.WithOp(op, err)
			}
			if !found {
				continue
			}
		}
		if head.IsActive() && head.Touches(node) {
			out = append(out, head)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Loc.Less(out[j].Loc) })
	return out, nil
}

// Writes.

func (t *tx) createNode(n *graph.Node) {
	t.created[n.Loc] = true
	t.nodeHeads[n.Loc.ID] = n
	t.newNodes = append(t.newNodes, n.Loc)
}

func (t *tx) createEdge(e *graph.Edge) {
	t.created[e.Loc] = true
	t.edgeHeads[e.Loc.ID] = e
	t.newEdges = append(t.newEdges, e.Loc)
}

func (t *tx) createComponent(c *graph.Component) {
	t.created[c.Loc] = true
	t.compHeads[c.Loc.ID] = c
	t.newComps = append(t.newComps, c.Loc)
}

func (t *tx) expireNode(op string, n *graph.Node) error {
	if err := t.checkInstant(op, n); err != nil {
		return err
	}
	if t.created[n.Loc] {
		at := t.at
		n.Expired = &at
		return nil
	}
	expired := n.WithExpired(t.at)
	t.nodeHeads[n.Loc.ID] = expired
	t.expiredNodes = append(t.expiredNodes, expired)
	t.expirations = append(t.expirations, storage.Expiration{Kind: graph.KindNode, Loc: n.Loc, At: t.at})
	return nil
}

func (t *tx) expireEdge(op string, e *graph.Edge) error {
	if err := t.checkInstant(op, e); err != nil {
		return err
	}
	if t.created[e.Loc] {
		at := t.at
		e.Expired = &at
		return nil
	}
	expired := e.WithExpired(t.at)
	t.edgeHeads[e.Loc.ID] = expired
	t.expiredEdges = append(t.expiredEdges, expired)
	t.expirations = append(t.expirations, storage.Expiration{Kind: graph.KindEdge, Loc: e.Loc, At: t.at})
	return nil
}

func (t *tx) expireComponent(op string, c *graph.Component) error {
	if err := t.checkInstant(op, c); err != nil {
		return err
	}
	if t.created[c.Loc] {
		at := t.at
		c.Expired = &at
		return nil
	}
	expired := c.WithExpired(t.at)
	t.compHeads[c.Loc.ID] = expired
	t.expiredComps = append(t.expiredComps, expired)
	t.expirations = append(t.expirations, storage.Expiration{Kind: graph.KindComponent, Loc: c.Loc, At: t.at})
	return nil
}

// advanceNode produces the next version of an active node and recreates its
// active incident edges against it. editNode changes the new node version;
// editEdge, if set, also changes every recreated edge. It returns the ids of
// the edges it advanced.
func (t *tx) advanceNode(op string, cur *graph.Node, editNode func(*graph.Node), editEdge func(*graph.Edge)) (*graph.Node, []graph.NanoID, error) {
	if t.created[cur.Loc] {
		editNode(cur)
		// Edges staged against this version already point at it; they still
		// get the edge edit.
		var advanced []graph.NanoID
		if editEdge != nil {
			edges, err := t.activeEdgesOf(op, cur.Loc)
			if err != nil {
				return nil, nil, err
			}
			for _, e := range edges {
				if _, err := t.advanceEdge(op, e, editEdge); err != nil {
					return nil, nil, err
				}
				advanced = append(advanced, e.Loc.ID)
			}
		}
		return cur, advanced, nil
	}

	edges, err := t.activeEdgesOf(op, cur.Loc)
	if err != nil {
		return nil, nil, err
	}

	next := cur.Successor(t.at)
	editNode(next)
	if err := t.expireNode(op, cur); err != nil {
		return nil, nil, err
	}
	t.createNode(next)

	advanced := make([]graph.NanoID, 0, len(edges))
	for _, e := range edges {
		_, err := t.advanceEdge(op, e, func(ne *graph.Edge) {
			if ne.Source == cur.Loc {
				ne.Source = next.Loc
			}
			if ne.Target == cur.Loc {
				ne.Target = next.Loc
			}
			if editEdge != nil {
				editEdge(ne)
			}
		})
		if err != nil {
			return nil, nil, err
		}
		advanced = append(advanced, e.Loc.ID)
	}
	return next, advanced, nil
}

// advanceEdge produces the next version of an active edge, or revises it in
// place when this tx created it.
func (t *tx) advanceEdge(op string, cur *graph.Edge, edit func(*graph.Edge)) (*graph.Edge, error) {
	if t.created[cur.Loc] {
		edit(cur)
		return cur, nil
	}
	next := cur.Successor(t.at)
	edit(next)
	if err := t.expireEdge(op, cur); err != nil {
		return nil, err
	}
	t.createEdge(next)
	return next, nil
}

// advanceComponent produces the next version of an active component.
func (t *tx) advanceComponent(op string, cur *graph.Component, edit func(*graph.Component)) (*graph.Component, error) {
	if t.created[cur.Loc] {
		edit(cur)
		return cur, nil
	}
	next := cur.Successor(t.at)
	edit(next)
	if err := t.expireComponent(op, cur); err != nil {
		return nil, err
	}
	t.createComponent(next)
	return next, nil
}

// checkInstant rejects timestamps that would end a version before it began.
func (t *tx) checkInstant(op string, v graph.Versioned) error {
	if t.at.Before(v.CreatedAt()) {
		return graph.Validation(op, v.Locator().String(),
			"timestamp "+t.at.Format(time.RFC3339Nano)+" precedes version creation")
	}
	return nil
}

// changeSet returns the writes of the tx. New versions carry their final
// staged state.
func (t *tx) changeSet() *storage.ChangeSet {
	cs := &storage.ChangeSet{Expirations: t.expirations}
	for _, loc := range t.newNodes {
		cs.Nodes = append(cs.Nodes, t.nodeHeads[loc.ID])
	}
	for _, loc := range t.newEdges {
		cs.Edges = append(cs.Edges, t.edgeHeads[loc.ID])
	}
	for _, loc := range t.newComps {
		cs.Components = append(cs.Components, t.compHeads[loc.ID])
	}
	return cs
}

// events returns the notifications of the tx: removals first, then additions.
func (t *tx) events() []Event {
	var events []Event
	for _, n := range t.expiredNodes {
		events = append(events, Event{Kind: VertexRemoved, Node: n})
	}
	for _, e := range t.expiredEdges {
		events = append(events, Event{Kind: EdgeRemoved, Edge: e})
	}
	for _, c := range t.expiredComps {
		events = append(events, Event{Kind: ComponentRemoved, Component: c})
	}
	for _, loc := range t.newNodes {
		events = append(events, Event{Kind: VertexAdded, Node: t.nodeHeads[loc.ID]})
	}
	for _, loc := range t.newEdges {
		events = append(events, Event{Kind: EdgeAdded, Edge: t.edgeHeads[loc.ID]})
	}
	for _, loc := range t.newComps {
		events = append(events, Event{Kind: ComponentAdded, Component: t.compHeads[loc.ID]})
	}
	return events
}

// apply updates the index with the committed versions. Endpoints missing
// from the index are loaded before the edges that reference them.
func (t *tx) apply(index *graph.Multigraph) error {
	const op = "index.apply"

	for loc, n := range t.loadedNodes {
		if !index.HasNode(loc) {
			index.AddNode(n)
		}
	}
	for _, n := range t.expiredNodes {
		index.AddNode(n)
	}
	for _, loc := range t.newNodes {
		index.AddNode(t.nodeHeads[loc.ID])
	}

	edges := append([]*graph.Edge(nil), t.expiredEdges...)
	for _, loc := range t.newEdges {
		edges = append(edges, t.edgeHeads[loc.ID])
	}
	for _, e := range edges {
		for _, end := range []graph.Locator{e.Source, e.Target} {
			if index.HasNode(end) {
				continue
			}
			n, err := t.nodeAt(op, end)
			if err != nil {
				return err
			}
			index.AddNode(n)
		}
		if err := index.AddEdge(e); err != nil {
			return err
		}
	}
	return nil
}

// requireActive resolves the active version of id, telling an unknown id
// (NotFound) from one whose versions are all expired (AlreadyExpired).
func requireActive[T graph.Versioned](ctx context.Context, op string, id graph.NanoID, repo storage.Repository[T]) (T, error) {
	var zero T
	v, ok, err := repo.FindActive(ctx, id)
	if err != nil {
		return zero, graph.WithOp(op, err)
	}
	if ok {
		return v, nil
	}
	history, err := repo.FindAllVersions(ctx, id)
	if err != nil {
		return zero, graph.WithOp(op, err)
	}
	if len(history) == 0 {
		return zero, graph.NotFound(op, string(id))
	}
	return zero, graph.AlreadyExpired(op, string(id))
}
