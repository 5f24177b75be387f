package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/graph"
)

// arguments wraps the loosely typed tool arguments.
type arguments map[string]any

func (a arguments) str(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

func (a arguments) require(key string) (string, error) {
	s := a.str(key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// instant parses an optional RFC 3339 argument. Zero means now.
func (a arguments) instant(key string) (time.Time, error) {
	s := a.str(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func (a arguments) kind() (graph.Kind, error) {
	k, err := a.require("kind")
	if err != nil {
		return "", err
	}
	switch kind := graph.Kind(k); kind {
	case graph.KindNode, graph.KindEdge, graph.KindComponent:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown kind %q", k)
	}
}

func (a arguments) locator(key string) (graph.Locator, error) {
	s, err := a.require(key)
	if err != nil {
		return graph.Locator{}, err
	}
	return graph.ParseLocator(s)
}

// data encodes the "data" argument under typ. Absent data is nil, meaning
// keep the existing payload on updates.
func (a arguments) data(typ graph.Type) (*graph.Data, error) {
	v, ok := a["data"]
	if !ok || v == nil {
		return nil, nil
	}
	d, err := graph.NewData(typ, v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Server) handleStats(ctx context.Context) (string, error) {
	st, err := s.graph.Stats(ctx)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("timegraph\n\n")
	fmt.Fprintf(&sb, "Nodes:             %d\n", st.Nodes)
	fmt.Fprintf(&sb, "Edges:             %d\n", st.Edges)
	fmt.Fprintf(&sb, "Components:        %d\n", st.Components)
	fmt.Fprintf(&sb, "Connected subsets: %d\n", st.ConnectedSubsets)
	return sb.String(), nil
}

func (s *Server) handleGet(ctx context.Context, a arguments) (string, error) {
	kind, err := a.kind()
	if err != nil {
		return "", err
	}
	id, err := a.require("id")
	if err != nil {
		return "", err
	}
	at, err := a.instant("at")
	if err != nil {
		return "", err
	}

	nid := graph.NanoID(id)
	var v any
	switch {
	case kind == graph.KindNode && at.IsZero():
		v, err = s.graph.Node(ctx, nid)
	case kind == graph.KindNode:
		v, err = s.graph.NodeAt(ctx, nid, at)
	case kind == graph.KindEdge && at.IsZero():
		v, err = s.graph.Edge(ctx, nid)
	case kind == graph.KindEdge:
		v, err = s.graph.EdgeAt(ctx, nid, at)
	case at.IsZero():
		v, err = s.graph.Component(ctx, nid)
	default:
		v, err = s.graph.ComponentAt(ctx, nid, at)
	}
	if err != nil {
		return "", err
	}
	return toJSON(v)
}

func (s *Server) handleHistory(ctx context.Context, a arguments) (string, error) {
	kind, err := a.kind()
	if err != nil {
		return "", err
	}
	id, err := a.require("id")
	if err != nil {
		return "", err
	}
	versions, err := s.graph.History(ctx, kind, graph.NanoID(id))
	if err != nil {
		return "", err
	}
	return toJSON(versions)
}

func (s *Server) handlePath(ctx context.Context, a arguments) (string, error) {
	src, err := a.require("source")
	if err != nil {
		return "", err
	}
	dst, err := a.require("target")
	if err != nil {
		return "", err
	}
	from, to := graph.NanoID(src), graph.NanoID(dst)

	switch mode := a.str("mode"); mode {
	case "", "shortest":
		p, err := s.graph.ShortestPath(ctx, from, to)
		if err != nil {
			return "", err
		}
		if p.IsEmpty() {
			return fmt.Sprintf("No path from %s to %s", from, to), nil
		}
		return formatPath(p), nil

	case "all":
		paths, err := s.graph.AllPaths(ctx, from, to)
		if err != nil {
			return "", err
		}
		if len(paths) == 0 {
			return fmt.Sprintf("No path from %s to %s", from, to), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d path(s) from %s to %s:\n\n", len(paths), from, to)
		for i, p := range paths {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, formatPath(p))
		}
		return sb.String(), nil

	case "exists":
		ok, err := s.graph.PathExists(ctx, from, to)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%t", ok), nil

	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
}

// formatPath renders a path as "a@1 -[type]-> b@2".
func formatPath(p graph.Path) string {
	var sb strings.Builder
	for i, n := range p.Nodes {
		if i > 0 {
			fmt.Fprintf(&sb, " -[%s]-> ", p.Edges[i-1].Type.Name)
		}
		sb.WriteString(n.Loc.String())
	}
	return sb.String()
}

func (s *Server) handleMembers(ctx context.Context, a arguments) (string, error) {
	loc, err := a.locator("component")
	if err != nil {
		return "", err
	}
	m, err := s.graph.ComponentMembers(ctx, loc)
	if err != nil {
		return "", err
	}
	return toJSON(m)
}

func (s *Server) handleCheck(ctx context.Context, a arguments) (string, error) {
	loc, err := a.locator("component")
	if err != nil {
		return "", err
	}
	if err := s.graph.ValidateComponent(ctx, loc); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s is a connected acyclic subgraph", loc), nil
}

func (s *Server) handleSnapshot(ctx context.Context, a arguments) (string, error) {
	at, err := a.instant("at")
	if err != nil {
		return "", err
	}
	if at.IsZero() {
		return "", fmt.Errorf("at is required")
	}
	g, err := s.graph.Snapshot(ctx, at)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Graph at %s\n\n", at.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, "Nodes: %d\n", g.NodeCount())
	fmt.Fprintf(&sb, "Edges: %d\n", g.EdgeCount())
	for _, n := range g.Nodes() {
		fmt.Fprintf(&sb, "  %s (%s)\n", n.Loc, n.Type.Name)
	}
	return sb.String(), nil
}

func (s *Server) handleAddNode(ctx context.Context, a arguments) (string, error) {
	name, err := a.require("type")
	if err != nil {
		return "", err
	}
	typ := graph.Type{Name: name}
	d, err := a.data(typ)
	if err != nil {
		return "", err
	}
	in := engine.NewNode{Type: typ}
	if d != nil {
		in.Data = *d
	}
	n, err := s.graph.AddNode(ctx, in, time.Time{})
	if err != nil {
		return "", err
	}
	return toJSON(n)
}

func (s *Server) handleUpdateNode(ctx context.Context, a arguments) (string, error) {
	id, err := a.require("id")
	if err != nil {
		return "", err
	}
	cur, err := s.graph.Node(ctx, graph.NanoID(id))
	if err != nil {
		return "", err
	}
	var patch engine.NodePatch
	typ := cur.Type
	if name := a.str("type"); name != "" {
		typ = graph.Type{Name: name}
		patch.Type = &typ
	}
	if patch.Data, err = a.data(typ); err != nil {
		return "", err
	}
	n, err := s.graph.UpdateNode(ctx, graph.NanoID(id), patch, time.Time{})
	if err != nil {
		return "", err
	}
	return toJSON(n)
}

func (s *Server) handleAddEdge(ctx context.Context, a arguments) (string, error) {
	name, err := a.require("type")
	if err != nil {
		return "", err
	}
	typ := graph.Type{Name: name}
	d, err := a.data(typ)
	if err != nil {
		return "", err
	}
	in := engine.NewEdge{
		Type:   typ,
		Source: graph.NanoID(a.str("source")),
		Target: graph.NanoID(a.str("target")),
	}
	if d != nil {
		in.Data = *d
	}
	e, err := s.graph.AddEdge(ctx, in, time.Time{})
	if err != nil {
		return "", err
	}
	return toJSON(e)
}

func (s *Server) handleExpire(ctx context.Context, a arguments) (string, error) {
	kind, err := a.kind()
	if err != nil {
		return "", err
	}
	id, err := a.require("id")
	if err != nil {
		return "", err
	}
	nid := graph.NanoID(id)
	switch kind {
	case graph.KindNode:
		err = s.graph.ExpireNode(ctx, nid, time.Time{})
	case graph.KindEdge:
		err = s.graph.ExpireEdge(ctx, nid, time.Time{})
	default:
		err = s.graph.ExpireComponent(ctx, nid, time.Time{})
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Expired %s %s", kind, nid), nil
}
