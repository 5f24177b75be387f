// Package graph provides the versioned data model for timegraph.
//
// It defines the identity and versioning primitives (NanoID, Locator), the
// immutable version records for nodes, edges and components, and the
// multigraph index used to query them.
package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names a versioned entity kind.
type Kind string

const (
	KindNode      Kind = "node"
	KindEdge      Kind = "edge"
	KindComponent Kind = "component"
)

// Type carries the type identity of an element. The engine never interprets it.
type Type struct {
	Name string `json:"name"`
}

// Data is an opaque typed payload, carried verbatim.
type Data struct {
	// Type identifies the payload for a collaborator codec.
	Type Type `json:"type"`

	// Payload is the encoded value.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewData encodes v as JSON under the given type.
func NewData(typ Type, v any) (Data, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Data{}, fmt.Errorf("encoding %s payload: %w", typ.Name, err)
	}
	return Data{Type: typ, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (d Data) Decode(v any) error {
	if len(d.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(d.Payload, v)
}

func (d Data) clone() Data {
	if d.Payload == nil {
		return d
	}
	payload := make(json.RawMessage, len(d.Payload))
	copy(payload, d.Payload)
	return Data{Type: d.Type, Payload: payload}
}

// Node is one version of a vertex.
type Node struct {
	// Loc identifies this version.
	Loc Locator `json:"locator"`

	// Type is the node type.
	Type Type `json:"type"`

	// Data is the node payload.
	Data Data `json:"data"`

	// Components holds back-references to the components this version belongs to.
	Components LocatorSet `json:"components,omitempty"`

	// Created is when this version became active.
	Created time.Time `json:"created"`

	// Expired is when this version stopped being active; nil while active.
	Expired *time.Time `json:"expired,omitempty"`
}

func (n *Node) Locator() Locator      { return n.Loc }
func (n *Node) CreatedAt() time.Time  { return n.Created }
func (n *Node) ExpiredAt() *time.Time { return n.Expired }
func (n *Node) IsActive() bool        { return n.Expired == nil }

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Data = n.Data.clone()
	c.Components = n.Components.Clone()
	c.Expired = cloneTime(n.Expired)
	return &c
}

// WithExpired returns a copy of the node expired at the given instant.
func (n *Node) WithExpired(at time.Time) *Node {
	c := n.Clone()
	c.Expired = &at
	return c
}

// Successor returns the next version of the node, created at the given instant.
func (n *Node) Successor(at time.Time) *Node {
	c := n.Clone()
	c.Loc = n.Loc.Next()
	c.Created = at
	c.Expired = nil
	return c
}

// Edge is one version of a directed connection between two node versions.
// Parallel edges between the same pair are allowed.
type Edge struct {
	// Loc identifies this version.
	Loc Locator `json:"locator"`

	// Type is the edge type.
	Type Type `json:"type"`

	// Source is the node version the edge leaves.
	Source Locator `json:"source"`

	// Target is the node version the edge enters.
	Target Locator `json:"target"`

	// Data is the edge payload.
	Data Data `json:"data"`

	// Components holds back-references to the components this version belongs to.
	Components LocatorSet `json:"components,omitempty"`

	Created time.Time  `json:"created"`
	Expired *time.Time `json:"expired,omitempty"`
}

func (e *Edge) Locator() Locator      { return e.Loc }
func (e *Edge) CreatedAt() time.Time  { return e.Created }
func (e *Edge) ExpiredAt() *time.Time { return e.Expired }
func (e *Edge) IsActive() bool        { return e.Expired == nil }

// Touches reports whether the edge starts or ends at the node version.
func (e *Edge) Touches(node Locator) bool {
	return e.Source == node || e.Target == node
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	c := *e
	c.Data = e.Data.clone()
	c.Components = e.Components.Clone()
	c.Expired = cloneTime(e.Expired)
	return &c
}

// WithExpired returns a copy of the edge expired at the given instant.
func (e *Edge) WithExpired(at time.Time) *Edge {
	c := e.Clone()
	c.Expired = &at
	return c
}

// Successor returns the next version of the edge, created at the given instant.
func (e *Edge) Successor(at time.Time) *Edge {
	c := e.Clone()
	c.Loc = e.Loc.Next()
	c.Created = at
	c.Expired = nil
	return c
}

// Component is one version of the metadata for a maximally-connected subgraph.
// It holds no member list; elements point back at it.
type Component struct {
	Loc     Locator    `json:"locator"`
	Type    Type       `json:"type"`
	Data    Data       `json:"data"`
	Created time.Time  `json:"created"`
	Expired *time.Time `json:"expired,omitempty"`
}

func (c *Component) Locator() Locator      { return c.Loc }
func (c *Component) CreatedAt() time.Time  { return c.Created }
func (c *Component) ExpiredAt() *time.Time { return c.Expired }
func (c *Component) IsActive() bool        { return c.Expired == nil }

// Clone returns a deep copy of the component.
func (c *Component) Clone() *Component {
	cc := *c
	cc.Data = c.Data.clone()
	cc.Expired = cloneTime(c.Expired)
	return &cc
}

// WithExpired returns a copy of the component expired at the given instant.
func (c *Component) WithExpired(at time.Time) *Component {
	cc := c.Clone()
	cc.Expired = &at
	return cc
}

// Successor returns the next version of the component, created at the given instant.
func (c *Component) Successor(at time.Time) *Component {
	cc := c.Clone()
	cc.Loc = c.Loc.Next()
	cc.Created = at
	cc.Expired = nil
	return cc
}

// Path is an ordered walk of nodes joined by edges. len(Nodes) == len(Edges)+1
// for a non-empty path. Paths are derived on demand and never stored.
type Path struct {
	Nodes []*Node
	Edges []*Edge
}

// Len returns the number of edges in the path.
func (p Path) Len() int { return len(p.Edges) }

// IsEmpty reports whether the path has no nodes.
func (p Path) IsEmpty() bool { return len(p.Nodes) == 0 }

// IDs returns the NanoIDs of the nodes along the path.
func (p Path) IDs() []NanoID {
	ids := make([]NanoID, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.Loc.ID
	}
	return ids
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
