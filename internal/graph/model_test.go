package graph

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestData(t *testing.T) {
	t.Parallel()

	t.Run("RoundTripsPayload", func(t *testing.T) {
		t.Parallel()
		typ := Type{Name: "person"}
		d, err := NewData(typ, map[string]string{"name": "Ada"})
		require.NoError(t, err)

		var out map[string]string
		require.NoError(t, d.Decode(&out))

		assert.Equal(t, typ, d.Type)
		assert.Equal(t, "Ada", out["name"])
	})

	t.Run("EmptyPayloadDecodesToNothing", func(t *testing.T) {
		t.Parallel()
		var out map[string]string
		assert.NoError(t, Data{}.Decode(&out))
		assert.Nil(t, out)
	})

	t.Run("PayloadIsCarriedVerbatim", func(t *testing.T) {
		t.Parallel()
		raw := json.RawMessage(`{"b":2,  "a":1}`)
		n := &Node{Data: Data{Payload: raw}}

		assert.Equal(t, string(raw), string(n.Clone().Data.Payload))
	})
}

func TestNode_Versions(t *testing.T) {
	t.Parallel()

	comp := FirstVersion("c")
	n := &Node{
		Loc:        FirstVersion("n"),
		Type:       Type{Name: "person"},
		Data:       Data{Payload: json.RawMessage(`1`)},
		Components: NewLocatorSet(comp),
		Created:    t0,
	}
	at := t0.Add(time.Hour)

	t.Run("WithExpiredLeavesOriginal", func(t *testing.T) {
		t.Parallel()
		expired := n.WithExpired(at)

		assert.True(t, n.IsActive())
		assert.False(t, expired.IsActive())
		assert.Equal(t, at, *expired.ExpiredAt())
		assert.Equal(t, n.Loc, expired.Loc)
	})

	t.Run("Successor", func(t *testing.T) {
		t.Parallel()
		next := n.Successor(at)

		assert.Equal(t, Locator{ID: "n", Version: 2}, next.Loc)
		assert.Equal(t, at, next.CreatedAt())
		assert.True(t, next.IsActive())
		assert.True(t, next.Components.Contains(comp))
	})

	t.Run("CloneIsDeep", func(t *testing.T) {
		t.Parallel()
		c := n.Clone()
		c.Components[0] = FirstVersion("other")
		c.Data.Payload[0] = '2'

		assert.True(t, n.Components.Contains(comp))
		assert.Equal(t, "1", string(n.Data.Payload))
	})
}

func TestEdge_Touches(t *testing.T) {
	t.Parallel()

	e := &Edge{Source: FirstVersion("a"), Target: FirstVersion("b")}

	assert.True(t, e.Touches(FirstVersion("a")))
	assert.True(t, e.Touches(FirstVersion("b")))
	assert.False(t, e.Touches(Locator{ID: "a", Version: 2}))
}

func TestComponent_Successor(t *testing.T) {
	t.Parallel()

	c := &Component{Loc: FirstVersion("c"), Type: Type{Name: "team"}, Created: t0}
	next := c.Successor(t0.Add(time.Second))

	assert.Equal(t, 2, next.Loc.Version)
	assert.Equal(t, c.Type, next.Type)
	assert.True(t, c.IsActive())
}

func TestPath(t *testing.T) {
	t.Parallel()

	assert.True(t, Path{}.IsEmpty())

	p := Path{
		Nodes: []*Node{testNode("a", 1, "n"), testNode("b", 1, "n")},
		Edges: []*Edge{{Loc: FirstVersion("e")}},
	}
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, []NanoID{"a", "b"}, p.IDs())
}
