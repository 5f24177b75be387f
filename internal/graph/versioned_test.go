package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// history builds n versions of id, each living one hour; the last stays active.
func history(id string, n int) []*Node {
	out := make([]*Node, 0, n)
	for i := 1; i <= n; i++ {
		node := testNode(id, i, "n")
		node.Created = t0.Add(time.Duration(i-1) * time.Hour)
		if i < n {
			exp := t0.Add(time.Duration(i) * time.Hour)
			node.Expired = &exp
		}
		out = append(out, node)
	}
	return out
}

func TestAliveAt(t *testing.T) {
	t.Parallel()

	h := history("a", 2)

	assert.False(t, AliveAt(h[0], t0.Add(-time.Nanosecond)))
	assert.True(t, AliveAt(h[0], t0))
	assert.False(t, AliveAt(h[0], t0.Add(time.Hour)))
	assert.True(t, AliveAt(h[1], t0.Add(time.Hour)))
	assert.True(t, AliveAt(h[1], t0.Add(1000*time.Hour)))
}

func TestFindActive(t *testing.T) {
	t.Parallel()

	t.Run("Single", func(t *testing.T) {
		t.Parallel()
		n, ok, err := FindActive(history("a", 3))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 3, n.Loc.Version)
	})

	t.Run("AllExpired", func(t *testing.T) {
		t.Parallel()
		h := history("a", 2)
		h[1] = h[1].WithExpired(t0.Add(2 * time.Hour))

		_, ok, err := FindActive(h)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		_, ok, err := FindActive[*Node](nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TwoActiveIsIntegrityDefect", func(t *testing.T) {
		t.Parallel()
		h := history("a", 3)
		h[0].Expired = nil

		n, ok, err := FindActive(h)

		require.ErrorIs(t, err, ErrInvariantViolation)
		require.True(t, ok)
		assert.Equal(t, 3, n.Loc.Version)
	})
}

func TestFindAt(t *testing.T) {
	t.Parallel()

	h := history("a", 3)

	tests := []struct {
		name    string
		at      time.Time
		version int
		found   bool
	}{
		{"BeforeFirst", t0.Add(-time.Second), 0, false},
		{"FirstCreated", t0, 1, true},
		{"InsideSecond", t0.Add(90 * time.Minute), 2, true},
		{"BoundaryGoesToNewer", t0.Add(2 * time.Hour), 3, true},
		{"FarFuture", t0.Add(24 * time.Hour), 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, ok, err := FindAt(h, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.version, n.Loc.Version)
			}
		})
	}

	t.Run("OverlapIsIntegrityDefect", func(t *testing.T) {
		t.Parallel()
		bad := history("b", 2)
		late := t0.Add(3 * time.Hour)
		bad[0].Expired = &late

		n, ok, err := FindAt(bad, t0.Add(2*time.Hour))
		require.ErrorIs(t, err, ErrInvariantViolation)
		require.True(t, ok)
		assert.Equal(t, 2, n.Loc.Version)
	})
}

func TestSortVersions(t *testing.T) {
	t.Parallel()

	h := history("a", 4)
	shuffled := []*Node{h[2], h[0], h[3], h[1]}

	SortVersions(shuffled)

	assert.Equal(t, h, shuffled)
}

func TestValidateHistory(t *testing.T) {
	t.Parallel()

	t.Run("WellFormed", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, ValidateHistory(history("a", 5)))
		assert.NoError(t, ValidateHistory[*Node](nil))
	})

	t.Run("Gap", func(t *testing.T) {
		t.Parallel()
		h := history("a", 3)
		h = append(h[:1], h[2:]...)
		assert.ErrorIs(t, ValidateHistory(h), ErrInvariantViolation)
	})

	t.Run("EarlierVersionActive", func(t *testing.T) {
		t.Parallel()
		h := history("a", 3)
		h[1].Expired = nil
		assert.ErrorIs(t, ValidateHistory(h), ErrInvariantViolation)
	})

	t.Run("MixedIDs", func(t *testing.T) {
		t.Parallel()
		h := history("a", 2)
		h[1].Loc.ID = "b"
		assert.ErrorIs(t, ValidateHistory(h), ErrInvariantViolation)
	})

	t.Run("Overlap", func(t *testing.T) {
		t.Parallel()
		h := history("a", 2)
		h[1].Created = t0.Add(30 * time.Minute)
		assert.ErrorIs(t, ValidateHistory(h), ErrInvariantViolation)
	})
}
