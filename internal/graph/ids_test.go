package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNanoID(t *testing.T) {
	t.Parallel()

	a, b := NewNanoID(), NewNanoID()

	assert.NotEqual(t, a, b)
	assert.Len(t, string(a), 21)
	assert.False(t, strings.ContainsAny(string(a), "@:"))
}

func TestLocator(t *testing.T) {
	t.Parallel()

	t.Run("Next", func(t *testing.T) {
		t.Parallel()
		l := FirstVersion("x")
		assert.Equal(t, Locator{ID: "x", Version: 2}, l.Next())
		assert.Equal(t, 1, l.Version)
	})

	t.Run("StringAndParse", func(t *testing.T) {
		t.Parallel()
		l := Locator{ID: "abc_-1", Version: 12}
		assert.Equal(t, "abc_-1@12", l.String())

		parsed, err := ParseLocator(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	})

	t.Run("ParseRejectsMalformed", func(t *testing.T) {
		t.Parallel()
		for _, s := range []string{"", "abc", "@1", "abc@", "abc@0", "abc@x"} {
			_, err := ParseLocator(s)
			assert.ErrorIs(t, err, ErrValidation, s)
		}
	})

	t.Run("Less", func(t *testing.T) {
		t.Parallel()
		assert.True(t, Locator{ID: "a", Version: 9}.Less(Locator{ID: "b", Version: 1}))
		assert.True(t, Locator{ID: "a", Version: 1}.Less(Locator{ID: "a", Version: 2}))
		assert.False(t, Locator{ID: "a", Version: 2}.Less(Locator{ID: "a", Version: 2}))
	})

	t.Run("IsZero", func(t *testing.T) {
		t.Parallel()
		assert.True(t, Locator{}.IsZero())
		assert.False(t, FirstVersion("a").IsZero())
	})
}

func TestLocatorSet(t *testing.T) {
	t.Parallel()

	a1 := Locator{ID: "a", Version: 1}
	a2 := Locator{ID: "a", Version: 2}
	b1 := Locator{ID: "b", Version: 1}

	t.Run("SortedAndDeduplicated", func(t *testing.T) {
		t.Parallel()
		s := NewLocatorSet(b1, a1, b1)
		assert.Equal(t, LocatorSet{a1, b1}, s)
		assert.Nil(t, NewLocatorSet())
	})

	t.Run("WithAndWithout", func(t *testing.T) {
		t.Parallel()
		s := NewLocatorSet(a1)
		with := s.With(b1)

		assert.Equal(t, LocatorSet{a1}, s)
		assert.Equal(t, LocatorSet{a1, b1}, with)
		assert.Equal(t, LocatorSet{b1}, with.Without(a1))
		assert.Nil(t, s.Without(a1))
	})

	t.Run("Replace", func(t *testing.T) {
		t.Parallel()
		s := NewLocatorSet(a1, b1)

		replaced := s.Replace(a1, a2)
		assert.True(t, replaced.Contains(a2))
		assert.False(t, replaced.Contains(a1))
		assert.True(t, replaced.Contains(b1))

		assert.Equal(t, s, s.Replace(Locator{ID: "z", Version: 1}, a2))
	})

	t.Run("Equal", func(t *testing.T) {
		t.Parallel()
		assert.True(t, NewLocatorSet(a1, b1).Equal(NewLocatorSet(b1, a1)))
		assert.False(t, NewLocatorSet(a1).Equal(NewLocatorSet(a2)))
		assert.True(t, LocatorSet(nil).Equal(LocatorSet{}))
	})

	t.Run("Strings", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"a@1", "b@1"}, NewLocatorSet(a1, b1).Strings())
	})
}

func TestError(t *testing.T) {
	t.Parallel()

	t.Run("Format", func(t *testing.T) {
		t.Parallel()
		err := Invariant("node.update", "x@1", "two active versions")
		assert.Equal(t, "node.update x@1: invariant violation: two active versions", err.Error())
	})

	t.Run("IsMatchesKindAndCause", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("disk full")
		err := &Error{Op: "store.apply", Kind: ErrInvariantViolation, Err: cause}

		assert.ErrorIs(t, err, ErrInvariantViolation)
		assert.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("WithOp", func(t *testing.T) {
		t.Parallel()
		labelled := WithOp("edge.add", Validation("", "e", "bad"))
		var ge *Error
		require.ErrorAs(t, labelled, &ge)
		assert.Equal(t, "edge.add", ge.Op)

		kept := WithOp("edge.add", NotFound("node.find", "n"))
		require.ErrorAs(t, kept, &ge)
		assert.Equal(t, "node.find", ge.Op)

		wrapped := WithOp("edge.add", errors.New("boom"))
		assert.Equal(t, "edge.add: boom", wrapped.Error())

		assert.NoError(t, WithOp("x", nil))
	})
}
