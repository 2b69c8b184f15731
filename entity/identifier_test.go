package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierOrdering(t *testing.T) {
	t.Run("remote sorts before local", func(t *testing.T) {
		r := Remote("r1", "", false)
		l := Local("l1")
		assert.True(t, r.Less(l))
		assert.False(t, l.Less(r))
	})

	t.Run("within a kind orders by embedded value", func(t *testing.T) {
		assert.True(t, Local("a").Less(Local("b")))
		assert.True(t, Remote("a", "", false).Less(Remote("b", "", false)))
	})
}

func TestIdentifierEqual(t *testing.T) {
	a := Remote("x", "prior", true)
	b := Remote("x", "prior", true)
	c := Remote("x", "", false)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestIdentifierMerge(t *testing.T) {
	t.Run("merges local and remote when parts agree", func(t *testing.T) {
		l := Local("abc")
		r := Remote("xyz", "", false)
		merged, err := l.Merge(r)
		require.NoError(t, err)
		local, hasL := merged.LocalValue()
		remote, hasR := merged.RemoteValue()
		assert.True(t, hasL)
		assert.True(t, hasR)
		assert.Equal(t, "abc", local)
		assert.Equal(t, "xyz", remote)
	})

	t.Run("rejects conflicting local values", func(t *testing.T) {
		a := Remote("xyz", "abc", true)
		b := Remote("xyz", "def", true)
		_, err := a.Merge(b)
		assert.Error(t, err)
	})

	t.Run("rejects conflicting remote values", func(t *testing.T) {
		a := Remote("one", "abc", true)
		b := Remote("two", "abc", true)
		_, err := a.Merge(b)
		assert.Error(t, err)
	})
}

func TestIdentifierPlaceholder(t *testing.T) {
	l := Local("42")
	assert.Equal(t, ":identifier_user:42", l.Placeholder("user"))
}

func TestIdentifierString(t *testing.T) {
	assert.Equal(t, "L:42", Local("42").String())
	assert.Equal(t, "R:99", Remote("99", "", false).String())
	assert.Equal(t, "R:99/L:42", Remote("99", "42", true).String())
}
