package pglisten

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeEventIdentifierRemote(t *testing.T) {
	e := ChangeEvent{HasRemote: true, RemoteValue: "r1", HasLocal: true, LocalValue: "l1"}
	id, err := e.Identifier()
	require.NoError(t, err)
	assert.True(t, id.IsRemote())
	v, ok := id.LocalValue()
	assert.True(t, ok)
	assert.Equal(t, "l1", v)
}

func TestChangeEventIdentifierLocal(t *testing.T) {
	e := ChangeEvent{HasLocal: true, LocalValue: "l1"}
	id, err := e.Identifier()
	require.NoError(t, err)
	assert.True(t, id.IsLocal())
}

func TestChangeEventIdentifierRejectsEmpty(t *testing.T) {
	_, err := (ChangeEvent{IdentifierKey: "bad"}).Identifier()
	assert.Error(t, err)
}
