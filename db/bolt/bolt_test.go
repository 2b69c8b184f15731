package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/entitysync/corequeue"
)

var _ corequeue.DurableMap = (*Map)(nil)

func TestMapRoundTripsGetSetDeleteKeysClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	m, err := Open(path, "requests")
	require.NoError(t, err)
	defer m.Close()

	_, found, err := m.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set("a", []byte("1")))
	require.NoError(t, m.Set("b", []byte("2")))

	v, found, err := m.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)

	keys, err := m.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, m.Delete("a"))
	_, found, err = m.Get("a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Clear())
	keys, err = m.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
