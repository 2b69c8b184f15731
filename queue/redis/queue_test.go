package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/entitysync/corequeue"
)

var _ corequeue.DurableMap = (*Map)(nil)

func newTestMap(t *testing.T) *Map {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	m, err := Open(context.Background(), Config{RedisURL: "redis://" + srv.Addr() + "/0", HashKey: "test:queue"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMapRoundTripsGetSetDeleteKeysClear(t *testing.T) {
	m := newTestMap(t)

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
