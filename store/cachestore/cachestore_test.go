package cachestore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	s, err := Open(context.Background(), Config{RedisURL: "redis://" + srv.Addr() + "/0", Prefix: "test:entity:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordRoundTripPreservesIdentifierAndFields(t *testing.T) {
	e := entity.New(entity.Remote("r1", "l1", true), "post")
	e.Fields["title"] = "hello"

	r := toRecord(e)
	got, err := fromRecord(r)
	require.NoError(t, err)
	assert.True(t, got.ID.Equal(e.ID))
	assert.Equal(t, "hello", got.Fields["title"])
}

func TestFromRecordRejectsRecordWithNeitherValue(t *testing.T) {
	_, err := fromRecord(record{Subtype: "post"})
	assert.Error(t, err)
}

func TestSetGetSearchRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := entity.New(entity.Local("1"), "post")
	e.Fields["title"] = "first"
	_, err := s.Set(ctx, e)
	require.NoError(t, err)

	got, found, err := s.Get(ctx, query.ByID(e.ID))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", got.Fields["title"])

	result, err := s.Search(ctx, query.Query{})
	require.NoError(t, err)
	assert.Len(t, result.Entities, 1)

	require.NoError(t, s.Remove(ctx, e.ID))
	_, found, err = s.Get(ctx, query.ByID(e.ID))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveAllDeletesEverythingMatchingSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetMany(ctx, []entity.Entity{
		entity.New(entity.Local("1"), "post"),
		entity.New(entity.Local("2"), "post"),
	})
	require.NoError(t, err)

	require.NoError(t, s.RemoveAll(ctx, query.Query{}))

	result, err := s.Search(ctx, query.Query{})
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
}
