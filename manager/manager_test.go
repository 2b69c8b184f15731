package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
	"github.com/evalgo/entitysync/store/memstore"
)

// erroringEngine wraps a memstore.Store and fails every Get/Search with
// a configurable error, to exercise RemoteOrLocal/LocalOr fallback.
type erroringEngine struct {
	inner *memstore.Store
	err   error
}

func (e erroringEngine) Get(ctx context.Context, q query.Query) (entity.Entity, bool, error) {
	if e.err != nil {
		return entity.Entity{}, false, e.err
	}
	return e.inner.Get(ctx, q)
}
func (e erroringEngine) Search(ctx context.Context, q query.Query) (query.Result, error) {
	if e.err != nil {
		return query.Result{}, e.err
	}
	return e.inner.Search(ctx, q)
}
func (e erroringEngine) Set(ctx context.Context, ent entity.Entity) (entity.Entity, error) {
	return e.inner.Set(ctx, ent)
}
func (e erroringEngine) SetMany(ctx context.Context, ents []entity.Entity) ([]entity.Entity, error) {
	return e.inner.SetMany(ctx, ents)
}
func (e erroringEngine) Remove(ctx context.Context, id entity.Identifier) error {
	return e.inner.Remove(ctx, id)
}
func (e erroringEngine) RemoveMany(ctx context.Context, ids []entity.Identifier) error {
	return e.inner.RemoveMany(ctx, ids)
}
func (e erroringEngine) RemoveAll(ctx context.Context, q query.Query) error {
	return e.inner.RemoveAll(ctx, q)
}

func u64(v uint64) *UpdateTime { return &v }

func TestGetLocalDispatchesToLocalOnly(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	id := entity.Local("1")
	e := entity.New(id, "post")
	_, _ = local.Set(context.Background(), e)

	got, found, err := m.Get(context.Background(), id, Local(), nil, store.DoNotPersist(), nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.ID.Equal(id))
}

func TestGetRemotePersistsLocallyAndRaisesEvents(t *testing.T) {
	local := memstore.New()
	remote := memstore.New()
	m := New(store.NewStack(
		store.Member{Engine: local, Level: store.Local},
		store.Member{Engine: remote, Level: store.Remote},
	))
	defer m.Close()

	id := entity.Local("1")
	e := entity.New(id, "post")
	e.Fields["title"] = "from remote"
	_, _ = remote.Set(context.Background(), e)

	var received query.Result
	done := make(chan struct{}, 1)
	m.Subscribe(query.ByID(id), nil, func(r query.Result) {
		received = r
		done <- struct{}{}
	})

	got, found, err := m.Get(context.Background(), id, Remote(), u64(1), store.Persist(store.DiscardExtraLocal), nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from remote", got.Fields["title"])

	<-done
	require.Len(t, received.Entities, 1)
	assert.Equal(t, "from remote", received.Entities[0].Fields["title"])

	localGot, found, err := local.Get(context.Background(), query.ByID(id))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from remote", localGot.Fields["title"])
}

func TestGetRemoteOrLocalFallsBackOnFallbackEligibleError(t *testing.T) {
	local := memstore.New()
	id := entity.Local("1")
	e := entity.New(id, "post")
	e.Fields["title"] = "cached locally"
	_, _ = local.Set(context.Background(), e)

	remote := erroringEngine{err: coreerr.Network(coreerr.NetConnectionLost, assertErr())}
	m := New(store.NewStack(
		store.Member{Engine: local, Level: store.Local},
		store.Member{Engine: remote, Level: store.Remote},
	))
	defer m.Close()

	got, found, err := m.Get(context.Background(), id, RemoteOrLocal(), u64(1), store.DoNotPersist(), nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cached locally", got.Fields["title"])
}

func TestSetRejectsStaleUpdateTimeAndReturnsCurrentValue(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	id := entity.Local("1")
	first := entity.New(id, "post")
	first.Fields["v"] = "first"
	got, err := m.Set(context.Background(), first, store.WriteLocal, u64(10), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Fields["v"])

	stale := entity.New(id, "post")
	stale.Fields["v"] = "stale"
	got, err = m.Set(context.Background(), stale, store.WriteLocal, u64(5), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Fields["v"], "rejected set must return currently stored value")
}

func TestSetNilUpdateTimeIsAlwaysSuperseded(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	id := entity.Local("1")
	e := entity.New(id, "post")
	got, err := m.Set(context.Background(), e, store.WriteLocal, nil, nil)
	require.NoError(t, err)
	_, found, _ := local.Get(context.Background(), query.ByID(id))
	assert.False(t, found)
	assert.Equal(t, entity.Entity{}, got)
}

func TestSetBypassAlwaysApplies(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	id := entity.Local("1")
	first := entity.New(id, "post")
	first.Fields["v"] = "first"
	_, err := m.Set(context.Background(), first, store.WriteLocal, u64(100), nil)
	require.NoError(t, err)

	bypass := Bypass
	overwrite := entity.New(id, "post")
	overwrite.Fields["v"] = "overwritten"
	got, err := m.Set(context.Background(), overwrite, store.WriteLocal, &bypass, nil)
	require.NoError(t, err)
	assert.Equal(t, "overwritten", got.Fields["v"])
}

func TestRemoveFiresDeleteEvents(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	id := entity.Local("1")
	e := entity.New(id, "post")

	var sawDelete bool
	done := make(chan struct{}, 1)
	m.Subscribe(query.ByID(id), nil, func(r query.Result) {
		sawDelete = len(r.Entities) == 0
		done <- struct{}{}
	})

	// Delete events only reach listeners whose value holds the removed
	// identifier, so the set's update event must populate it first.
	_, err := m.Set(context.Background(), e, store.WriteLocal, u64(1), nil)
	require.NoError(t, err)
	<-done
	require.False(t, sawDelete)

	require.NoError(t, m.Remove(context.Background(), id, store.WriteLocal, u64(2), nil))
	<-done
	assert.True(t, sawDelete)
}

func TestSearchDiscardExtraLocalRemovesStaleEntries(t *testing.T) {
	local := memstore.New()
	remote := memstore.New()
	ctx := context.Background()

	// Synced (Remote identifier), absent from the remote result: stale,
	// must be evicted.
	stale := entity.New(entity.Remote("stale", "", false), "post")
	_, _ = local.Set(ctx, stale)

	// Not yet synced (Local-only identifier), absent from the remote
	// result because it was never pushed: a pending write, must survive.
	pending := entity.New(entity.Local("pending"), "post")
	_, _ = local.Set(ctx, pending)

	fresh := entity.New(entity.Remote("fresh", "", false), "post")
	_, _ = remote.Set(ctx, fresh)

	m := New(store.NewStack(
		store.Member{Engine: local, Level: store.Local},
		store.Member{Engine: remote, Level: store.Remote},
	))
	defer m.Close()

	result, err := m.Search(ctx, query.Query{EntityType: "post"}, Remote(), u64(1), store.Persist(store.DiscardExtraLocal), nil)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)

	localResult, err := local.Search(ctx, query.Query{EntityType: "post"})
	require.NoError(t, err)
	// stale is evicted, pending survives, fresh is persisted locally.
	require.Len(t, localResult.Entities, 2)
	ids := []string{localResult.Entities[0].ID.String(), localResult.Entities[1].ID.String()}
	assert.ElementsMatch(t, []string{"L:pending", "R:fresh"}, ids)
}

func TestAccessValidatorDivergenceInvalidatesResult(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	calls := 0
	validator := func() AccessLevel {
		calls++
		if calls == 1 {
			return AccessLocal
		}
		return AccessNone // access revoked mid-operation
	}

	_, _, err := m.Get(context.Background(), entity.Local("1"), Local(), nil, store.DoNotPersist(), validator)
	assert.ErrorIs(t, err, coreerr.ErrAccessInvalid)
}

func TestAccessValidatorDeniesUpfront(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	validator := func() AccessLevel { return AccessNone }
	_, _, err := m.Get(context.Background(), entity.Local("1"), Local(), nil, store.DoNotPersist(), validator)
	assert.ErrorIs(t, err, coreerr.ErrAccessInvalid)
}

func TestRaiseUpdateEventsBranch2MergesAndSubtractsByFilter(t *testing.T) {
	local := memstore.New()
	m := New(store.NewStack(store.Member{Engine: local, Level: store.Local}))
	defer m.Close()

	var received query.Result
	done := make(chan struct{}, 1)
	listenerQuery := query.Query{Filter: filterPtr(query.Eq("status", "published"))}
	m.Subscribe(listenerQuery, nil, func(r query.Result) {
		received = r
		done <- struct{}{}
	})

	published := entity.New(entity.Local("1"), "post")
	published.Fields["status"] = "published"
	draft := entity.New(entity.Local("2"), "post")
	draft.Fields["status"] = "draft"

	// The performed query carries a filter of its own, so it is neither
	// the listener's query nor match-all, which selects branch 2.
	performed := query.Query{EntityType: "post", Filter: filterPtr(query.Eq("type", "post"))}
	m.raiseUpdateEvents(performed, []entity.Entity{published, draft}, true)
	<-done

	require.Len(t, received.Entities, 1)
	assert.Equal(t, "1", mustLocalValue(t, received.Entities[0].ID))
}

func filterPtr(f query.Filter) *query.Filter { return &f }

func mustLocalValue(t *testing.T, id entity.Identifier) string {
	t.Helper()
	v, ok := id.LocalValue()
	require.True(t, ok)
	return v
}

func assertErr() error { return context.DeadlineExceeded }
