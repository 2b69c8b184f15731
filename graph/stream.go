package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/manager"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// Sink receives a rebuilt graph (or a build error) for each emission of
// a Stream.
type Sink func(*Graph, error)

// Stream implements §4.10 step 7: the once-result is built synchronously
// under rc, then every subsequent emission of the root query's listener
// rebuilds the graph under rc.Demoted() so a long-lived subscription
// never drives unbounded remote refetches. The returned UUID is the
// manager listener id; pass it to m.Unsubscribe to terminate the stream.
func Stream(ctx context.Context, m *manager.Manager, rootQuery query.Query, spec *Spec, fetchers map[entity.IndexName]Fetcher, rc manager.ReadContext, validator manager.AccessValidator, c *Controller, sink Sink) (uuid.UUID, error) {
	build := func(roots []entity.Entity, metadata interface{}, buildRC manager.ReadContext) {
		g, err := c.Build(ctx, roots, spec, fetchers, buildRC, metadata)
		sink(g, err)
	}

	once, err := m.Search(ctx, rootQuery, rc, nil, store.DoNotPersist(), validator)
	if err != nil {
		return uuid.UUID{}, err
	}
	build(once.Entities, once.Metadata, rc)

	demoted := rc.Demoted()
	id := m.Subscribe(rootQuery, validator, func(r query.Result) {
		build(r.Entities, r.Metadata, demoted)
	})
	return id, nil
}
