package manager

import (
	"context"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// Search implements §4.9's Search dispatch, reusing Get's
// Local/Remote/RemoteOrLocal/LocalThen/LocalOr resolution. On a
// persisted remote success the local store is reconciled against
// persist.Delta: DiscardExtraLocal removes local entities of the same
// EntityType that are marked synced (IsRemote) and absent from the
// remote result; a Local-only identifier is never evicted this way,
// since it represents a write pending sync rather than stale cache.
// RetainExtraLocal leaves everything untouched.
func (m *Manager) Search(ctx context.Context, q query.Query, rc ReadContext, ut *UpdateTime, persist store.PersistenceStrategy, validator AccessValidator) (query.Result, error) {
	return checkAccess(validator, rc.RequiredAccess(), query.Result{}, func() (query.Result, error) {
		return m.dispatchSearch(ctx, q, rc, ut, persist)
	})
}

func (m *Manager) dispatchSearch(ctx context.Context, q query.Query, rc ReadContext, ut *UpdateTime, persist store.PersistenceStrategy) (query.Result, error) {
	switch rc.kind {
	case kindLocal:
		return m.localSearch(ctx, q)

	case kindRemote, kindRemoteOrLocal:
		return m.remoteSearch(ctx, q, rc, ut, persist)

	case kindLocalThen:
		local, err := m.localSearch(ctx, q)
		go func() {
			_, _ = m.remoteSearch(context.Background(), q, *rc.remote, ut, persist)
		}()
		return local, err

	case kindLocalOr:
		local, err := m.localSearch(ctx, q)
		if err != nil || len(local.Entities) > 0 {
			return local, err
		}
		remote, err := m.remoteSearch(ctx, q, *rc.remote, ut, persist)
		if err != nil {
			if coreerr.IsFallbackEligible(err) {
				return query.Result{}, nil
			}
			return query.Result{}, err
		}
		return remote, nil

	default:
		return query.Result{}, coreerr.Logical("manager: unknown read context")
	}
}

func (m *Manager) localSearch(ctx context.Context, q query.Query) (query.Result, error) {
	for _, eng := range m.stack.Local() {
		result, err := eng.Search(ctx, q)
		if err != nil {
			if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.KindNotSupported {
				continue
			}
			return query.Result{}, err
		}
		return result, nil
	}
	return query.Result{}, nil
}

func (m *Manager) remoteSearch(ctx context.Context, q query.Query, rc ReadContext, ut *UpdateTime, persist store.PersistenceStrategy) (query.Result, error) {
	engines := m.stack.Remote()
	if len(engines) == 0 {
		return query.Result{}, coreerr.ErrNotSupported
	}

	var lastErr error
	for _, eng := range engines {
		result, err := eng.Search(ctx, q)
		if err != nil {
			lastErr = err
			if rc.kind == kindRemoteOrLocal && coreerr.IsFallbackEligible(err) {
				return m.localSearch(ctx, q)
			}
			continue
		}

		m.persistAndEmitSearch(ctx, q, result.Entities, ut, persist)
		return result, nil
	}
	return query.Result{}, lastErr
}

func (m *Manager) persistAndEmitSearch(ctx context.Context, q query.Query, results []entity.Entity, ut *UpdateTime, persist store.PersistenceStrategy) {
	if persist.Persist {
		if persist.Delta == store.DiscardExtraLocal && q.EntityType != "" {
			m.discardExtraLocal(ctx, q, results)
		}
		for _, e := range results {
			var applied bool
			m.opExec.do(func() {
				applied = m.causalApply(e.ID, ut)
			})
			if !applied {
				continue
			}
			for _, local := range m.stack.Local() {
				_, _ = local.Set(ctx, e)
			}
		}
	}

	m.raiseUpdateEvents(q, results, true)
}

func (m *Manager) discardExtraLocal(ctx context.Context, q query.Query, remoteResults []entity.Entity) {
	present := make(map[string]struct{}, len(remoteResults))
	for _, e := range remoteResults {
		present[e.ID.String()] = struct{}{}
	}

	existing, err := m.localSearch(ctx, query.Query{EntityType: q.EntityType})
	if err != nil {
		return
	}

	var extinct []entity.Identifier
	for _, e := range existing.Entities {
		if !e.ID.IsRemote() {
			// Not yet synced to the server: never evict on the
			// strength of a remote result alone.
			continue
		}
		if _, ok := present[e.ID.String()]; !ok {
			extinct = append(extinct, e.ID)
		}
	}
	if len(extinct) == 0 {
		return
	}
	for _, local := range m.stack.Local() {
		_ = local.RemoveMany(ctx, extinct)
	}
	m.raiseDeleteEvents(extinct)
}
