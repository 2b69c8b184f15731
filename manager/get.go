package manager

import (
	"context"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

type getResult struct {
	Entity entity.Entity
	Found  bool
}

// Get implements §4.9's Get dispatch. ut is the caller-supplied origin
// timestamp (or nil, which always loses the causal check) used to gate
// whether a remote result is allowed to overwrite local persistence.
func (m *Manager) Get(ctx context.Context, id entity.Identifier, rc ReadContext, ut *UpdateTime, persist store.PersistenceStrategy, validator AccessValidator) (entity.Entity, bool, error) {
	result, err := checkAccess(validator, rc.RequiredAccess(), getResult{}, func() (getResult, error) {
		return m.dispatchGet(ctx, id, rc, ut, persist)
	})
	return result.Entity, result.Found, err
}

func (m *Manager) dispatchGet(ctx context.Context, id entity.Identifier, rc ReadContext, ut *UpdateTime, persist store.PersistenceStrategy) (getResult, error) {
	switch rc.kind {
	case kindLocal:
		return m.localGet(ctx, id)

	case kindRemote, kindRemoteOrLocal:
		return m.remoteGet(ctx, id, rc, ut, persist)

	case kindLocalThen:
		local, err := m.localGet(ctx, id)
		go func() {
			_, _ = m.remoteGet(context.Background(), id, *rc.remote, ut, persist)
		}()
		return local, err

	case kindLocalOr:
		local, err := m.localGet(ctx, id)
		if err != nil || local.Found {
			return local, err
		}
		remote, err := m.remoteGet(ctx, id, *rc.remote, ut, persist)
		if err != nil {
			if coreerr.IsFallbackEligible(err) {
				return getResult{}, nil
			}
			return getResult{}, err
		}
		return remote, nil

	default:
		return getResult{}, coreerr.Logical("manager: unknown read context")
	}
}

func (m *Manager) localGet(ctx context.Context, id entity.Identifier) (getResult, error) {
	for _, eng := range m.stack.Local() {
		e, found, err := eng.Get(ctx, query.ByID(id))
		if err != nil {
			if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.KindNotSupported {
				continue
			}
			return getResult{}, err
		}
		return getResult{Entity: e, Found: found}, nil
	}
	return getResult{}, nil
}

func (m *Manager) remoteGet(ctx context.Context, id entity.Identifier, rc ReadContext, ut *UpdateTime, persist store.PersistenceStrategy) (getResult, error) {
	engines := m.stack.Remote()
	if len(engines) == 0 {
		return getResult{}, coreerr.ErrNotSupported
	}

	var lastErr error
	for _, eng := range engines {
		e, found, err := eng.Get(ctx, query.ByID(id))
		if err != nil {
			lastErr = err
			if rc.kind == kindRemoteOrLocal && coreerr.IsFallbackEligible(err) {
				return m.localGet(ctx, id)
			}
			continue
		}

		m.persistAndEmitGet(ctx, id, e, found, ut, persist)
		return getResult{Entity: e, Found: found}, nil
	}
	return getResult{}, lastErr
}

func (m *Manager) persistAndEmitGet(ctx context.Context, id entity.Identifier, e entity.Entity, found bool, ut *UpdateTime, persist store.PersistenceStrategy) {
	var applied bool
	m.opExec.do(func() {
		applied = m.causalApply(id, ut)
	})
	if !applied {
		return
	}

	if persist.Persist {
		for _, local := range m.stack.Local() {
			if found {
				_, _ = local.Set(ctx, e)
			} else {
				_ = local.Remove(ctx, id)
			}
		}
	}

	performed := query.ByID(id)
	if found {
		m.raiseUpdateEvents(performed, []entity.Entity{e}, true)
	} else {
		m.raiseDeleteEvents([]entity.Identifier{id})
	}
}
