package manager

import (
	"context"

	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// Set applies the §4.9 causal filter and, if the write is accepted,
// writes through the stack. A rejected write silently returns the
// currently-stored value instead of e.
func (m *Manager) Set(ctx context.Context, e entity.Entity, wc store.WriteContext, ut *UpdateTime, validator AccessValidator) (entity.Entity, error) {
	return checkAccess(validator, requiredAccessForWrite(wc), entity.Entity{}, func() (entity.Entity, error) {
		return m.doSet(ctx, e, wc, ut)
	})
}

func (m *Manager) doSet(ctx context.Context, e entity.Entity, wc store.WriteContext, ut *UpdateTime) (entity.Entity, error) {
	var applied bool
	m.opExec.do(func() {
		applied = m.causalApply(e.ID, ut)
	})
	if !applied {
		current, _, err := m.localGet(ctx, e.ID)
		if err != nil {
			return entity.Entity{}, err
		}
		return current.Entity, nil
	}

	if err := m.writeThrough(ctx, e, wc); err != nil {
		return entity.Entity{}, err
	}
	return e, nil
}

// SetMany applies the causal filter per identifier, writing through
// only the subset that is accepted. Rejected entities are silently
// dropped from the written set; the original slice is still returned
// to the caller.
func (m *Manager) SetMany(ctx context.Context, entities []entity.Entity, wc store.WriteContext, ut *UpdateTime, validator AccessValidator) ([]entity.Entity, error) {
	return checkAccess(validator, requiredAccessForWrite(wc), []entity.Entity(nil), func() ([]entity.Entity, error) {
		return m.doSetMany(ctx, entities, wc, ut)
	})
}

func (m *Manager) doSetMany(ctx context.Context, entities []entity.Entity, wc store.WriteContext, ut *UpdateTime) ([]entity.Entity, error) {
	var toWrite []entity.Entity
	m.opExec.do(func() {
		for _, e := range entities {
			if m.causalApply(e.ID, ut) {
				toWrite = append(toWrite, e)
			}
		}
	})
	if len(toWrite) == 0 {
		return entities, nil
	}

	for _, e := range toWrite {
		if err := m.writeThrough(ctx, e, wc); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// writeThrough applies §4.7's write-context semantics. For
// LocalAndRemote, the local write runs first and fires its own update
// event before the (possibly slower) remote write resolves and fires
// its own, so observers can react to locally-committed data while the
// remote call is still in flight.
func (m *Manager) writeThrough(ctx context.Context, e entity.Entity, wc store.WriteContext) error {
	switch wc {
	case store.WriteLocal:
		for _, eng := range m.stack.Local() {
			if _, err := eng.Set(ctx, e); err != nil {
				return err
			}
		}
		m.raiseUpdateEvents(query.ByID(e.ID), []entity.Entity{e}, true)
		return nil

	case store.WriteRemote:
		for _, eng := range m.stack.Remote() {
			if _, err := eng.Set(ctx, e); err != nil {
				return err
			}
		}
		m.raiseUpdateEvents(query.ByID(e.ID), []entity.Entity{e}, true)
		return nil

	default: // WriteLocalAndRemote
		for _, eng := range m.stack.Local() {
			if _, err := eng.Set(ctx, e); err != nil {
				return err
			}
		}
		m.raiseUpdateEvents(query.ByID(e.ID), []entity.Entity{e}, true)

		for _, eng := range m.stack.Remote() {
			if _, err := eng.Set(ctx, e); err != nil {
				return err
			}
		}
		m.raiseUpdateEvents(query.ByID(e.ID), []entity.Entity{e}, true)
		return nil
	}
}

// Remove applies the causal filter and, on acceptance, removes e
// through the stack and fires delete events.
func (m *Manager) Remove(ctx context.Context, id entity.Identifier, wc store.WriteContext, ut *UpdateTime, validator AccessValidator) error {
	_, err := checkAccess(validator, requiredAccessForWrite(wc), struct{}{}, func() (struct{}, error) {
		return struct{}{}, m.doRemove(ctx, id, wc, ut)
	})
	return err
}

func (m *Manager) doRemove(ctx context.Context, id entity.Identifier, wc store.WriteContext, ut *UpdateTime) error {
	var applied bool
	m.opExec.do(func() {
		applied = m.causalApply(id, ut)
	})
	if !applied {
		return nil
	}

	engines := m.stack.SelectWrite(wc)
	for _, eng := range engines {
		if err := eng.Remove(ctx, id); err != nil {
			return err
		}
	}
	m.raiseDeleteEvents([]entity.Identifier{id})
	return nil
}

func requiredAccessForWrite(wc store.WriteContext) AccessLevel {
	if wc == store.WriteLocal {
		return AccessLocal
	}
	return AccessRemote
}
