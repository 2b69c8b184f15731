// Package store is C7: the store engine interface (§6) and the Stack
// that a manager consults to pick which engines answer a given read or
// write. Concrete engines (sqlstore, docstore, memstore, cachestore) live
// in subpackages grounded on the teacher's db/ client setup code, next to
// pglisten, a Postgres change-notification listener that is not an Engine.
package store

import (
	"context"

	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
)

// Level distinguishes a device-local store from a network-remote one.
// Within a level, members are consulted in the order they were added
// to the Stack (the §6 "ascending level" ordering collapses to
// insertion order once Local/Remote is fixed).
type Level int

const (
	Local Level = iota
	Remote
)

func (l Level) String() string {
	if l == Remote {
		return "remote"
	}
	return "local"
}

// Engine is the §6 store engine interface. Every method may return an
// error of kind coreerr.KindNotSupported (such as coreerr.ErrNotSupported)
// when the engine has no meaningful answer for the operation, e.g. a
// write-only cache asked to Search, or a remote API with no batch
// write endpoint asked for SetMany.
type Engine interface {
	// Get resolves a single entity by q.ID. q.ID must be set.
	Get(ctx context.Context, q query.Query) (entity.Entity, bool, error)
	// Search resolves a filtered/ordered/paginated/grouped result set.
	Search(ctx context.Context, q query.Query) (query.Result, error)
	Set(ctx context.Context, e entity.Entity) (entity.Entity, error)
	SetMany(ctx context.Context, entities []entity.Entity) ([]entity.Entity, error)
	Remove(ctx context.Context, id entity.Identifier) error
	RemoveMany(ctx context.Context, ids []entity.Identifier) error
	RemoveAll(ctx context.Context, q query.Query) error
}

// Member pairs an Engine with the Level it answers for.
type Member struct {
	Engine Engine
	Level  Level
}

// ReadContext is the §4.7 read-dispatch discriminant a Stack
// understands directly. LocalThen and LocalOr are two-phase strategies
// (try local, then maybe remote) that need knowledge of freshness and
// staleness policy the Stack does not have; the manager implements
// those itself by calling Local() and Remote() directly.
type ReadContext int

const (
	ReadLocal ReadContext = iota
	ReadRemote
	ReadRemoteOrLocal
)

// WriteContext is the §4.7 write-dispatch discriminant.
type WriteContext int

const (
	WriteRemote WriteContext = iota
	WriteLocalAndRemote
	WriteLocal
)

// Stack is an ordered collection of store engines a manager dispatches
// reads and writes through.
type Stack struct {
	members []Member
}

// NewStack builds a Stack from its members, preserving the given order
// within each Level.
func NewStack(members ...Member) *Stack {
	return &Stack{members: append([]Member(nil), members...)}
}

// Local returns the stack's local-level engines in insertion order.
func (s *Stack) Local() []Engine { return s.byLevel(Local) }

// Remote returns the stack's remote-level engines in insertion order.
func (s *Stack) Remote() []Engine { return s.byLevel(Remote) }

func (s *Stack) byLevel(level Level) []Engine {
	var out []Engine
	for _, m := range s.members {
		if m.Level == level {
			out = append(out, m.Engine)
		}
	}
	return out
}

// SelectRead resolves a ReadContext to the engines a manager should
// consult, in the order they should be tried. RemoteOrLocal returns the
// remote engines; the manager falls back to Local() itself when the
// remote attempt fails with a coreerr.IsFallbackEligible error.
func (s *Stack) SelectRead(ctx ReadContext) []Engine {
	switch ctx {
	case ReadLocal:
		return s.Local()
	case ReadRemote, ReadRemoteOrLocal:
		return s.Remote()
	default:
		return nil
	}
}

// SelectWrite resolves a WriteContext to the engines a manager should
// write through, in the order the write should be applied.
func (s *Stack) SelectWrite(ctx WriteContext) []Engine {
	switch ctx {
	case WriteRemote:
		return s.Remote()
	case WriteLocal:
		return s.Local()
	case WriteLocalAndRemote:
		out := append([]Engine{}, s.Remote()...)
		return append(out, s.Local()...)
	default:
		return nil
	}
}

// PersistDelta controls what a manager does with locally-held entities
// that a write did not touch (§4.7's persistence strategy).
type PersistDelta int

const (
	// DiscardExtraLocal removes local entities absent from the write's
	// result set (the write is authoritative for the whole collection).
	DiscardExtraLocal PersistDelta = iota
	// RetainExtraLocal keeps local entities the write did not mention.
	RetainExtraLocal
)

// PersistenceStrategy is the §4.7 write-persistence decision: whether
// to persist the written result locally at all, and if so, how to
// reconcile it against what is already stored.
type PersistenceStrategy struct {
	Persist bool
	Delta   PersistDelta
}

func Persist(delta PersistDelta) PersistenceStrategy {
	return PersistenceStrategy{Persist: true, Delta: delta}
}

func DoNotPersist() PersistenceStrategy { return PersistenceStrategy{} }
