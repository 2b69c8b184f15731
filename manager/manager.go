// Package manager is C9: the per-entity-type core that owns a store
// stack, a per-identifier causal clock, and the active listener
// registry that continuous streams subscribe through. Mutating
// operations and event raising each run on their own serial task
// queue (§4.9), the same actor shape as dedup.Deduplicator and
// corequeue's queues — grounded on worker/pool.go.
package manager

import (
	"math"
	"reflect"

	"github.com/google/uuid"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// UpdateTime is the causal-ordering timestamp carried by every read
// that crosses into local persistence and every write (§4.9). Bypass
// skips the monotonicity check entirely; a nil *UpdateTime passed to
// an operation is always superseded.
type UpdateTime = uint64

// Bypass is the sentinel UpdateTime that always applies regardless of
// what is currently stored for the identifier.
const Bypass UpdateTime = math.MaxUint64

// AccessLevel is the §4.9 authorization level a caller-supplied
// validator reports.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessLocal
	AccessRemote
)

// Allows reports whether this level satisfies an operation that needs
// at least `required`.
func (a AccessLevel) Allows(required AccessLevel) bool { return a >= required }

// AccessValidator reports the caller's current access level; it is
// invoked both before and after an operation so the manager can detect
// a level that changed mid-flight (§4.9 Authorization).
type AccessValidator func() AccessLevel

// ReadContext is the §4.9 Get/Search dispatch discriminant. LocalThen
// and LocalOr carry the read context used for their remote phase; that
// nested context must itself be Local, Remote, or RemoteOrLocal (it is
// never itself LocalThen/LocalOr).
type ReadContext struct {
	kind   readKind
	remote *ReadContext
}

type readKind int

const (
	kindLocal readKind = iota
	kindRemote
	kindRemoteOrLocal
	kindLocalThen
	kindLocalOr
)

func Local() ReadContext          { return ReadContext{kind: kindLocal} }
func Remote() ReadContext         { return ReadContext{kind: kindRemote} }
func RemoteOrLocal() ReadContext  { return ReadContext{kind: kindRemoteOrLocal} }
func LocalThen(remote ReadContext) ReadContext {
	return ReadContext{kind: kindLocalThen, remote: &remote}
}
func LocalOr(remote ReadContext) ReadContext {
	return ReadContext{kind: kindLocalOr, remote: &remote}
}

// RequiredAccess is the minimum AccessLevel a validator must report for
// this read context to be authorized.
func (c ReadContext) RequiredAccess() AccessLevel {
	if c.kind == kindLocal {
		return AccessLocal
	}
	return AccessRemote
}

// Demoted returns the read context a continuous consumer should use for
// every emission after the first (§4.10 step 7): a context that goes
// remote unconditionally is demoted to LocalOr(remote) so a long-lived
// stream doesn't refetch the whole graph remotely on every update. A
// context that already prefers local is returned unchanged.
func (c ReadContext) Demoted() ReadContext {
	switch c.kind {
	case kindRemote, kindRemoteOrLocal:
		return LocalOr(c)
	default:
		return c
	}
}

// ListenerEntry is one active subscription: the query it was
// established with, the last value it was handed, and the sink/
// validator pair raiseEvents consults on every update.
type ListenerEntry struct {
	ID        uuid.UUID
	Query     query.Query
	Value     []entity.Entity
	Sink      func(query.Result)
	Validator AccessValidator
}

// serialExecutor is the actor primitive backing the manager's two
// task queues (op queue, event queue). Duplicated from corequeue's own
// unexported type of the same shape (worker/pool.go-grounded); manager
// and corequeue have no other reason to import one another.
type serialExecutor struct {
	tasks chan func()
	stop  chan struct{}
}

func newSerialExecutor() *serialExecutor {
	e := &serialExecutor{tasks: make(chan func(), 64), stop: make(chan struct{})}
	go e.run()
	return e
}

func (e *serialExecutor) run() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.stop:
			return
		}
	}
}

func (e *serialExecutor) do(fn func()) {
	done := make(chan struct{})
	e.tasks <- func() { fn(); close(done) }
	<-done
}

func (e *serialExecutor) close() { close(e.stop) }

// Manager is C9's per-entity-type core.
type Manager struct {
	stack *store.Stack

	opExec    *serialExecutor
	eventExec *serialExecutor

	updatedAt map[string]uint64
	listeners map[uuid.UUID]*ListenerEntry
}

func New(stack *store.Stack) *Manager {
	return &Manager{
		stack:     stack,
		opExec:    newSerialExecutor(),
		eventExec: newSerialExecutor(),
		updatedAt: make(map[string]uint64),
		listeners: make(map[uuid.UUID]*ListenerEntry),
	}
}

func (m *Manager) Close() {
	m.opExec.close()
	m.eventExec.close()
}

// Subscribe registers a continuous listener for q. sink is invoked
// (from the event queue) with the listener's new value after every
// update event, whether or not the value changed, and after every
// delete event that removed an entity from it; no call is made while
// validator reports AccessNone.
func (m *Manager) Subscribe(q query.Query, validator AccessValidator, sink func(query.Result)) uuid.UUID {
	id := uuid.New()
	m.opExec.do(func() {
		m.listeners[id] = &ListenerEntry{ID: id, Query: q, Sink: sink, Validator: validator}
	})
	return id
}

func (m *Manager) Unsubscribe(id uuid.UUID) {
	m.opExec.do(func() {
		delete(m.listeners, id)
	})
}

// causalApply reports whether an operation carrying ut for id should be
// applied, recording it as the new high-water mark when it is. Must
// only be called from inside m.opExec.
func (m *Manager) causalApply(id entity.Identifier, ut *UpdateTime) bool {
	if ut == nil {
		return false
	}
	key := id.String()
	if *ut == Bypass {
		m.updatedAt[key] = *ut
		return true
	}
	if stored, ok := m.updatedAt[key]; ok && *ut <= stored {
		return false
	}
	m.updatedAt[key] = *ut
	return true
}

// checkAccess wraps an operation with the §4.9 authorization rule: the
// validator is consulted before and after the operation runs, and any
// divergence (or a currently-denying level) replaces the result with
// coreerr.ErrAccessInvalid.
func checkAccess[T any](validator AccessValidator, required AccessLevel, zero T, fn func() (T, error)) (T, error) {
	if validator == nil {
		return fn()
	}
	before := validator()
	if !before.Allows(required) {
		return zero, coreerr.ErrAccessInvalid
	}
	result, err := fn()
	after := validator()
	if after != before || !after.Allows(required) {
		return zero, coreerr.ErrAccessInvalid
	}
	return result, err
}

func equalQuery(a, b query.Query) bool { return reflect.DeepEqual(a, b) }

// replaceByIdentifierMerge merges incoming into prev: entities sharing
// an identifier with prev are replaced in place; new identifiers are
// appended. Order of prev is otherwise preserved.
func replaceByIdentifierMerge(prev, incoming []entity.Entity) []entity.Entity {
	byKey := make(map[string]entity.Entity, len(incoming))
	for _, e := range incoming {
		byKey[e.ID.String()] = e
	}
	out := make([]entity.Entity, 0, len(prev)+len(incoming))
	seen := make(map[string]struct{}, len(prev))
	for _, e := range prev {
		key := e.ID.String()
		seen[key] = struct{}{}
		if replacement, ok := byKey[key]; ok {
			out = append(out, replacement)
		} else {
			out = append(out, e)
		}
	}
	for _, e := range incoming {
		if _, ok := seen[e.ID.String()]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func removeByIdentifiers(entities []entity.Entity, ids map[string]struct{}) []entity.Entity {
	out := make([]entity.Entity, 0, len(entities))
	for _, e := range entities {
		if _, drop := ids[e.ID.String()]; !drop {
			out = append(out, e)
		}
	}
	return out
}

func reorderIfDeterministic(entities []entity.Entity, order query.Order) []entity.Entity {
	if !order.Deterministic() {
		return entities
	}
	return query.Materialize(entities, query.Query{Order: order}).Entities
}
