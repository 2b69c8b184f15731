package manager

import (
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
)

// raiseUpdateEvents implements §4.9's 3-branch merge rule for every
// active listener, given the query that was actually performed, the
// entities it returned, and whether that result set is the complete
// authoritative set (as opposed to a partial delta).
func (m *Manager) raiseUpdateEvents(performed query.Query, results []entity.Entity, returnsComplete bool) {
	m.eventExec.do(func() {
		for _, l := range m.listeners {
			m.raiseOne(l, performed, results, returnsComplete)
		}
	})
}

func (m *Manager) raiseOne(l *ListenerEntry, performed query.Query, results []entity.Entity, returnsComplete bool) {
	var merged []entity.Entity

	switch {
	case equalQuery(l.Query, performed) || performed.MatchesAll():
		if returnsComplete {
			merged = append([]entity.Entity(nil), results...)
		} else {
			merged = replaceByIdentifierMerge(l.Value, results)
		}
	case l.Query.Filter != nil:
		matching := make([]entity.Entity, 0, len(results))
		failing := make(map[string]struct{}, len(results))
		for _, e := range results {
			if l.Query.Filter.Evaluate(e) {
				matching = append(matching, e)
			} else {
				failing[e.ID.String()] = struct{}{}
			}
		}
		merged = replaceByIdentifierMerge(l.Value, matching)
		merged = removeByIdentifiers(merged, failing)
	default:
		merged = replaceByIdentifierMerge(l.Value, results)
	}

	merged = reorderIfDeterministic(merged, l.Query.Order)
	l.Value = merged
	m.emit(l, merged)
}

// raiseDeleteEvents notifies every listener whose current value
// contains one of the deleted identifiers, with that identifier
// filtered out. Listeners whose value is unaffected produce no
// emission (§4.9).
func (m *Manager) raiseDeleteEvents(deleted []entity.Identifier) {
	if len(deleted) == 0 {
		return
	}
	deadKeys := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		deadKeys[id.String()] = struct{}{}
	}

	m.eventExec.do(func() {
		for _, l := range m.listeners {
			changed := false
			for _, e := range l.Value {
				if _, dead := deadKeys[e.ID.String()]; dead {
					changed = true
					break
				}
			}
			if !changed {
				continue
			}
			l.Value = removeByIdentifiers(l.Value, deadKeys)
			m.emit(l, l.Value)
		}
	})
}

func (m *Manager) emit(l *ListenerEntry, value []entity.Entity) {
	if l.Validator != nil && l.Validator() == AccessNone {
		return
	}
	if l.Sink == nil {
		return
	}
	l.Sink(query.Result{Entities: value})
}
