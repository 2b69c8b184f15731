package corequeue

import (
	"encoding/json"
	"fmt"

	"github.com/evalgo/entitysync/corelog"
)

// KeyFunc maps a queued request to its deduplication key, per §4.4's
// "user-supplied function maps a request to a deduplication key".
type KeyFunc func(QueuedRequest) string

// AbortFunc is invoked by UniquingQueue when a request already in the
// queue is superseded and must be aborted through the processor (§4.6
// abort_request), never silently dropped.
type AbortFunc func(QueuedRequest)

// UniquingQueue is §4.4's uniquing shape: an ordering set of
// deduplication keys plus a key->request map, persisted under
// "<identifier>_ordering_<version>" and "<identifier>_values_<version>".
type UniquingQueue struct {
	store   DurableMap
	keyFn   KeyFunc
	abortFn AbortFunc
	exec    *serialExecutor

	orderingKey string
	valuePrefix string
}

// NewUniquingQueue wraps store under the given identifier namespace.
func NewUniquingQueue(store DurableMap, identifier string, keyFn KeyFunc, abortFn AbortFunc) (*UniquingQueue, error) {
	q := &UniquingQueue{
		store:       store,
		keyFn:       keyFn,
		abortFn:     abortFn,
		exec:        newSerialExecutor(),
		orderingKey: identifier + "_ordering" + schemaVersion,
		valuePrefix: identifier + "_values" + schemaVersion + ":",
	}
	if _, present, err := store.Get(q.orderingKey); err != nil {
		return nil, err
	} else if !present {
		if err := q.writeOrdering(nil); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *UniquingQueue) Close() { q.exec.close() }

func (q *UniquingQueue) valueKey(k string) string { return q.valuePrefix + k }

func (q *UniquingQueue) readOrdering() ([]string, error) {
	data, present, err := q.store.Get(q.orderingKey)
	if err != nil || !present {
		return nil, err
	}
	var ordering []string
	if err := json.Unmarshal(data, &ordering); err != nil {
		return nil, fmt.Errorf("corequeue: decode uniquing ordering: %w", err)
	}
	return ordering, nil
}

func (q *UniquingQueue) writeOrdering(ordering []string) error {
	data, err := json.Marshal(ordering)
	if err != nil {
		return fmt.Errorf("corequeue: encode uniquing ordering: %w", err)
	}
	return q.store.Set(q.orderingKey, data)
}

func (q *UniquingQueue) getValue(k string) (QueuedRequest, bool, error) {
	data, present, err := q.store.Get(q.valueKey(k))
	if err != nil || !present {
		return QueuedRequest{}, present, err
	}
	r, err := Decode(data)
	return r, true, err
}

func (q *UniquingQueue) setValue(k string, r QueuedRequest) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	return q.store.Set(q.valueKey(k), data)
}

// Append: k = uniq(r); if k exists, the existing request is aborted and
// overwritten; k then moves to (or is appended at) the tail of ordering.
func (q *UniquingQueue) Append(r QueuedRequest) error {
	var outErr error
	q.exec.do(func() {
		k := q.keyFn(r)
		if existing, present, err := q.getValue(k); err != nil {
			outErr = err
			return
		} else if present {
			if q.abortFn != nil {
				q.abortFn(existing)
			}
		}
		if outErr = q.setValue(k, r); outErr != nil {
			return
		}
		ordering, err := q.readOrdering()
		if err != nil {
			outErr = err
			return
		}
		ordering = moveToTail(ordering, k)
		outErr = q.writeOrdering(ordering)
	})
	return outErr
}

// Prepend adds r at the head only if its key is absent; otherwise r is
// aborted without queueing (a prepend is a reschedule, not an upsert).
func (q *UniquingQueue) Prepend(r QueuedRequest) error {
	var outErr error
	q.exec.do(func() {
		k := q.keyFn(r)
		if _, present, err := q.getValue(k); err != nil {
			outErr = err
			return
		} else if present {
			if q.abortFn != nil {
				q.abortFn(r)
			}
			return
		}
		if outErr = q.setValue(k, r); outErr != nil {
			return
		}
		ordering, err := q.readOrdering()
		if err != nil {
			outErr = err
			return
		}
		outErr = q.writeOrdering(append([]string{k}, ordering...))
	})
	return outErr
}

// PopFirst pops from ordering's head, fetching and deleting from
// values; a missing value is logged and skipped, not treated as an
// error.
func (q *UniquingQueue) PopFirst() (QueuedRequest, bool, error) {
	var result QueuedRequest
	var found bool
	var outErr error
	q.exec.do(func() {
		ordering, err := q.readOrdering()
		if err != nil {
			outErr = err
			return
		}
		for len(ordering) > 0 {
			k := ordering[0]
			ordering = ordering[1:]
			r, present, err := q.getValue(k)
			if err != nil {
				outErr = err
				return
			}
			if !present {
				corelog.Scoped("queue").Warnf("no value for uniquing key %q; skipping", k)
				continue
			}
			if err := q.store.Delete(q.valueKey(k)); err != nil {
				outErr = err
				return
			}
			result, found = r, true
			break
		}
		outErr = q.writeOrdering(ordering)
	})
	return result, found, outErr
}

// RemoveMatching removes every entry satisfying pred, returning removed
// entries in their original order.
func (q *UniquingQueue) RemoveMatching(pred func(QueuedRequest) bool) ([]QueuedRequest, error) {
	var removed []QueuedRequest
	var outErr error
	q.exec.do(func() {
		ordering, err := q.readOrdering()
		if err != nil {
			outErr = err
			return
		}
		kept := ordering[:0:0]
		for _, k := range ordering {
			r, present, err := q.getValue(k)
			if err != nil {
				outErr = err
				return
			}
			if !present {
				continue
			}
			if pred(r) {
				removed = append(removed, r)
				if err := q.store.Delete(q.valueKey(k)); err != nil {
					outErr = err
					return
				}
				continue
			}
			kept = append(kept, k)
		}
		if outErr != nil {
			return
		}
		outErr = q.writeOrdering(kept)
	})
	return removed, outErr
}

// Map atomically rebuilds both ordering and values by applying f to
// every request; since the transformed request's derived key may
// differ from its original, a key collision between two transformed
// entries is resolved last-write-wins in ordering-iteration order.
func (q *UniquingQueue) Map(f func(QueuedRequest) QueuedRequest) error {
	var outErr error
	q.exec.do(func() {
		ordering, err := q.readOrdering()
		if err != nil {
			outErr = err
			return
		}
		newOrdering := make([]string, 0, len(ordering))
		newValues := make(map[string]QueuedRequest, len(ordering))
		for _, k := range ordering {
			r, present, err := q.getValue(k)
			if err != nil {
				outErr = err
				return
			}
			if !present {
				continue
			}
			transformed := f(r)
			newKey := q.keyFn(transformed)
			if _, exists := newValues[newKey]; !exists {
				newOrdering = append(newOrdering, newKey)
			}
			newValues[newKey] = transformed
		}
		for _, k := range ordering {
			if outErr = q.store.Delete(q.valueKey(k)); outErr != nil {
				return
			}
		}
		for k, r := range newValues {
			if outErr = q.setValue(k, r); outErr != nil {
				return
			}
		}
		outErr = q.writeOrdering(newOrdering)
	})
	return outErr
}

func moveToTail(ordering []string, k string) []string {
	out := make([]string, 0, len(ordering)+1)
	for _, existing := range ordering {
		if existing != k {
			out = append(out, existing)
		}
	}
	return append(out, k)
}
