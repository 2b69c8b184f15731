package corequeue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/evalgo/entitysync/corelog"
)

const fifoOrderKey = "order" + schemaVersion

// FIFOQueue is §4.4's default shape: a single ordered durable list keyed
// by each request's token.
type FIFOQueue struct {
	store DurableMap
	exec  *serialExecutor
}

// NewFIFOQueue wraps store, ensuring an empty order list exists.
func NewFIFOQueue(store DurableMap) (*FIFOQueue, error) {
	q := &FIFOQueue{store: store, exec: newSerialExecutor()}
	if _, present, err := store.Get(fifoOrderKey); err != nil {
		return nil, err
	} else if !present {
		if err := q.writeOrder(nil); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Close stops the queue's serial executor.
func (q *FIFOQueue) Close() { q.exec.close() }

func (q *FIFOQueue) readOrder() ([]uuid.UUID, error) {
	data, present, err := q.store.Get(fifoOrderKey)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	var order []uuid.UUID
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("corequeue: decode fifo order: %w", err)
	}
	return order, nil
}

func (q *FIFOQueue) writeOrder(order []uuid.UUID) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("corequeue: encode fifo order: %w", err)
	}
	return q.store.Set(fifoOrderKey, data)
}

// Append adds r at the tail. Flushed to disk before returning, per the
// durability invariant.
func (q *FIFOQueue) Append(r QueuedRequest) error {
	var outErr error
	q.exec.do(func() {
		outErr = q.appendLocked(r)
	})
	return outErr
}

func (q *FIFOQueue) appendLocked(r QueuedRequest) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	if err := q.store.Set(entryKey(r.Token), data); err != nil {
		return err
	}
	order, err := q.readOrder()
	if err != nil {
		return err
	}
	order = append(order, r.Token)
	return q.writeOrder(order)
}

// Prepend adds r at the head.
func (q *FIFOQueue) Prepend(r QueuedRequest) error {
	var outErr error
	q.exec.do(func() {
		data, err := Encode(r)
		if err != nil {
			outErr = err
			return
		}
		if err := q.store.Set(entryKey(r.Token), data); err != nil {
			outErr = err
			return
		}
		order, err := q.readOrder()
		if err != nil {
			outErr = err
			return
		}
		order = append([]uuid.UUID{r.Token}, order...)
		outErr = q.writeOrder(order)
	})
	return outErr
}

// PopFirst pops the head, fetching and deleting its entry. A missing
// value for an ordering entry is logged and skipped (per §4.4), not
// treated as an error.
func (q *FIFOQueue) PopFirst() (QueuedRequest, bool, error) {
	var result QueuedRequest
	var found bool
	var outErr error
	q.exec.do(func() {
		order, err := q.readOrder()
		if err != nil {
			outErr = err
			return
		}
		for len(order) > 0 {
			token := order[0]
			order = order[1:]
			data, present, err := q.store.Get(entryKey(token))
			if err != nil {
				outErr = err
				return
			}
			if !present {
				// missing value: log-and-skip per §4.4
				corelog.Scoped("queue").Warnf("no entry for queued token %s; skipping", token)
				continue
			}
			r, err := Decode(data)
			if err != nil {
				outErr = err
				return
			}
			if err := q.store.Delete(entryKey(token)); err != nil {
				outErr = err
				return
			}
			result, found = r, true
			break
		}
		outErr = q.writeOrder(order)
	})
	return result, found, outErr
}

// RemoveMatching removes every entry satisfying pred, returning the
// removed entries in their original order.
func (q *FIFOQueue) RemoveMatching(pred func(QueuedRequest) bool) ([]QueuedRequest, error) {
	var removed []QueuedRequest
	var outErr error
	q.exec.do(func() {
		order, err := q.readOrder()
		if err != nil {
			outErr = err
			return
		}
		kept := order[:0:0]
		for _, token := range order {
			data, present, err := q.store.Get(entryKey(token))
			if err != nil {
				outErr = err
				return
			}
			if !present {
				continue
			}
			r, err := Decode(data)
			if err != nil {
				outErr = err
				return
			}
			if pred(r) {
				removed = append(removed, r)
				if err := q.store.Delete(entryKey(token)); err != nil {
					outErr = err
					return
				}
				continue
			}
			kept = append(kept, token)
		}
		if outErr != nil {
			return
		}
		outErr = q.writeOrder(kept)
	})
	return removed, outErr
}

// Recover reads all entries from an in-flight cache and prepends them
// back to the queue in their on-disk order, deleting each one after a
// successful prepend — the §4.6 startup recovery the processor performs
// when it gains a delegate.
func (q *FIFOQueue) Recover(inFlight DurableMap) error {
	keys, err := inFlight.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		data, present, err := inFlight.Get(k)
		if err != nil {
			return err
		}
		if !present {
			continue
		}
		r, err := Decode(data)
		if err != nil {
			return err
		}
		if err := q.Prepend(r); err != nil {
			return err
		}
		if err := inFlight.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
