// Package dedup is C2: single-flight fan-out for in-flight identical
// requests. Serialized by its own task queue (a single goroutine reading
// a command channel), in the actor style the teacher uses for its
// worker pool (worker/pool.go).
package dedup

import "github.com/evalgo/entitysync/coreerr"

// Result is whatever the caller's Primary request produced; the
// deduplicator only shuttles it to Duplicate waiters, never inspects it.
type Result struct {
	Value interface{}
	Err   error
}

// Outcome tells begin's caller whether it is the Primary executor for
// this key or a Duplicate that must await the Primary's Result.
type Outcome struct {
	Primary bool
	Waiter  <-chan Result // non-nil iff !Primary
}

type beginCmd struct {
	key    string
	eligible bool
	reply  chan Outcome
}

type completeCmd struct {
	key    string
	result Result
	done   chan struct{}
}

// Deduplicator implements the §4.2 contract. At most one Primary exists
// per key at any instant; every Duplicate waiter for that key receives
// exactly the Result the Primary produced.
type Deduplicator struct {
	begins    chan beginCmd
	completes chan completeCmd
	stop      chan struct{}
}

// New starts the deduplicator's serial executor goroutine.
func New() *Deduplicator {
	d := &Deduplicator{
		begins:    make(chan beginCmd),
		completes: make(chan completeCmd),
		stop:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Close stops the serial executor. Any in-flight waiters are not
// notified; callers must not hold Close until a Complete is pending.
func (d *Deduplicator) Close() { close(d.stop) }

type entry struct {
	waiters []chan Result
}

func (d *Deduplicator) run() {
	inflight := make(map[string]*entry)
	for {
		select {
		case <-d.stop:
			return
		case cmd := <-d.begins:
			if !cmd.eligible {
				cmd.reply <- Outcome{Primary: true}
				continue
			}
			e, exists := inflight[cmd.key]
			if !exists {
				inflight[cmd.key] = &entry{}
				cmd.reply <- Outcome{Primary: true}
				continue
			}
			waiter := make(chan Result, 1)
			e.waiters = append(e.waiters, waiter)
			cmd.reply <- Outcome{Waiter: waiter}
		case cmd := <-d.completes:
			e, exists := inflight[cmd.key]
			delete(inflight, cmd.key)
			if exists {
				for _, w := range e.waiters {
					w <- cmd.result
				}
			}
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

// Begin implements begin(config). eligible must be the config's
// deduplicate flag; ineligible configs always return Primary without
// consulting in-flight state.
func (d *Deduplicator) Begin(key string, eligible bool) Outcome {
	reply := make(chan Outcome, 1)
	d.begins <- beginCmd{key: key, eligible: eligible, reply: reply}
	return <-reply
}

// Complete implements complete(config, result): fans Result to every
// waiter registered for key up to and including this call, then removes
// the entry. Blocks until the fan-out has been applied by the serial
// executor, so a caller sequencing Begin/Complete on the same key
// observes linearizable behavior.
func (d *Deduplicator) Complete(key string, result Result) {
	done := make(chan struct{})
	d.completes <- completeCmd{key: key, result: result, done: done}
	<-done
}

// Await blocks on a Duplicate outcome's waiter channel, converting a
// closed-without-value channel (should not happen under normal use) into
// a logical error rather than a zero Result.
func Await(waiter <-chan Result) (Result, error) {
	r, ok := <-waiter
	if !ok {
		return Result{}, coreerr.New(coreerr.KindLogical, "deduplication waiter channel closed without a result")
	}
	return r, nil
}
