// Package processor is C6: the queue processor that drives the durable
// queue (C4) through the client (C3), enforcing barrier discipline,
// the §4.6 retry policy, and in-registration-order fan-out to response
// handlers. Grounded on the teacher's worker.Pool/Worker split
// (worker/pool.go): one actor owns the internal task-queue state, and
// execution of an individual request happens on its own goroutine so
// concurrent requests truly overlap while a barrier blocks the next
// process_next call until it completes.
package processor

import (
	"context"

	"github.com/evalgo/entitysync/client"
	"github.com/evalgo/entitysync/corelog"
	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/corequeue"
	"github.com/evalgo/entitysync/requestconfig"
	"github.com/evalgo/entitysync/scheduler"
	"github.com/google/uuid"
)

// QueueDelegate is §4.6's "delegate contract (to the queue)": the
// three queue operations the processor needs. corequeue.FIFOQueue and
// corequeue.UniquingQueue both satisfy it as-is.
type QueueDelegate interface {
	PopFirst() (corequeue.QueuedRequest, bool, error)
	Prepend(r corequeue.QueuedRequest) error
	RemoveMatching(pred func(corequeue.QueuedRequest) bool) ([]corequeue.QueuedRequest, error)
}

// OutcomeKind is the terminal (or retry-triggering) shape of one
// execution attempt, broadcast to handlers.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeAPIError          OutcomeKind = "api_error"
	OutcomeAborted           OutcomeKind = "aborted"
	OutcomeBackgroundExpired OutcomeKind = "background_session_expired"
)

// Outcome is delivered to every registered handler for a request.
type Outcome struct {
	Kind     OutcomeKind
	Response *client.Response
	Err      error
}

// Handler observes the outcome of one queued request. Handlers are
// skipped for outcomes that will cause a retry (§4.6 fan-out rule).
type Handler func(r corequeue.QueuedRequest, outcome Outcome)

// BackgroundHook optionally begins a background execution scope for
// requests with BackgroundAllowed set, returning a derived context and
// a function reporting whether the scope expired before completion.
// Nil disables background scope support; the request runs as a normal
// foreground send.
type BackgroundHook func(ctx context.Context) (bg context.Context, expired func() bool)

// Processor implements scheduler.Delegate; construct with New and pass
// the result to scheduler.New.
type Processor struct {
	client   *client.Client
	queue    QueueDelegate
	inFlight corequeue.DurableMap
	sched    *scheduler.Scheduler
	bgHook   BackgroundHook
	logger   *corelog.ContextLogger

	exec *serialExecutor

	barrierPending bool
	handlers       []registeredHandler
	aborted        map[uuid.UUID]struct{}
	cancels        map[uuid.UUID]context.CancelFunc
}

type registeredHandler struct {
	token   uuid.UUID
	handler Handler
}

// New constructs a Processor. SetScheduler must be called before the
// first did_enqueue_new_request/flush call; it is separate from New to
// break the Processor/Scheduler construction cycle (the scheduler needs
// a Delegate at construction time, the processor needs the scheduler
// afterward).
func New(c *client.Client, queue QueueDelegate, inFlight corequeue.DurableMap, bgHook BackgroundHook) *Processor {
	p := &Processor{
		client:   c,
		queue:    queue,
		inFlight: inFlight,
		bgHook:   bgHook,
		logger:   corelog.Scoped("processor"),
		exec:     newSerialExecutor(),
		aborted:  make(map[uuid.UUID]struct{}),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
	go p.exec.run()
	return p
}

// SetScheduler binds the scheduler the processor notifies of
// request_succeeded/request_failed and whose drain loop calls back into
// ProcessNext.
func (p *Processor) SetScheduler(s *scheduler.Scheduler) { p.sched = s }

// Close stops the processor's serial executor.
func (p *Processor) Close() { p.exec.close() }

// PrepareRequest implements prepare_request(cfg): wraps a config into a
// QueuedRequest carrying a fresh token, ready for the caller to push
// into whichever durable queue shape applies and then announce via
// DidEnqueueNewRequest.
func (p *Processor) PrepareRequest(cfg requestconfig.RequestConfig, timestampNanos uint64) corequeue.QueuedRequest {
	return corequeue.NewQueuedRequest(cfg, timestampNanos)
}

// DidEnqueueNewRequest implements did_enqueue_new_request.
func (p *Processor) DidEnqueueNewRequest() {
	if p.sched != nil {
		p.sched.Enqueued()
	}
}

// Flush implements flush.
func (p *Processor) Flush() {
	if p.sched != nil {
		p.sched.Flush()
	}
}

// Register implements register(handler) -> token. Handlers fire in
// registration order.
func (p *Processor) Register(h Handler) uuid.UUID {
	token := uuid.New()
	p.exec.do(func() {
		p.handlers = append(p.handlers, registeredHandler{token: token, handler: h})
	})
	return token
}

// Unregister implements unregister(token).
func (p *Processor) Unregister(token uuid.UUID) {
	p.exec.do(func() {
		for i, rh := range p.handlers {
			if rh.token == token {
				p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
				return
			}
		}
	})
}

// AbortRequest implements abort_request(r): cancels the request's
// in-flight context if it is currently executing, and marks it so the
// eventual outcome is reported as Aborted rather than whatever error
// the cancellation produced.
func (p *Processor) AbortRequest(r corequeue.QueuedRequest) {
	p.exec.do(func() {
		p.aborted[r.Token] = struct{}{}
		if cancel, ok := p.cancels[r.Token]; ok {
			cancel()
		}
	})
}

// Recover implements §4.6's startup recovery: read every entry left in
// the in-flight cache (from a prior process that died mid-send) and
// prepend it back to the queue, in on-disk order, deleting each after a
// successful prepend.
func (p *Processor) Recover() error {
	keys, err := p.inFlight.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		data, found, err := p.inFlight.Get(k)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		req, err := corequeue.Decode(data)
		if err != nil {
			return err
		}
		if err := p.queue.Prepend(req); err != nil {
			return err
		}
		if err := p.inFlight.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ProcessNext implements scheduler.Delegate; it is §4.6's process_next.
func (p *Processor) ProcessNext() scheduler.Outcome {
	type result struct {
		outcome scheduler.Outcome
		req     corequeue.QueuedRequest
		isBar   bool
		ok      bool
	}
	var r result
	p.exec.do(func() {
		if p.barrierPending {
			r.outcome = scheduler.DidNotProcess
			return
		}
		req, found, err := p.queue.PopFirst()
		if err != nil {
			p.logger.WithError(err).Error("process_next: pop_first failed")
			r.outcome = scheduler.DidNotProcess
			return
		}
		if !found {
			r.outcome = scheduler.DidNotProcess
			return
		}
		data, err := corequeue.Encode(req)
		if err != nil {
			p.logger.WithError(err).Error("process_next: encode failed")
			r.outcome = scheduler.DidNotProcess
			return
		}
		if err := p.inFlight.Set(inFlightKey(req.Token), data); err != nil {
			p.logger.WithError(err).Error("process_next: in-flight write failed")
		}
		isBarrier := req.Wrapped.Queueing.Sync == requestconfig.Barrier
		if isBarrier {
			p.barrierPending = true
		}
		r.req, r.isBar, r.ok = req, isBarrier, true
		if isBarrier {
			r.outcome = scheduler.ProcessedBarrier
		} else {
			r.outcome = scheduler.ProcessedConcurrent
		}
	})
	if r.ok {
		go p.execute(r.req, r.isBar)
	}
	return r.outcome
}

func inFlightKey(token uuid.UUID) string { return "inflight:" + token.String() }

// execute runs one request to completion: optional background scope,
// send, outcome classification, handler fan-out, retry disposition, and
// scheduler notification.
func (p *Processor) execute(req corequeue.QueuedRequest, isBarrier bool) {
	ctx, cancel := context.WithCancel(context.Background())
	p.exec.do(func() { p.cancels[req.Token] = cancel })
	defer func() {
		p.exec.do(func() { delete(p.cancels, req.Token) })
		cancel()
	}()

	var expired func() bool
	if req.Wrapped.BackgroundAllowed && p.bgHook != nil {
		ctx, expired = p.bgHook(ctx)
	}

	resp, err := p.client.Send(ctx, req.Wrapped)

	if derr := p.inFlight.Delete(inFlightKey(req.Token)); derr != nil {
		p.logger.WithError(derr).Warn("execute: failed to clear in-flight cache entry")
	}

	var wasAborted bool
	p.exec.do(func() {
		_, wasAborted = p.aborted[req.Token]
		delete(p.aborted, req.Token)
		if isBarrier {
			p.barrierPending = false
		}
	})

	if wasAborted {
		p.finish(req, Outcome{Kind: OutcomeAborted}, true)
		return
	}
	if expired != nil && expired() {
		p.logger.Warnf("background session expired for request %s; rescheduling", req.Token)
		p.requeue(req)
		return
	}

	if err == nil {
		p.finish(req, Outcome{Kind: OutcomeSuccess, Response: resp}, true)
		return
	}

	p.handleFailure(req, isBarrier, err)
}

// handleFailure implements the §4.6 retry policy.
func (p *Processor) handleFailure(req corequeue.QueuedRequest, isBarrier bool, err error) {
	retry := req.Wrapped.Queueing.Retry

	kind, _ := coreerr.KindOf(err)
	var netErr *coreerr.Error
	if e, ok := err.(*coreerr.Error); ok {
		netErr = e
	}

	switch {
	case kind == coreerr.KindNetwork && netErr != nil && (netErr.Net == coreerr.NetConnectionLost || netErr.Net == coreerr.NetNotConnected):
		p.evictAndMaybeRetry(req, err, retry.OnNetworkInterrupt, func(other requestconfig.RetryTrigger) bool {
			return !other.OnNetworkInterrupt
		})
		return

	case kind == coreerr.KindNetwork && netErr != nil && netErr.Net == coreerr.NetTimedOut && retry.OnRequestTimeout:
		if isBarrier {
			_, evictErr := p.queue.RemoveMatching(func(r corequeue.QueuedRequest) bool {
				return !r.Wrapped.Queueing.Retry.OnRequestTimeout
			})
			if evictErr != nil {
				p.logger.WithError(evictErr).Error("handleFailure: timeout eviction failed")
			}
		}
		p.requeue(req)
		return

	case kind == coreerr.KindAPI && retry.RetriesOnCode(netErr.Code):
		p.requeue(req)
		return

	default:
		p.finish(req, Outcome{Kind: OutcomeAPIError, Err: err}, false)
	}
}

// evictAndMaybeRetry implements the NetworkConnectionLost/
// NotConnectedToInternet branch: evict-first (per the spec's resolved
// Open Question), then prepend the current request if eligible,
// otherwise drop it terminally.
func (p *Processor) evictAndMaybeRetry(req corequeue.QueuedRequest, cause error, currentRetries bool, evictPred func(requestconfig.RetryTrigger) bool) {
	evicted, err := p.queue.RemoveMatching(func(r corequeue.QueuedRequest) bool {
		return evictPred(r.Wrapped.Queueing.Retry)
	})
	if err != nil {
		p.logger.WithError(err).Error("evictAndMaybeRetry: eviction failed")
	}
	for _, r := range evicted {
		p.notify(r, Outcome{Kind: OutcomeAPIError, Err: cause})
	}

	if currentRetries {
		p.requeue(req)
		return
	}
	p.finish(req, Outcome{Kind: OutcomeAPIError, Err: cause}, false)
}

// requeue prepends req for rescheduling; handlers are skipped (it is
// not a terminal outcome) and the scheduler is told request_failed.
func (p *Processor) requeue(req corequeue.QueuedRequest) {
	if err := p.queue.Prepend(req); err != nil {
		p.logger.WithError(err).Error("requeue: prepend failed")
	}
	if p.sched != nil {
		p.sched.RequestFailed()
	}
}

// finish delivers a terminal (or aborted) outcome to every registered
// handler and advances the scheduler.
func (p *Processor) finish(req corequeue.QueuedRequest, outcome Outcome, succeeded bool) {
	p.notify(req, outcome)
	if p.sched == nil {
		return
	}
	if succeeded {
		p.sched.RequestSucceeded()
	} else {
		p.sched.RequestFailed()
	}
}

func (p *Processor) notify(req corequeue.QueuedRequest, outcome Outcome) {
	var handlers []registeredHandler
	p.exec.do(func() {
		handlers = append(handlers, p.handlers...)
	})
	for _, rh := range handlers {
		rh.handler(req, outcome)
	}
}

// serialExecutor is the §5 per-component actor: one goroutine draining
// a channel of closures, guaranteeing every field access above happens
// on a single goroutine. Mirrors corequeue's serialExecutor; kept as a
// separate small type rather than a shared package since the two
// components have no other reason to depend on each other.
type serialExecutor struct {
	tasks chan func()
	stop  chan struct{}
}

func newSerialExecutor() *serialExecutor {
	return &serialExecutor{tasks: make(chan func(), 32), stop: make(chan struct{})}
}

func (e *serialExecutor) run() {
	for {
		select {
		case <-e.stop:
			return
		case fn := <-e.tasks:
			fn()
		}
	}
}

func (e *serialExecutor) do(fn func()) {
	done := make(chan struct{})
	e.tasks <- func() {
		fn()
		close(done)
	}
	<-done
}

func (e *serialExecutor) close() { close(e.stop) }
