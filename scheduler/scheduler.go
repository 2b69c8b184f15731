// Package scheduler is C5: the state machine that decides when to ask
// the queue processor for the next request. Owns its own timer and its
// own serial executor (§4.5 "the main executor must never be chosen");
// grounded on the teacher's worker.Pool stop-channel/goroutine shape,
// generalized from a polling loop to an event-driven state machine.
package scheduler

import (
	"time"

	"github.com/evalgo/entitysync/corelog"
)

// Outcome is what the processor's process_next reports back to the
// scheduler's drain loop.
type Outcome int

const (
	ProcessedConcurrent Outcome = iota
	ProcessedBarrier
	DidNotProcess
)

// Delegate is the processor surface the scheduler drives: a single
// process_next call per drain iteration.
type Delegate interface {
	ProcessNext() Outcome
}

// DefaultRetryDelay is the §4.5/§5 default timer duration armed after a
// request_failed event.
const DefaultRetryDelay = 15 * time.Second

type event int

const (
	eventEnqueued event = iota
	eventFlush
	eventRequestSucceeded
	eventRequestFailed
)

// Scheduler is the §4.5 state machine: Ready, RequestInProgress
// (implicit in the drain loop below), RequestScheduled(timer).
type Scheduler struct {
	delegate   Delegate
	retryDelay time.Duration
	logger     *corelog.ContextLogger

	events chan event
	stop   chan struct{}
}

// New constructs a Scheduler bound to delegate and starts its serial
// executor goroutine.
func New(delegate Delegate, retryDelay time.Duration) *Scheduler {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	s := &Scheduler{
		delegate:   delegate,
		retryDelay: retryDelay,
		logger:     corelog.Scoped("scheduler"),
		events:     make(chan event, 8),
		stop:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Close stops the scheduler's serial executor; any armed timer is
// abandoned.
func (s *Scheduler) Close() { close(s.stop) }

// Enqueued signals a new request was added to the queue.
func (s *Scheduler) Enqueued() { s.events <- eventEnqueued }

// Flush requests an immediate drain attempt.
func (s *Scheduler) Flush() { s.events <- eventFlush }

// RequestSucceeded signals the in-flight request completed successfully
// (or was aborted, per §4.6 step 5).
func (s *Scheduler) RequestSucceeded() { s.events <- eventRequestSucceeded }

// RequestFailed signals the in-flight request failed with an outcome
// that is not success or abort.
func (s *Scheduler) RequestFailed() { s.events <- eventRequestFailed }

func (s *Scheduler) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	cancelTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-s.stop:
			cancelTimer()
			return

		case ev := <-s.events:
			// "Events received while a timer is armed cancel the timer
			// before draining." (§4.5)
			cancelTimer()

			switch ev {
			case eventEnqueued, eventFlush, eventRequestSucceeded:
				s.drain()
			case eventRequestFailed:
				s.logger.Debugf("arming retry timer for %s", s.retryDelay)
				timer = time.NewTimer(s.retryDelay)
				timerC = timer.C
			}

		case <-timerC:
			timer = nil
			timerC = nil
			s.drain()
		}
	}
}

// drain calls ProcessNext in a loop while it returns ProcessedConcurrent;
// stops draining on ProcessedBarrier or DidNotProcess.
func (s *Scheduler) drain() {
	for {
		switch s.delegate.ProcessNext() {
		case ProcessedConcurrent:
			continue
		case ProcessedBarrier, DidNotProcess:
			return
		}
	}
}
