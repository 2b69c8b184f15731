package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingDelegate struct {
	calls      int32
	outcomes   []Outcome
	idx        int32
}

func (d *countingDelegate) ProcessNext() Outcome {
	atomic.AddInt32(&d.calls, 1)
	i := atomic.AddInt32(&d.idx, 1) - 1
	if int(i) >= len(d.outcomes) {
		return DidNotProcess
	}
	return d.outcomes[i]
}

func TestDrainStopsOnBarrier(t *testing.T) {
	d := &countingDelegate{outcomes: []Outcome{ProcessedConcurrent, ProcessedConcurrent, ProcessedBarrier, ProcessedConcurrent}}
	s := New(d, time.Hour)
	defer s.Close()

	s.Enqueued()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&d.calls) == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&d.calls))
}

func TestDrainStopsImmediatelyWhenNothingToProcess(t *testing.T) {
	d := &countingDelegate{}
	s := New(d, time.Hour)
	defer s.Close()

	s.Flush()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&d.calls) == 1 }, time.Second, time.Millisecond)
}

func TestRequestFailedArmsTimerThatDrainsOnFire(t *testing.T) {
	d := &countingDelegate{outcomes: []Outcome{DidNotProcess}}
	s := New(d, 20*time.Millisecond)
	defer s.Close()

	s.RequestFailed()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&d.calls))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&d.calls) == 1 }, time.Second, time.Millisecond)
}

func TestEventCancelsArmedTimerBeforeDraining(t *testing.T) {
	d := &countingDelegate{outcomes: []Outcome{DidNotProcess, DidNotProcess}}
	s := New(d, 50*time.Millisecond)
	defer s.Close()

	s.RequestFailed()
	time.Sleep(5 * time.Millisecond)
	s.Enqueued() // cancels the armed timer, drains immediately

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&d.calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	// timer was cancelled, so no second drain fires from it
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.calls))
}
