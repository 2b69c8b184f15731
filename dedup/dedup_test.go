package dedup

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginIneligibleAlwaysPrimary(t *testing.T) {
	d := New()
	defer d.Close()

	o1 := d.Begin("k", false)
	o2 := d.Begin("k", false)
	assert.True(t, o1.Primary)
	assert.True(t, o2.Primary)
}

func TestBeginFirstIsPrimaryRestAreDuplicates(t *testing.T) {
	d := New()
	defer d.Close()

	primary := d.Begin("k", true)
	require.True(t, primary.Primary)

	dup := d.Begin("k", true)
	assert.False(t, dup.Primary)
	assert.NotNil(t, dup.Waiter)
}

func TestCompleteFansOutToAllWaiters(t *testing.T) {
	d := New()
	defer d.Close()

	primary := d.Begin("k", true)
	require.True(t, primary.Primary)

	const waiterCount = 5
	waiters := make([]Outcome, waiterCount)
	for i := range waiters {
		waiters[i] = d.Begin("k", true)
		require.False(t, waiters[i].Primary)
	}

	want := Result{Value: "done"}

	var wg sync.WaitGroup
	results := make([]Result, waiterCount)
	for i := range waiters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := Await(waiters[i].Waiter)
			require.NoError(t, err)
			results[i] = r
		}(i)
	}

	d.Complete("k", want)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, want.Value, r.Value)
	}

	// entry removed: a new Begin after Complete is Primary again.
	next := d.Begin("k", true)
	assert.True(t, next.Primary)
}

func TestDifferentKeysDoNotInterfere(t *testing.T) {
	d := New()
	defer d.Close()

	a := d.Begin("a", true)
	b := d.Begin("b", true)
	assert.True(t, a.Primary)
	assert.True(t, b.Primary)
}
