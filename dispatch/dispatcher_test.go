package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/pkg/queue"
)

func TestTasksRunInSubmissionOrder(t *testing.T) {
	d := New(64)
	defer d.Stop(time.Second)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, d.Invoke(func(_ *Control) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 49 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestTasksNeverOverlap(t *testing.T) {
	d := New(64)
	defer d.Stop(time.Second)

	var running atomic.Int32
	var overlapped atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, d.Invoke(func(_ *Control) {
			defer wg.Done()
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()

	assert.False(t, overlapped.Load(), "no two tasks may run concurrently")
}

func TestInvokeBlocksWhenFull(t *testing.T) {
	d := New(1)
	defer d.Stop(time.Second)

	gate := make(chan struct{})
	require.NoError(t, d.Invoke(func(_ *Control) { <-gate }))
	// The consumer is busy; this one fills the queue.
	require.NoError(t, d.Invoke(func(_ *Control) {}))

	unblocked := make(chan struct{})
	go func() {
		_ = d.Invoke(func(_ *Control) {})
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("Invoke should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("Invoke did not resume")
	}
}

func TestDropOldestPolicySheds(t *testing.T) {
	d := New(1, WithOverflowPolicy(queue.DropOldest))
	defer d.Stop(time.Second)

	gate := make(chan struct{})
	started := make(chan struct{})
	var ran []string
	var mu sync.Mutex
	record := func(name string) Task {
		return func(_ *Control) {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
		}
	}

	require.NoError(t, d.Invoke(func(_ *Control) {
		close(started)
		<-gate
	}))
	<-started
	require.NoError(t, d.Invoke(record("a"))) // queued
	require.NoError(t, d.Invoke(record("b"))) // sheds a
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b"}, ran)
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestStopRefusesIntakeAndDiscardsQueued(t *testing.T) {
	d := New(8)

	gate := make(chan struct{})
	started := make(chan struct{})
	inFlightDone := make(chan struct{})
	require.NoError(t, d.Invoke(func(_ *Control) {
		close(started)
		<-gate
		close(inFlightDone)
	}))
	<-started

	var discarded atomic.Bool
	require.NoError(t, d.Invoke(func(_ *Control) { discarded.Store(true) }))

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(gate)
	}()
	require.NoError(t, d.Stop(time.Second))

	select {
	case <-inFlightDone:
	default:
		t.Fatal("in-flight task must complete before Stop returns")
	}
	assert.False(t, discarded.Load(), "queued tasks are discarded on Stop")
	assert.Error(t, d.Invoke(func(_ *Control) {}), "intake refused after Stop")
}

func TestStopTimesOutOnStuckTask(t *testing.T) {
	d := New(8)

	gate := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Invoke(func(_ *Control) {
		close(started)
		<-gate
	}))
	<-started

	err := d.Stop(20 * time.Millisecond)
	assert.Error(t, err)
	close(gate)
}

func TestControlReportsShutdown(t *testing.T) {
	d := New(8)

	observed := make(chan bool, 1)
	started := make(chan struct{})
	require.NoError(t, d.Invoke(func(c *Control) {
		close(started)
		// Wait until Stop has flipped the flag.
		for !c.ShuttingDown() {
			time.Sleep(time.Millisecond)
		}
		observed <- c.ShuttingDown()
	}))

	<-started
	require.NoError(t, d.Stop(time.Second))
	assert.True(t, <-observed)
}

func TestRescheduleAfter(t *testing.T) {
	d := New(8)
	defer d.Stop(time.Second)

	var runs atomic.Int32
	done := make(chan struct{})
	require.NoError(t, d.Invoke(func(c *Control) {
		if runs.Add(1) == 1 {
			c.RescheduleAfter(5 * time.Millisecond)
			return
		}
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rescheduled task never ran")
	}
	assert.Equal(t, int32(2), runs.Load())
}

func TestPanickingTaskDoesNotKillConsumer(t *testing.T) {
	d := New(8)
	defer d.Stop(time.Second)

	done := make(chan struct{})
	require.NoError(t, d.Invoke(func(_ *Control) { panic("boom") }))
	require.NoError(t, d.Invoke(func(_ *Control) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer died after panic")
	}
}
