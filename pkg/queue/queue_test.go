package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int](8)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}

	for i := 0; i < 5; i++ {
		item, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, item)
	}

	_, ok := q.Pop()
	assert.False(t, ok, "empty queue should not return items")
}

func TestQueueDropOldest(t *testing.T) {
	var dropped []int
	q := New[int](3,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}

	assert.Equal(t, []int{0, 1}, dropped)

	items := q.Drain()
	assert.Equal(t, []int{2, 3, 4}, items)

	stats := q.Stats()
	assert.Equal(t, uint64(5), stats.Pushed)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestQueueDropNewest(t *testing.T) {
	q := New[int](2, WithOverflowPolicy[int](DropNewest))

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3)) // dropped

	assert.Equal(t, []int{1, 2}, q.Drain())
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestQueueBlockPolicyWaitsForSpace(t *testing.T) {
	q := New[int](1)
	require.NoError(t, q.Push(1))

	unblocked := make(chan struct{})
	go func() {
		// Blocks until the consumer pops.
		_ = q.Push(2)
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("push should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("push did not resume after space freed")
	}
}

func TestQueuePopWaitDeliversAcrossGoroutines(t *testing.T) {
	q := New[string](4)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push("hello")
	}()

	item, ok := q.PopWait(context.Background())
	require.True(t, ok)
	assert.Equal(t, "hello", item)
}

func TestQueuePopWaitCancellation(t *testing.T) {
	q := New[int](4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.PopWait(ctx)
	assert.False(t, ok)
}

func TestQueueCloseDrainsRemainingItems(t *testing.T) {
	q := New[int](4)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Close())

	// Items queued before close remain poppable.
	item, ok := q.PopWait(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, item)

	item, ok = q.PopWait(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, item)

	_, ok = q.PopWait(context.Background())
	assert.False(t, ok)

	assert.Error(t, q.Push(3), "push after close should fail")
}

func TestQueueConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 100

	q := New[int](producers * perProducer)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Size())
}
