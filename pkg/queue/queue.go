// Package queue provides a generic, thread-safe bounded FIFO with explicit
// overflow policies.
//
// The queue backs the control dispatcher: producers push from transport
// delivery goroutines, a single consumer pops with PopWait. Capacity is
// fixed at construction and the overflow behavior is always explicit -
// Block (back-pressure the producer), DropOldest, or DropNewest.
package queue

import (
	"context"
	"sync"

	"github.com/c360/devlink/errors"
)

// OverflowPolicy defines how the queue behaves when it reaches capacity.
type OverflowPolicy int

const (
	// Block causes Push to wait until space is available.
	Block OverflowPolicy = iota

	// DropOldest removes the oldest item to make room for new items.
	DropOldest

	// DropNewest drops the incoming item when the queue is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "Block"
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithOverflowPolicy sets the overflow policy (default Block).
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(q *Queue[T]) {
		q.policy = policy
	}
}

// WithDropCallback registers a callback invoked for every dropped item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(q *Queue[T]) {
		q.dropCallback = cb
	}
}

// Stats holds cumulative queue counters.
type Stats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
}

// Queue is a bounded FIFO ring with configurable overflow behavior.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position

	policy       OverflowPolicy
	dropCallback DropCallback[T]

	stats  Stats
	closed bool

	notEmpty *sync.Cond
	notFull  *sync.Cond
}

// New creates a queue with the given capacity (minimum 1).
func New[T any](capacity int, opts ...Option[T]) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   Block,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push adds an item according to the overflow policy. With the Block policy
// it waits for space; the other policies never block.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push", "queue closed")
	}

	// The drop callback runs outside the lock to avoid re-entrancy
	// deadlocks.
	var dropped *T

	if q.size == q.capacity {
		switch q.policy {
		case DropOldest:
			d := q.items[q.tail]
			q.tail = (q.tail + 1) % q.capacity
			q.size--
			q.stats.Dropped++
			dropped = &d

		case DropNewest:
			q.stats.Dropped++
			cb := q.dropCallback
			q.mu.Unlock()
			if cb != nil {
				cb(item)
			}
			return nil

		case Block:
			for q.size == q.capacity && !q.closed {
				q.notFull.Wait()
			}
			if q.closed {
				q.mu.Unlock()
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push",
					"queue closed during blocking wait")
			}
		}
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.size++
	q.stats.Pushed++

	q.notEmpty.Signal()
	cb := q.dropCallback
	q.mu.Unlock()

	if dropped != nil && cb != nil {
		cb(*dropped)
	}
	return nil
}

// Pop removes and returns the oldest item without blocking.
// The second result is false when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// PopWait removes and returns the oldest item, waiting until one is
// available, the queue is closed, or the context is cancelled. A false
// result means no item will ever arrive (closed and drained, or cancelled).
func (q *Queue[T]) PopWait(ctx context.Context) (T, bool) {
	var zero T

	// A cancelled context must wake the cond wait below.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if item, ok := q.popLocked(); ok {
			return item, true
		}
		if q.closed || ctx.Err() != nil {
			return zero, false
		}
		q.notEmpty.Wait()
	}
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.tail]
	q.items[q.tail] = zero // clear for GC
	q.tail = (q.tail + 1) % q.capacity
	q.size--
	q.stats.Popped++

	q.notFull.Signal()
	return item, true
}

// Drain removes and returns all queued items.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	out := make([]T, 0, q.size)
	for {
		item, ok := q.popLocked()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

// Size returns the current number of queued items.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the fixed capacity.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Policy returns the overflow policy fixed at construction.
func (q *Queue[T]) Policy() OverflowPolicy {
	return q.policy
}

// Stats returns a snapshot of the cumulative counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close stops the queue. Blocked producers and waiting consumers are woken;
// already-queued items remain poppable until drained.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return nil
}
