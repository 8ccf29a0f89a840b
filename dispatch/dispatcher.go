// Package dispatch runs queued tasks on a single consumer goroutine,
// preserving submission order. The device server funnels every inbound
// control through one dispatcher so handlers never overlap and replies
// follow request order.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/pkg/queue"
)

// DefaultCapacity bounds the pending-task queue unless overridden.
const DefaultCapacity = 64

// Task is a unit of work executed on the dispatcher goroutine. The
// Control handle reports shutdown and allows deferred re-submission.
type Task func(c *Control)

// Control is the handle a running task receives from its dispatcher.
type Control struct {
	d    *Dispatcher
	task Task
}

// Context returns the dispatcher's run context, cancelled when the
// dispatcher is stopped forcibly.
func (c *Control) Context() context.Context {
	return c.d.ctx
}

// ShuttingDown reports whether the dispatcher has begun stopping. Tasks
// doing long or retryable work should check it and bail out early.
func (c *Control) ShuttingDown() bool {
	return c.d.stopping.Load()
}

// RescheduleAfter re-submits the running task after the delay. The
// re-submission is dropped silently when the dispatcher is stopping.
func (c *Control) RescheduleAfter(delay time.Duration) {
	task := c.task
	d := c.d
	time.AfterFunc(delay, func() {
		if d.stopping.Load() {
			return
		}
		if err := d.Invoke(task); err != nil {
			d.logger.Debug("rescheduled task dropped", "error", err)
		}
	})
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithOverflowPolicy sets the queue's behavior at capacity. The default
// Block back-pressures producers; DropOldest sheds the stalest task
// instead.
func WithOverflowPolicy(policy queue.OverflowPolicy) Option {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithDepthGauge registers a callback observed with the queue depth after
// every push and pop.
func WithDepthGauge(fn func(depth int)) Option {
	return func(d *Dispatcher) {
		d.onDepth = fn
	}
}

// Dispatcher executes tasks one at a time, in submission order.
type Dispatcher struct {
	tasks   *queue.Queue[Task]
	logger  *slog.Logger
	policy  queue.OverflowPolicy
	onDepth func(int)

	ctx    context.Context
	cancel context.CancelFunc

	stopping atomic.Bool
	done     chan struct{}
}

// New creates a dispatcher and starts its consumer goroutine.
func New(capacity int, opts ...Option) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger: slog.Default().With("component", "dispatch"),
		policy: queue.Block,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.tasks = queue.New[Task](capacity, queue.WithOverflowPolicy[Task](d.policy))

	go d.run()
	return d
}

// Invoke queues a task for execution. With the Block policy it waits for
// queue space; it fails once the dispatcher is stopping.
func (d *Dispatcher) Invoke(task Task) error {
	if task == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Dispatcher", "Invoke", "queue nil task")
	}
	if d.stopping.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Dispatcher", "Invoke", "queue task")
	}
	if err := d.tasks.Push(task); err != nil {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Dispatcher", "Invoke", "queue task")
	}
	d.observeDepth()
	return nil
}

// Depth returns the number of queued tasks.
func (d *Dispatcher) Depth() int {
	return d.tasks.Size()
}

// Stats returns the underlying queue counters.
func (d *Dispatcher) Stats() queue.Stats {
	return d.tasks.Stats()
}

func (d *Dispatcher) observeDepth() {
	if d.onDepth != nil {
		d.onDepth(d.tasks.Size())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		task, ok := d.tasks.PopWait(d.ctx)
		if !ok {
			return
		}
		d.observeDepth()

		// Tasks queued before Stop but not yet started are discarded.
		if d.stopping.Load() {
			continue
		}
		d.execute(task)
	}
}

func (d *Dispatcher) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "panic", r)
		}
	}()
	task(&Control{d: d, task: task})
}

// Stop refuses further intake, lets the in-flight task complete, and
// discards any still-queued tasks. It returns an error when the in-flight
// task does not finish within the timeout; the run context is cancelled
// either way.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	if d.stopping.Swap(true) {
		<-d.done
		return nil
	}

	_ = d.tasks.Close()

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.cancel()
		return errors.WrapTransient(
			fmt.Errorf("in-flight task still running after %v", timeout),
			"Dispatcher", "Stop", "wait for drain")
	}
}
