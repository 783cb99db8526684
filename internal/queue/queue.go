// Package queue implements a bounded-concurrency, pausable work queue.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tinoosan/preload/internal/signal"
)

var (
	// ErrZeroConcurrency is returned when a queue is built or resized with a
	// concurrency below one.
	ErrZeroConcurrency = errors.New("queue: concurrency must be at least 1")
	// ErrDoneCalledTwice is the panic value raised when a worker's done
	// callback is invoked more than once.
	ErrDoneCalledTwice = errors.New("queue: done callback was already called")
)

// DoneFunc releases a worker slot. It must be called exactly once.
type DoneFunc func(err error)

// Worker processes one item and calls done when finished, synchronously or
// later from any goroutine.
type Worker[T any] func(item T, done DoneFunc)

// Callback is an optional per-item completion callback.
type Callback func(err error)

// ItemError is dispatched on OnError when a worker reports a failure.
type ItemError[T any] struct {
	Item T
	Err  error
}

type task[T any] struct {
	item T
	cb   Callback
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	deferFn func(func())
	buffer  int
	bufSet  bool
}

// WithDefer makes Push/Unshift schedule dispatch through fn instead of
// dispatching synchronously, so that a burst of pushes coalesces.
func WithDefer(fn func(func())) Option {
	return func(o *options) { o.deferFn = fn }
}

// WithBuffer overrides the low-water buffer used for OnUnsaturated.
// The default is concurrency/4.
func WithBuffer(n int) Option {
	return func(o *options) {
		o.buffer = n
		o.bufSet = true
	}
}

// Queue runs a worker over pushed items with at most Concurrency() workers
// in flight.
type Queue[T any] struct {
	worker Worker[T]
	opts   options

	mu          sync.Mutex
	tasks       []task[T]
	concurrency int
	buffer      int
	workers     int
	started     bool
	paused      bool
	gen         uint64

	// OnSaturated fires when the running count reaches the concurrency.
	OnSaturated signal.Signal[struct{}]
	// OnUnsaturated fires when the running count drops to
	// concurrency-buffer or below.
	OnUnsaturated signal.Signal[struct{}]
	// OnEmpty fires when the last pending item is handed to a worker.
	OnEmpty signal.Signal[struct{}]
	// OnDrain fires when nothing is pending and nothing is running.
	OnDrain signal.Signal[struct{}]
	// OnError fires when a worker passes a non-nil error to done.
	OnError signal.Signal[ItemError[T]]
}

// New builds a queue running worker with the given concurrency.
func New[T any](worker Worker[T], concurrency int, opts ...Option) (*Queue[T], error) {
	if concurrency < 1 {
		return nil, ErrZeroConcurrency
	}
	q := &Queue[T]{worker: worker, concurrency: concurrency}
	for _, o := range opts {
		o(&q.opts)
	}
	q.buffer = q.bufferFor(concurrency)
	return q, nil
}

func (q *Queue[T]) bufferFor(concurrency int) int {
	if q.opts.bufSet {
		return q.opts.buffer
	}
	return concurrency / 4
}

// Push appends item to the pending list.
func (q *Queue[T]) Push(item T, cb Callback) { q.insert(item, false, cb) }

// Unshift inserts item at the front of the pending list.
func (q *Queue[T]) Unshift(item T, cb Callback) { q.insert(item, true, cb) }

func (q *Queue[T]) insert(item T, front bool, cb Callback) {
	q.mu.Lock()
	q.started = true
	t := task[T]{item: item, cb: cb}
	if front {
		q.tasks = append([]task[T]{t}, q.tasks...)
	} else {
		q.tasks = append(q.tasks, t)
	}
	q.mu.Unlock()

	if q.opts.deferFn != nil {
		q.opts.deferFn(q.process)
		return
	}
	q.process()
}

// process hands pending items to the worker while slots are free.
func (q *Queue[T]) process() {
	for {
		q.mu.Lock()
		if q.paused || q.workers >= q.concurrency || len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks[0] = task[T]{}
		q.tasks = q.tasks[1:]
		empty := len(q.tasks) == 0
		q.workers++
		saturated := q.workers == q.concurrency
		gen := q.gen
		q.mu.Unlock()

		if empty {
			q.OnEmpty.Dispatch(struct{}{})
		}
		if saturated {
			q.OnSaturated.Dispatch(struct{}{})
		}
		q.worker(t.item, q.once(t, gen))
	}
}

func (q *Queue[T]) once(t task[T], gen uint64) DoneFunc {
	var called atomic.Bool
	return func(err error) {
		if called.Swap(true) {
			panic(ErrDoneCalledTwice)
		}
		q.finish(t, gen, err)
	}
}

func (q *Queue[T]) finish(t task[T], gen uint64, err error) {
	q.mu.Lock()
	if gen != q.gen {
		// the worker was started before Reset; its slot no longer exists
		q.mu.Unlock()
		return
	}
	q.workers--
	q.mu.Unlock()

	if t.cb != nil {
		t.cb(err)
	}
	if err != nil {
		q.OnError.Dispatch(ItemError[T]{Item: t.item, Err: err})
	}

	q.mu.Lock()
	unsaturated := q.workers <= q.concurrency-q.buffer
	idle := len(q.tasks)+q.workers == 0
	q.mu.Unlock()

	if unsaturated {
		q.OnUnsaturated.Dispatch(struct{}{})
	}
	if idle {
		q.OnDrain.Dispatch(struct{}{})
	}
	q.process()
}

// Pause stops dispatching new items. Running workers are not affected.
func (q *Queue[T]) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts dispatching, filling every free slot.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	n := q.concurrency
	q.mu.Unlock()
	for w := 1; w <= n; w++ {
		q.process()
	}
}

// Reset drops every pending item and the drain subscribers, and forgets
// running workers. Completions from workers started before Reset are
// accepted and ignored.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	q.tasks = nil
	q.workers = 0
	q.started = false
	q.gen++
	q.mu.Unlock()
	q.OnDrain.DetachAll()
}

// Len reports the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Running reports the number of workers in flight.
func (q *Queue[T]) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.workers
}

// Idle reports whether nothing is pending and nothing is running.
func (q *Queue[T]) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)+q.workers == 0
}

// Started reports whether anything was pushed since construction or the
// last Reset.
func (q *Queue[T]) Started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// Paused reports whether dispatching is paused.
func (q *Queue[T]) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Items returns a snapshot of the pending items in dispatch order.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.item
	}
	return out
}

// Concurrency reports the worker limit.
func (q *Queue[T]) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// SetConcurrency changes the worker limit. Raising it dispatches into the
// new slots immediately unless the queue is paused.
func (q *Queue[T]) SetConcurrency(n int) error {
	if n < 1 {
		return ErrZeroConcurrency
	}
	q.mu.Lock()
	q.concurrency = n
	q.buffer = q.bufferFor(n)
	q.mu.Unlock()
	q.process()
	return nil
}
