// Package eventloop runs posted functions one at a time on a single
// goroutine, giving callers JavaScript-style cooperative scheduling.
package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrRunning is returned by Run when the loop is already being run.
var ErrRunning = errors.New("eventloop: already running")

// Loop is a serial executor. Post may be called from any goroutine and never
// blocks; posted functions run in FIFO order on the goroutine calling Run.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped bool
	running bool
}

// New returns an idle Loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop makes Run return once the currently running function finishes.
// Functions still queued are left unexecuted. Stop may be called before Run;
// a stopped loop cannot be restarted.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Pending reports the number of queued functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Run executes posted functions until Stop is called (returns nil) or ctx is
// done (returns ctx.Err()). Panics raised by posted functions propagate to
// the caller of Run.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrRunning
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		fn, stopped := l.next()
		if stopped {
			return nil
		}
		if fn != nil {
			fn()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, true
	}
	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, false
}
