package loader

import (
	"context"
	"math"
	"time"

	"github.com/tinoosan/preload/internal/metrics"
	"github.com/tinoosan/preload/internal/queue"
	"github.com/tinoosan/preload/internal/resource"
)

// loadResource is the queue worker. It runs the before-load middleware,
// then starts the transport unless a middleware already completed r.
func (l *Loader) loadResource(r *resource.Resource, done queue.DoneFunc) {
	l.mu.Lock()
	c := l.cur
	l.dequeue[r] = done
	l.mu.Unlock()
	metrics.QueueRunning.Set(float64(l.queue.Running()))

	ctx := context.Background()
	if c != nil {
		ctx = c.ctx
	}
	post := func(fn func()) { l.scheduleFor(r, fn) }
	l.before.RunUntil(l, r, post, r.IsComplete, func() {
		if r.IsComplete() {
			l.onLoad(r)
			return
		}
		b := r.OnComplete.Once(l.onLoad)
		l.mu.Lock()
		l.bindings[r] = append(l.bindings[r], b)
		l.mu.Unlock()
		r.Load(ctx, nil)
	})
}

// onLoad runs when r's transport finished. The queue slot is released
// before the after-load middleware so that children added by middleware
// can start right away.
func (l *Loader) onLoad(r *resource.Resource) {
	l.mu.Lock()
	c := l.cur
	if l.resources[r.Name()] != r {
		l.mu.Unlock()
		return
	}
	l.parsing[r] = struct{}{}
	done := l.dequeue[r]
	delete(l.dequeue, r)
	l.mu.Unlock()

	if done != nil {
		done(nil)
	}
	metrics.QueueRunning.Set(float64(l.queue.Running()))

	l.after.Run(l, r, func(fn func()) { l.scheduleFor(r, fn) }, func() { l.finish(c, r) })
}

// finish reports r once its after-load middleware ran and completes the
// cycle when nothing else is queued, running or in middleware.
func (l *Loader) finish(c *cycle, r *resource.Resource) {
	l.mu.Lock()
	stale := c == nil || l.cur != c
	l.mu.Unlock()
	if stale {
		return
	}

	r.OnAfterMiddleware.Dispatch(r)

	l.mu.Lock()
	l.progress = math.Min(MaxProgress, l.progress+r.ProgressChunk())
	progress := l.progress
	l.mu.Unlock()
	metrics.Progress.Set(progress)
	if d := r.Duration(time.Now()); d > 0 {
		metrics.ResourceDuration.WithLabelValues(string(r.LoadType())).Observe(d.Seconds())
	}

	l.OnProgress.Dispatch(ResourceEvent{Loader: l, Resource: r})
	if msg := r.Error(); msg != "" {
		metrics.ResourcesTotal.WithLabelValues("error").Inc()
		c.log.Warn("resource failed", "name", r.Name(), "url", r.URL(), "err", msg)
		l.OnError.Dispatch(ErrorEvent{Err: msg, Loader: l, Resource: r})
	} else {
		metrics.ResourcesTotal.WithLabelValues("loaded").Inc()
		c.log.Debug("resource loaded", "name", r.Name(), "type", r.Type(), "progress", progress)
		l.OnLoad.Dispatch(ResourceEvent{Loader: l, Resource: r})
	}

	l.mu.Lock()
	delete(l.parsing, r)
	parsing := len(l.parsing)
	l.mu.Unlock()

	if parsing == 0 && l.queue.Idle() {
		l.complete(c)
	}
}
