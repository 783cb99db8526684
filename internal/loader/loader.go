// Package loader orchestrates a batch of resource loads: it owns the queue
// and the resource registry, runs middleware around every resource and
// reports aggregate progress.
package loader

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
	"github.com/tinoosan/preload/internal/downloader/element"
	"github.com/tinoosan/preload/internal/downloader/httpreq"
	"github.com/tinoosan/preload/internal/eventloop"
	"github.com/tinoosan/preload/internal/loadcfg"
	"github.com/tinoosan/preload/internal/metrics"
	"github.com/tinoosan/preload/internal/middleware"
	"github.com/tinoosan/preload/internal/queue"
	"github.com/tinoosan/preload/internal/resource"
	"github.com/tinoosan/preload/internal/signal"
)

// MaxProgress is the value progress reaches when a load cycle completes.
const MaxProgress = 100.0

// ResourceEvent is dispatched on OnProgress and OnLoad.
type ResourceEvent struct {
	Loader   *Loader
	Resource *resource.Resource
}

// ErrorEvent is dispatched on OnError. Err is the resource's error message.
type ErrorEvent struct {
	Err      string
	Loader   *Loader
	Resource *resource.Resource
}

// CompleteEvent is dispatched on OnComplete with a snapshot of the
// registry.
type CompleteEvent struct {
	Loader    *Loader
	Resources map[string]*resource.Resource
}

// CompleteFunc is the callback accepted by Load.
type CompleteFunc func(l *Loader, resources map[string]*resource.Resource)

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// WithRegistry seeds the loader's middleware from reg. The registry is
// copied; later registrations on reg do not affect this loader.
func WithRegistry(reg *middleware.Registry) Option {
	return func(l *Loader) { l.registry = reg }
}

// WithTables replaces the extension tables.
func WithTables(t *resource.Tables) Option {
	return func(l *Loader) { l.tables = t }
}

// WithStrategies replaces the strategies. Load types missing from s fall
// back to its request strategy.
func WithStrategies(s downloader.Strategies) Option {
	return func(l *Loader) { l.strategies = s.Clone() }
}

// cycle is one run of Load. Its loop lives until the cycle completes or
// the loader is reset.
type cycle struct {
	ctx  context.Context
	loop *eventloop.Loop
	log  *slog.Logger
	done bool
}

// Loader loads a set of named resources with bounded concurrency.
//
// All signals, middleware and per-resource callbacks run on the goroutine
// that called Load. Add, Reset and SetConcurrency may be called from any
// goroutine.
type Loader struct {
	cfg        loadcfg.Config
	log        *slog.Logger
	registry   *middleware.Registry
	tables     *resource.Tables
	strategies downloader.Strategies
	before     *middleware.Pipeline
	after      *middleware.Pipeline
	queue      *queue.Queue[*resource.Resource]

	mu        sync.Mutex
	cur       *cycle
	again     bool
	backlog   []func()
	resources map[string]*resource.Resource
	order     []string
	progress  float64
	loading   bool
	parsing   map[*resource.Resource]struct{}
	dequeue   map[*resource.Resource]queue.DoneFunc
	bindings  map[*resource.Resource][]*signal.Binding

	// OnStart fires when a load cycle starts.
	OnStart signal.Signal[*Loader]
	// OnProgress fires after each resource finished its middleware.
	OnProgress signal.Signal[ResourceEvent]
	// OnLoad fires after OnProgress for resources without an error.
	OnLoad signal.Signal[ResourceEvent]
	// OnError fires after OnProgress for resources with an error.
	OnError signal.Signal[ErrorEvent]
	// OnComplete fires once per cycle when every resource is done.
	OnComplete signal.Signal[CompleteEvent]
}

var _ middleware.Host = (*Loader)(nil)

// New builds a Loader from cfg.
func New(cfg loadcfg.Config, opts ...Option) (*Loader, error) {
	l := &Loader{
		cfg:       cfg,
		resources: map[string]*resource.Resource{},
		parsing:   map[*resource.Resource]struct{}{},
		dequeue:   map[*resource.Resource]queue.DoneFunc{},
		bindings:  map[*resource.Resource][]*signal.Binding{},
	}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.tables == nil {
		l.tables = resource.DefaultTables()
	}
	if l.strategies == nil {
		l.strategies = defaultStrategies(cfg, l.log)
	}
	l.before, l.after = l.registry.Snapshot()

	q, err := queue.New(l.loadResource, cfg.Concurrency, queue.WithDefer(l.schedule))
	if err != nil {
		return nil, err
	}
	q.Pause()
	l.queue = q
	return l, nil
}

func defaultStrategies(cfg loadcfg.Config, log *slog.Logger) downloader.Strategies {
	c := httpreq.NewClient(httpreq.Options{
		Origin:    cfg.Origin,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Logger:    log,
	})
	return downloader.Strategies{
		data.LoadRequest: c.Factory(),
		data.LoadImage:   element.ImageFactory(c.HTTP()),
		data.LoadAudio:   element.MediaFactory(c.HTTP(), data.TypeAudio),
		data.LoadVideo:   element.MediaFactory(c.HTTP(), data.TypeVideo),
	}
}

// schedule runs fn on the loop of the running cycle. Outside a cycle, or
// once the cycle has completed, fn is kept until the next Load.
func (l *Loader) schedule(fn func()) {
	l.mu.Lock()
	c := l.cur
	if c == nil || c.done {
		l.backlog = append(l.backlog, fn)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	c.loop.Post(fn)
}

// scheduleFor is schedule for work done on behalf of r. The work is
// dropped once r is no longer registered, so nothing started before a
// Reset runs in a later cycle.
func (l *Loader) scheduleFor(r *resource.Resource, fn func()) {
	if !l.registered(r) {
		return
	}
	l.schedule(func() {
		if l.registered(r) {
			fn()
		}
	})
}

func (l *Loader) registered(r *resource.Resource) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resources[r.Name()] == r
}

// Pre registers a before-load middleware on this loader only.
func (l *Loader) Pre(fn middleware.Func, priority int) *Loader {
	l.before.Use(fn, priority)
	return l
}

// Use registers an after-load middleware on this loader only.
func (l *Loader) Use(fn middleware.Func, priority int) *Loader {
	l.after.Use(fn, priority)
	return l
}

// Logger implements middleware.Host.
func (l *Loader) Logger() *slog.Logger { return l.log }

func (l *Loader) BaseURL() string      { return l.cfg.BaseURL }
func (l *Loader) DefaultQuery() string { return l.cfg.DefaultQuery }

// Tables returns the extension tables used for resources added from now on.
func (l *Loader) Tables() *resource.Tables { return l.tables }

// Progress reports aggregate progress in the range 0..100.
func (l *Loader) Progress() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

// Loading reports whether a load cycle is in progress.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Resource returns the resource registered under name.
func (l *Loader) Resource(name string) (*resource.Resource, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.resources[name]
	return r, ok
}

// Resources returns a snapshot of the registry.
func (l *Loader) Resources() map[string]*resource.Resource {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*resource.Resource, len(l.resources))
	for k, v := range l.resources {
		out[k] = v
	}
	return out
}

// Names returns the registered names in the order they were added.
func (l *Loader) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Loader) Concurrency() int { return l.queue.Concurrency() }

// SetConcurrency changes how many resources are fetched at once.
func (l *Loader) SetConcurrency(n int) error { return l.queue.SetConcurrency(n) }

// Load starts loading every queued resource and blocks until the cycle
// completes, ctx is done or the loader is reset. onComplete, when not nil,
// is called once with the registry when the cycle completes.
//
// Calling Load while a cycle is running only subscribes onComplete and
// returns nil immediately. Calling it from an OnComplete handler starts
// another cycle once the finished one has returned; the outer Load blocks
// until that cycle is over too.
//
// Load returns nil on completion. When ctx is done the loader is reset and
// ctx.Err() is returned; when Reset interrupts the cycle Load returns
// data.ErrReset.
func (l *Loader) Load(ctx context.Context, onComplete CompleteFunc) error {
	if onComplete != nil {
		l.OnComplete.Once(func(e CompleteEvent) { onComplete(e.Loader, e.Resources) })
	}

	for {
		l.mu.Lock()
		if l.cur != nil {
			if l.cur.done {
				l.again = true
			}
			l.mu.Unlock()
			return nil
		}
		id := uuid.NewString()
		c := &cycle{ctx: ctx, loop: eventloop.New(), log: l.log.With("operation_id", id)}
		l.cur = c
		backlog := l.backlog
		l.backlog = nil
		l.mu.Unlock()

		for _, fn := range backlog {
			c.loop.Post(fn)
		}
		c.loop.Post(func() { l.begin(c) })

		err := c.loop.Run(ctx)

		l.mu.Lock()
		done := c.done
		again := done && l.again
		l.again = false
		if l.cur == c {
			l.cur = nil
		}
		l.mu.Unlock()

		switch {
		case again:
			c.log.Debug("load requested on completion, starting next cycle")
		case done:
			return nil
		case err != nil:
			c.log.Warn("load cancelled", "err", err)
			l.Reset()
			return err
		default:
			return data.ErrReset
		}
	}
}

// begin runs on the loop at the start of a cycle.
func (l *Loader) begin(c *cycle) {
	if l.queue.Idle() {
		l.start()
		l.complete(c)
		return
	}

	items := l.queue.Items()
	chunk := MaxProgress / float64(len(items))
	for _, r := range items {
		r.SetProgressChunk(chunk)
	}
	c.log.Info("load started", "resources", len(items), "concurrency", l.queue.Concurrency())
	l.start()
	l.queue.Resume()
}

func (l *Loader) start() {
	l.mu.Lock()
	l.progress = 0
	l.loading = true
	l.mu.Unlock()
	metrics.Progress.Set(0)
	l.OnStart.Dispatch(l)
}

func (l *Loader) complete(c *cycle) {
	l.mu.Lock()
	if c.done || l.cur != c {
		l.mu.Unlock()
		return
	}
	c.done = true
	l.progress = MaxProgress
	l.loading = false
	resources := make(map[string]*resource.Resource, len(l.resources))
	for k, v := range l.resources {
		resources[k] = v
	}
	l.mu.Unlock()

	l.queue.Pause()
	metrics.Progress.Set(MaxProgress)
	c.log.Info("load complete", "resources", len(resources))
	l.OnComplete.Dispatch(CompleteEvent{Loader: l, Resources: resources})
	c.loop.Stop()
}

// Reset aborts every resource still loading, empties the queue and the
// registry and interrupts a running Load. It is safe to call at any time.
func (l *Loader) Reset() {
	l.mu.Lock()
	c := l.cur
	l.cur = nil
	l.again = false
	l.backlog = nil
	l.progress = 0
	l.loading = false
	resources := l.resources
	bindings := l.bindings
	l.resources = map[string]*resource.Resource{}
	l.order = nil
	l.parsing = map[*resource.Resource]struct{}{}
	l.dequeue = map[*resource.Resource]queue.DoneFunc{}
	l.bindings = map[*resource.Resource][]*signal.Binding{}
	l.mu.Unlock()

	if c != nil {
		c.loop.Stop()
	}
	l.queue.Reset()
	l.queue.Pause()
	metrics.Progress.Set(0)
	metrics.QueueRunning.Set(0)

	for _, bs := range bindings {
		for _, b := range bs {
			b.Detach()
		}
	}
	for _, r := range resources {
		if r.IsLoading() {
			r.Abort("loader reset")
		}
	}
}
