// Package resource implements the load state machine for a single asset.
//
// A Resource is owned by a loader and mutated on the loader's event loop.
// Accessors are safe to call from other goroutines.
package resource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
	"github.com/tinoosan/preload/internal/signal"
)

// ErrCompleteTwice is the panic value raised when a resource is completed a
// second time.
var ErrCompleteTwice = errors.New("resource: complete called on a completed resource")

// Options carries the per-resource load hints. Zero values mean "work it out
// from the URL".
type Options struct {
	// Parent marks the resource as a child discovered while loading Parent.
	Parent       *Resource
	CrossOrigin  string
	Timeout      time.Duration
	LoadType     data.LoadType
	ResponseKind data.ResponseKind
	// Sources lists the candidate locations of a media resource. When
	// empty the resource URL is the only source.
	Sources  []downloader.Source
	Metadata map[string]any
	// OnComplete is called once when the resource has been processed by
	// the loader, after-load middleware included.
	OnComplete func(*Resource)
}

// Spec is a normalized request to add one resource.
type Spec struct {
	Name    string
	URL     string
	Options Options
}

// Env is what a resource needs from its loader.
type Env struct {
	Tables     *Tables
	Strategies downloader.Strategies
	// Origin is the document origin used for cross-origin resolution. Nil
	// disables cross-origin detection.
	Origin *url.URL
	// Post schedules fn on the loader's event loop. It must be safe to
	// call from any goroutine.
	Post func(fn func())
}

// Progress is dispatched on OnProgress with the fraction (0..1) of the
// transport that has completed.
type Progress struct {
	Resource *Resource
	Fraction float64
}

// Resource is one loadable asset.
type Resource struct {
	name      string
	url       string
	extension string
	opts      Options
	env       Env

	mu          sync.Mutex
	state       data.State
	data        any
	typ         data.Type
	err         string
	crossOrigin string
	chunk       float64
	children    []*Resource
	strategy    downloader.Strategy
	timer       *time.Timer
	cancel      context.CancelFunc
	startedAt   time.Time

	// OnStart fires when the transport is started.
	OnStart signal.Signal[*Resource]
	// OnProgress fires as the transport reports progress.
	OnProgress signal.Signal[Progress]
	// OnComplete fires once when the transport finished, successfully or not.
	OnComplete signal.Signal[*Resource]
	// OnAfterMiddleware fires once the loader has run after-load middleware.
	OnAfterMiddleware signal.Signal[*Resource]
}

// New builds a resource in the NotStarted state. The caller has already
// validated name and url.
func New(name, rawURL string, opts Options, env Env) *Resource {
	if env.Tables == nil {
		env.Tables = DefaultTables()
	}
	if env.Post == nil {
		env.Post = func(fn func()) { go fn() }
	}
	if len(opts.Metadata) > 0 {
		md := make(map[string]any, len(opts.Metadata))
		for k, v := range opts.Metadata {
			md[k] = v
		}
		opts.Metadata = md
	}
	return &Resource{
		name:      name,
		url:       rawURL,
		extension: extensionOf(rawURL),
		opts:      opts,
		env:       env,
		state:     data.StateNotStarted,
		typ:       data.TypeUnknown,
	}
}

func (r *Resource) Name() string      { return r.name }
func (r *Resource) URL() string       { return r.url }
func (r *Resource) Extension() string { return r.extension }
func (r *Resource) Parent() *Resource { return r.opts.Parent }

// Timeout is the per-resource load timeout, zero for none.
func (r *Resource) Timeout() time.Duration { return r.opts.Timeout }

// Metadata returns the caller supplied metadata. It must not be modified.
func (r *Resource) Metadata() map[string]any { return r.opts.Metadata }

// IsDataURL reports whether the resource is inlined in its URL.
func (r *Resource) IsDataURL() bool { return strings.HasPrefix(r.url, "data:") }

// LoadType is the explicit load type, else the one registered for the
// extension.
func (r *Resource) LoadType() data.LoadType {
	if r.opts.LoadType != "" {
		return r.opts.LoadType
	}
	return r.env.Tables.LoadType(r.extension)
}

// ResponseKind is the explicit response kind, else the one registered for
// the extension.
func (r *Resource) ResponseKind() data.ResponseKind {
	if r.opts.ResponseKind != data.ResponseDefault {
		return r.opts.ResponseKind
	}
	return r.env.Tables.ResponseKind(r.extension)
}

// CrossOrigin returns the policy in effect. Before Load it is whatever was
// requested.
func (r *Resource) CrossOrigin() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == data.StateNotStarted {
		return r.opts.CrossOrigin
	}
	return r.crossOrigin
}

func (r *Resource) State() data.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resource) IsLoading() bool { return r.State() == data.StateLoading }

func (r *Resource) IsComplete() bool { return r.State() == data.StateComplete }

// Data returns the payload. Its dynamic type depends on Type.
func (r *Resource) Data() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// SetData replaces the payload. Middleware uses it to transform results.
func (r *Resource) SetData(v any) {
	r.mu.Lock()
	r.data = v
	r.mu.Unlock()
}

func (r *Resource) Type() data.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typ
}

func (r *Resource) SetType(t data.Type) {
	r.mu.Lock()
	r.typ = t
	r.mu.Unlock()
}

// Error returns the failure message, empty on success.
func (r *Resource) Error() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// SetError records a failure found after the transport completed, such as
// a payload middleware could not decode. It does not change the state.
func (r *Resource) SetError(message string) {
	r.mu.Lock()
	r.err = message
	r.mu.Unlock()
}

// ProgressChunk is the share of the loader's 0..100 progress this resource
// accounts for.
func (r *Resource) ProgressChunk() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunk
}

func (r *Resource) SetProgressChunk(c float64) {
	r.mu.Lock()
	r.chunk = c
	r.mu.Unlock()
}

// Children returns the resources added while processing r, in order.
func (r *Resource) Children() []*Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Resource, len(r.children))
	copy(out, r.children)
	return out
}

// AddChild records c as discovered while processing r. It does not change
// ownership of c.
func (r *Resource) AddChild(c *Resource) {
	r.mu.Lock()
	r.children = append(r.children, c)
	r.mu.Unlock()
}

// Load starts loading. cb, when not nil, is called once on completion.
// Loading an already loading resource does nothing; loading a completed one
// replays the completion to cb on a later turn of the event loop.
func (r *Resource) Load(ctx context.Context, cb func(*Resource)) {
	r.mu.Lock()
	switch r.state {
	case data.StateLoading:
		r.mu.Unlock()
		return
	case data.StateComplete:
		r.mu.Unlock()
		if cb != nil {
			r.env.Post(func() { cb(r) })
		}
		return
	}
	r.state = data.StateLoading
	r.startedAt = time.Now()
	r.mu.Unlock()

	if cb != nil {
		r.OnComplete.Once(cb)
	}
	r.OnStart.Dispatch(r)

	crossOrigin := r.resolveCrossOrigin()
	lt := r.LoadType()
	req := downloader.Request{
		URL:          r.url,
		CrossOrigin:  crossOrigin,
		ResponseKind: r.ResponseKind(),
		Metadata:     r.opts.Metadata,
	}
	switch lt {
	case data.LoadAudio, data.LoadVideo:
		req.Sources = r.opts.Sources
		if len(req.Sources) == 0 {
			req.Sources = []downloader.Source{{URL: r.url}}
		}
	case data.LoadRequest:
		req.Timeout = r.opts.Timeout
	}

	strategy, err := r.env.Strategies.New(lt)
	if err != nil {
		r.Abort(err.Error())
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.crossOrigin = crossOrigin
	r.strategy = strategy
	r.cancel = cancel
	// the request strategy enforces its own deadline
	if lt != data.LoadRequest && r.opts.Timeout > 0 {
		r.timer = time.AfterFunc(r.opts.Timeout, func() {
			r.env.Post(func() { r.Abort(fmt.Sprintf("Load timed out waiting for %s", r.url)) })
		})
	}
	r.mu.Unlock()

	strategy.Load(ctx, req, &reporter{r: r, strategy: strategy})
}

func (r *Resource) resolveCrossOrigin() string {
	switch r.opts.CrossOrigin {
	case data.CrossOriginSame:
		return data.CrossOriginNone
	case data.CrossOriginNone:
		return determineCrossOrigin(r.url, r.env.Origin)
	default:
		return r.opts.CrossOrigin
	}
}

// Complete marks the resource complete and fires OnComplete. Middleware
// may call it before the transport has been started to skip loading.
// Completing a resource twice panics with ErrCompleteTwice.
func (r *Resource) Complete() {
	r.mu.Lock()
	if r.state == data.StateComplete {
		r.mu.Unlock()
		panic(ErrCompleteTwice)
	}
	r.state = data.StateComplete
	r.releaseLocked()
	r.mu.Unlock()

	r.OnComplete.Dispatch(r)
}

// Abort fails the resource with message and cancels its transport. It does
// nothing when the resource already failed or already completed.
func (r *Resource) Abort(message string) {
	r.mu.Lock()
	if r.err != "" || r.state == data.StateComplete {
		r.mu.Unlock()
		return
	}
	r.err = message
	r.data = nil
	strategy := r.strategy
	r.mu.Unlock()

	if strategy != nil {
		strategy.Abort()
	}
	r.Complete()
}

// Duration is the time between Load and completion, zero if either has not
// happened.
func (r *Resource) Duration(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		return 0
	}
	return now.Sub(r.startedAt)
}

// releaseLocked drops the transport hooks: the timeout timer and the
// strategy context.
func (r *Resource) releaseLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.strategy = nil
}

// reporter moves strategy reports onto the event loop. Reports arriving
// after the resource completed, or from a strategy the resource no longer
// owns, are dropped.
type reporter struct {
	r        *Resource
	strategy downloader.Strategy
}

func (rp *reporter) current() bool {
	rp.r.mu.Lock()
	defer rp.r.mu.Unlock()
	return rp.r.state == data.StateLoading && rp.r.strategy == rp.strategy
}

func (rp *reporter) Progress(fraction float64) {
	rp.r.env.Post(func() {
		if rp.current() {
			rp.r.OnProgress.Dispatch(Progress{Resource: rp.r, Fraction: fraction})
		}
	})
}

func (rp *reporter) Complete(typ data.Type, payload any) {
	rp.r.env.Post(func() {
		if !rp.current() {
			return
		}
		rp.r.mu.Lock()
		rp.r.typ = typ
		rp.r.data = payload
		rp.r.mu.Unlock()
		rp.r.Complete()
	})
}

func (rp *reporter) Error(message string) {
	rp.r.env.Post(func() {
		if !rp.current() {
			return
		}
		rp.r.mu.Lock()
		rp.r.err = message
		rp.r.mu.Unlock()
		rp.r.Complete()
	})
}
