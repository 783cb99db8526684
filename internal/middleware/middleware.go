// Package middleware runs priority-ordered hooks over resources before and
// after they are fetched.
package middleware

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tinoosan/preload/internal/resource"
)

// DefaultPriority is the priority used when none is given.
const DefaultPriority = 50

// ErrNextCalledTwice is the panic value raised when a middleware calls
// next more than once.
var ErrNextCalledTwice = errors.New("middleware: next called twice")

// Host is the loader as seen from a middleware.
type Host interface {
	// AddChild registers spec as a child of parent. It is the only way to
	// add resources while the loader is running.
	AddChild(parent *resource.Resource, spec resource.Spec) (*resource.Resource, error)
	Logger() *slog.Logger
}

// Func is one middleware step. It must call next exactly once to let the
// resource continue; never calling it stalls the resource.
type Func func(h Host, r *resource.Resource, next func())

type entry struct {
	fn       Func
	priority int
}

// Pipeline is an ordered list of middleware. Lower priorities run first;
// equal priorities keep registration order.
type Pipeline struct {
	mu      sync.Mutex
	entries []entry
}

// Use adds fn with the given priority.
func (p *Pipeline) Use(fn Func, priority int) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.entries = append(p.entries, entry{fn: fn, priority: priority})
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].priority < p.entries[j].priority
	})
	p.mu.Unlock()
}

// Len reports the number of registered middleware.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Clone returns an independent copy of p.
func (p *Pipeline) Clone() *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := &Pipeline{entries: make([]entry, len(p.entries))}
	copy(out.entries, p.entries)
	return out
}

func (p *Pipeline) funcs() []Func {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Func, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.fn
	}
	return out
}

// Run calls every middleware over r in order, then done. Each step is
// scheduled through post, so steps of different resources interleave but
// one resource's steps never overlap. Middleware added while Run is in
// progress are not seen by it.
func (p *Pipeline) Run(h Host, r *resource.Resource, post func(func()), done func()) {
	p.RunUntil(h, r, post, nil, done)
}

// RunUntil is Run with an early exit: stop is checked before each step and
// when it reports true the remaining steps are skipped.
func (p *Pipeline) RunUntil(h Host, r *resource.Resource, post func(func()), stop func() bool, done func()) {
	fns := p.funcs()
	var step func(i int)
	step = func(i int) {
		if i == len(fns) || (stop != nil && stop()) {
			if done != nil {
				done()
			}
			return
		}
		var called atomic.Bool
		post(func() {
			fns[i](h, r, func() {
				if called.Swap(true) {
					panic(ErrNextCalledTwice)
				}
				step(i + 1)
			})
		})
	}
	step(0)
}

// Registry holds the default before-load and after-load middleware that
// loaders start with. A loader copies the registry when it is built, so
// later changes only affect loaders built afterwards.
type Registry struct {
	pre  Pipeline
	post Pipeline
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Pre registers a default before-load middleware.
func (r *Registry) Pre(fn Func, priority int) { r.pre.Use(fn, priority) }

// Use registers a default after-load middleware.
func (r *Registry) Use(fn Func, priority int) { r.post.Use(fn, priority) }

// Snapshot returns copies of the before-load and after-load pipelines.
func (r *Registry) Snapshot() (pre, post *Pipeline) {
	if r == nil {
		return &Pipeline{}, &Pipeline{}
	}
	return r.pre.Clone(), r.post.Clone()
}
