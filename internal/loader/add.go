package loader

import (
	"errors"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/resource"
	"github.com/tinoosan/preload/internal/urlutil"
)

// Input is anything Add accepts: URL, Named, Spec or List.
type Input interface {
	specs() []resource.Spec
}

// URL adds a resource named after its own URL.
type URL string

func (u URL) specs() []resource.Spec {
	return []resource.Spec{{Name: string(u), URL: string(u)}}
}

type named struct{ name, url string }

func (n named) specs() []resource.Spec {
	return []resource.Spec{{Name: n.name, URL: n.url}}
}

// Named adds url under name.
func Named(name, url string) Input { return named{name: name, url: url} }

// Spec adds a resource with load options. Name defaults to URL.
type Spec resource.Spec

func (s Spec) specs() []resource.Spec { return []resource.Spec{resource.Spec(s)} }

type list []Input

func (l list) specs() []resource.Spec {
	var out []resource.Spec
	for _, in := range l {
		if in != nil {
			out = append(out, in.specs()...)
		}
	}
	return out
}

// List groups inputs. Nested lists are flattened.
func List(in ...Input) Input { return list(in) }

// normalize flattens inputs into specs with their names resolved.
func normalize(in ...Input) []resource.Spec {
	specs := list(in).specs()
	for i := range specs {
		if specs[i].Name == "" {
			specs[i].Name = specs[i].URL
		}
	}
	return specs
}

// Add registers and queues resources. Each input is added on its own: a
// failing input does not undo the ones before it. The returned error joins
// a *data.ConfigError for every input that was rejected.
func (l *Loader) Add(in ...Input) error {
	var errs []error
	for _, spec := range normalize(in...) {
		if _, err := l.add(spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddChild registers spec as a child of parent. Unlike Add it is allowed
// while loading; parent's progress share is split with the new child.
func (l *Loader) AddChild(parent *resource.Resource, spec resource.Spec) (*resource.Resource, error) {
	spec.Options.Parent = parent
	if spec.Name == "" {
		spec.Name = spec.URL
	}
	return l.add(spec)
}

func (l *Loader) add(spec resource.Spec) (*resource.Resource, error) {
	if spec.URL == "" {
		return nil, &data.ConfigError{Name: spec.Name, Err: data.ErrMissingURL}
	}
	opts := spec.Options
	if opts.Timeout == 0 {
		opts.Timeout = l.cfg.Timeout
	}
	var r *resource.Resource
	r = resource.New(spec.Name, urlutil.Prepare(spec.URL, l.cfg.BaseURL, l.cfg.DefaultQuery), opts, resource.Env{
		Tables:     l.tables,
		Strategies: l.strategies,
		Origin:     l.cfg.Origin,
		Post:       func(fn func()) { l.scheduleFor(r, fn) },
	})

	l.mu.Lock()
	if _, ok := l.resources[spec.Name]; ok {
		l.mu.Unlock()
		return nil, &data.ConfigError{Name: spec.Name, URL: spec.URL, Err: data.ErrDuplicateName}
	}
	if l.loading && opts.Parent == nil {
		l.mu.Unlock()
		return nil, &data.ConfigError{Name: spec.Name, URL: spec.URL, Err: data.ErrLoadingNoParent}
	}
	l.resources[spec.Name] = r
	l.order = append(l.order, spec.Name)
	if opts.OnComplete != nil {
		l.bindings[r] = append(l.bindings[r], r.OnAfterMiddleware.Once(opts.OnComplete))
	}
	if l.loading {
		splitChunk(opts.Parent, r)
	}
	l.mu.Unlock()

	l.queue.Push(r, nil)
	return r, nil
}

// splitChunk gives child a share of parent's progress. The parent and
// each of its incomplete children hold equal shares; the subtree's total
// is spread evenly over them and the new child.
func splitChunk(parent, child *resource.Resource) {
	var incomplete []*resource.Resource
	for _, c := range parent.Children() {
		if !c.IsComplete() {
			incomplete = append(incomplete, c)
		}
	}
	full := parent.ProgressChunk() * float64(len(incomplete)+1)
	each := full / float64(len(incomplete)+2)

	parent.AddChild(child)
	parent.SetProgressChunk(each)
	for _, c := range incomplete {
		c.SetProgressChunk(each)
	}
	child.SetProgressChunk(each)
}
