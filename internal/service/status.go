package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/preload/internal/loader"
	"github.com/tinoosan/preload/internal/manifest"
	"github.com/tinoosan/preload/internal/resource"
	"github.com/tinoosan/preload/internal/signal"
)

var (
	// ErrNotFound is returned when a named resource is not registered.
	ErrNotFound = errors.New("resource not found")
	// ErrStopped is returned by operations that need a running Tracker.
	ErrStopped = errors.New("status service is not running")
)

// EventType names the loader signal an Event came from.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventLoad     EventType = "load"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is a loader signal as published to subscribers.
type Event struct {
	Type     EventType `json:"type"`
	Name     string    `json:"name,omitempty"`
	Progress float64   `json:"progress"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// ResourceStatus describes one resource.
type ResourceStatus struct {
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	State         string   `json:"state"`
	Type          string   `json:"type"`
	LoadType      string   `json:"loadType"`
	Error         string   `json:"error,omitempty"`
	ProgressChunk float64  `json:"progressChunk"`
	Parent        string   `json:"parent,omitempty"`
	Children      []string `json:"children,omitempty"`
}

// Snapshot is the state of a loader at one point in time.
type Snapshot struct {
	Loading   bool             `json:"loading"`
	Progress  float64          `json:"progress"`
	Resources []ResourceStatus `json:"resources"`
}

// Status exposes a loader to the API.
type Status interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Resource(ctx context.Context, name string) (ResourceStatus, error)
	// Subscribe returns a channel of events that is closed when ctx is
	// done or the service stops. Slow subscribers miss events.
	Subscribe(ctx context.Context) <-chan Event
	// Add validates and registers one asset.
	Add(ctx context.Context, a manifest.Asset) (ResourceStatus, error)
	// Start begins a load cycle in the background and returns at once.
	Start(ctx context.Context) error
}

// Tracker implements Status for one loader and fans its signals out to
// subscribers.
type Tracker struct {
	l      *loader.Loader
	log    *slog.Logger
	events chan Event

	mu       sync.Mutex
	subs     map[chan Event]struct{}
	bindings []*signal.Binding
	stop     chan struct{}
	cancel   context.CancelFunc
	ctx      context.Context
	wg       sync.WaitGroup
}

var _ Status = (*Tracker)(nil)

// NewTracker builds a Tracker for l. Call Run to start publishing.
func NewTracker(log *slog.Logger, l *loader.Loader) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		l:      l,
		log:    log,
		events: make(chan Event, 256),
		subs:   map[chan Event]struct{}{},
	}
}

// Run subscribes to the loader and starts the fan-out loop.
func (t *Tracker) Run() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.log = t.log.With("operation_id", uuid.NewString())

	t.bindings = []*signal.Binding{
		t.l.OnStart.Add(func(l *loader.Loader) {
			t.publish(Event{Type: EventStart, Progress: l.Progress()})
		}),
		t.l.OnProgress.Add(func(e loader.ResourceEvent) {
			t.publish(Event{Type: EventProgress, Name: e.Resource.Name(), Progress: e.Loader.Progress()})
		}),
		t.l.OnLoad.Add(func(e loader.ResourceEvent) {
			t.publish(Event{Type: EventLoad, Name: e.Resource.Name(), Progress: e.Loader.Progress()})
		}),
		t.l.OnError.Add(func(e loader.ErrorEvent) {
			t.publish(Event{Type: EventError, Name: e.Resource.Name(), Progress: e.Loader.Progress(), Error: e.Err})
		}),
		t.l.OnComplete.Add(func(e loader.CompleteEvent) {
			t.publish(Event{Type: EventComplete, Progress: e.Loader.Progress()})
		}),
	}

	t.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer t.wg.Done()
		for {
			select {
			case <-stop:
				return
			case e := <-t.events:
				t.fanOut(e)
			}
		}
	}(t.stop)
}

// Stop detaches from the loader, stops the fan-out loop and closes every
// subscriber channel.
func (t *Tracker) Stop() {
	t.mu.Lock()
	stop := t.stop
	bindings := t.bindings
	cancel := t.cancel
	t.stop = nil
	t.bindings = nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	for _, b := range bindings {
		b.Detach()
	}
	cancel()
	close(stop)
	t.wg.Wait()

	t.mu.Lock()
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
	t.mu.Unlock()
}

// publish never blocks: it runs on the loader's loop.
func (t *Tracker) publish(e Event) {
	e.Time = time.Now()
	select {
	case t.events <- e:
	default:
		t.log.Warn("status event dropped", "type", e.Type, "name", e.Name)
	}
}

func (t *Tracker) fanOut(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (t *Tracker) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)
	t.mu.Lock()
	stop := t.stop
	if stop == nil {
		t.mu.Unlock()
		close(ch)
		return ch
	}
	t.subs[ch] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		t.mu.Lock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
		t.mu.Unlock()
	}()
	return ch
}

func (t *Tracker) Add(_ context.Context, a manifest.Asset) (ResourceStatus, error) {
	if err := a.Validate(); err != nil {
		return ResourceStatus{}, err
	}
	if err := t.l.Add(a.Input()); err != nil {
		return ResourceStatus{}, err
	}
	name := a.Name
	if name == "" {
		name = a.URL
	}
	r, ok := t.l.Resource(name)
	if !ok {
		return ResourceStatus{}, ErrNotFound
	}
	return describe(r), nil
}

// Start runs Load on its own goroutine until the cycle completes or the
// Tracker stops. A cycle that is already running is joined.
func (t *Tracker) Start(_ context.Context) error {
	t.mu.Lock()
	if t.stop == nil {
		t.mu.Unlock()
		return ErrStopped
	}
	ctx := t.ctx
	log := t.log
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		if err := t.l.Load(ctx, nil); err != nil {
			log.Warn("load cycle ended early", "err", err)
		}
	}()
	return nil
}

func (t *Tracker) Snapshot(_ context.Context) (Snapshot, error) {
	s := Snapshot{Loading: t.l.Loading(), Progress: t.l.Progress()}
	for _, name := range t.l.Names() {
		if r, ok := t.l.Resource(name); ok {
			s.Resources = append(s.Resources, describe(r))
		}
	}
	return s, nil
}

func (t *Tracker) Resource(_ context.Context, name string) (ResourceStatus, error) {
	r, ok := t.l.Resource(name)
	if !ok {
		return ResourceStatus{}, ErrNotFound
	}
	return describe(r), nil
}

func describe(r *resource.Resource) ResourceStatus {
	rs := ResourceStatus{
		Name:          r.Name(),
		URL:           r.URL(),
		State:         string(r.State()),
		Type:          string(r.Type()),
		LoadType:      string(r.LoadType()),
		Error:         r.Error(),
		ProgressChunk: r.ProgressChunk(),
	}
	if p := r.Parent(); p != nil {
		rs.Parent = p.Name()
	}
	for _, c := range r.Children() {
		rs.Children = append(rs.Children, c.Name())
	}
	sort.Strings(rs.Children)
	return rs
}
