package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
	"github.com/tinoosan/preload/internal/eventloop"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStrategy hands the request and reporter to script on a new goroutine.
type fakeStrategy struct {
	script func(req downloader.Request, rep downloader.Reporter)

	mu      sync.Mutex
	req     downloader.Request
	aborted bool
}

func (f *fakeStrategy) Load(_ context.Context, req downloader.Request, rep downloader.Reporter) {
	f.mu.Lock()
	f.req = req
	f.mu.Unlock()
	if f.script != nil {
		go f.script(req, rep)
	}
}

func (f *fakeStrategy) Abort() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
}

func (f *fakeStrategy) request() downloader.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.req
}

func (f *fakeStrategy) wasAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func strategies(f *fakeStrategy) downloader.Strategies {
	factory := func() downloader.Strategy { return f }
	return downloader.Strategies{
		data.LoadRequest: factory,
		data.LoadImage:   factory,
		data.LoadAudio:   factory,
		data.LoadVideo:   factory,
	}
}

// runLoop runs body on a fresh event loop and returns once body's work
// stops the loop.
func runLoop(t *testing.T, body func(loop *eventloop.Loop)) {
	t.Helper()
	loop := eventloop.New()
	loop.Post(func() { body(loop) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("loop: %v", err)
	}
}

func newResource(loop *eventloop.Loop, name, u string, opts Options, f *fakeStrategy) *Resource {
	return New(name, u, opts, Env{Strategies: strategies(f), Post: loop.Post})
}

func TestLoadSuccess(t *testing.T) {
	f := &fakeStrategy{script: func(_ downloader.Request, rep downloader.Reporter) {
		rep.Progress(0.5)
		rep.Complete(data.TypeText, "hello")
	}}
	var events []string
	var r *Resource
	runLoop(t, func(loop *eventloop.Loop) {
		r = newResource(loop, "a", "a.txt", Options{}, f)
		r.OnStart.Add(func(*Resource) { events = append(events, "start") })
		r.OnProgress.Add(func(p Progress) {
			if p.Resource != r || p.Fraction != 0.5 {
				t.Errorf("unexpected progress %+v", p)
			}
			events = append(events, "progress")
		})
		r.Load(context.Background(), func(*Resource) {
			events = append(events, "complete")
			loop.Stop()
		})
		if !r.IsLoading() {
			t.Errorf("state after Load = %s, want Loading", r.State())
		}
	})

	if diff := cmp.Diff([]string{"start", "progress", "complete"}, events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if !r.IsComplete() || r.Error() != "" {
		t.Fatalf("state=%s err=%q", r.State(), r.Error())
	}
	if r.Type() != data.TypeText || r.Data() != "hello" {
		t.Fatalf("type=%s data=%v", r.Type(), r.Data())
	}
	if got := f.request().ResponseKind; got != data.ResponseText {
		t.Fatalf("response kind = %q, want text", got)
	}
}

func TestLoadStrategyError(t *testing.T) {
	f := &fakeStrategy{script: func(_ downloader.Request, rep downloader.Reporter) {
		rep.Error("[404] Not Found: a.json")
	}}
	var r *Resource
	runLoop(t, func(loop *eventloop.Loop) {
		r = newResource(loop, "a", "a.json", Options{}, f)
		r.Load(context.Background(), func(*Resource) { loop.Stop() })
	})
	if !r.IsComplete() || r.Error() != "[404] Not Found: a.json" {
		t.Fatalf("state=%s err=%q", r.State(), r.Error())
	}
}

func TestAbortBeforeTransportCompletes(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	f := &fakeStrategy{script: func(_ downloader.Request, rep downloader.Reporter) {
		defer close(done)
		<-release
		rep.Complete(data.TypeText, "late")
	}}
	var r *Resource
	completions := 0
	runLoop(t, func(loop *eventloop.Loop) {
		r = newResource(loop, "a", "a.txt", Options{}, f)
		r.OnComplete.Add(func(*Resource) { completions++ })
		r.Load(context.Background(), nil)
		r.Abort("timeout")
		r.Abort("second")
		close(release)
		go func() {
			<-done
			loop.Post(loop.Stop)
		}()
	})

	if r.Error() != "timeout" || !r.IsComplete() || r.Data() != nil {
		t.Fatalf("err=%q complete=%v data=%v", r.Error(), r.IsComplete(), r.Data())
	}
	if !f.wasAborted() {
		t.Fatalf("strategy was not asked to abort")
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}
}

func TestCompleteTwicePanics(t *testing.T) {
	r := New("a", "a.txt", Options{}, Env{})
	r.Complete()
	defer func() {
		err, _ := recover().(error)
		if !errors.Is(err, ErrCompleteTwice) {
			t.Fatalf("recovered %v, want ErrCompleteTwice", err)
		}
	}()
	r.Complete()
	t.Fatalf("second Complete did not panic")
}

func TestLoadCompletedReplaysLater(t *testing.T) {
	f := &fakeStrategy{}
	called := false
	runLoop(t, func(loop *eventloop.Loop) {
		r := newResource(loop, "a", "a.txt", Options{}, f)
		r.Complete()
		r.Load(context.Background(), func(got *Resource) {
			if got != r {
				t.Errorf("callback got %v", got)
			}
			called = true
			loop.Stop()
		})
		if called {
			t.Errorf("completion replayed synchronously")
		}
	})
	if !called {
		t.Fatalf("completion was not replayed")
	}
	if f.request().URL != "" {
		t.Fatalf("strategy was started for a completed resource")
	}
}

func TestElementTimeout(t *testing.T) {
	f := &fakeStrategy{}
	var r *Resource
	runLoop(t, func(loop *eventloop.Loop) {
		r = newResource(loop, "a", "http://cdn/a.png", Options{Timeout: 10 * time.Millisecond}, f)
		r.Load(context.Background(), func(*Resource) { loop.Stop() })
	})
	if r.Error() != "Load timed out waiting for http://cdn/a.png" {
		t.Fatalf("err = %q", r.Error())
	}
	if !f.wasAborted() {
		t.Fatalf("strategy was not aborted on timeout")
	}
}

func TestRequestTimeoutIsPassedToStrategy(t *testing.T) {
	f := &fakeStrategy{script: func(_ downloader.Request, rep downloader.Reporter) {
		rep.Complete(data.TypeText, "")
	}}
	runLoop(t, func(loop *eventloop.Loop) {
		r := newResource(loop, "a", "a.txt", Options{Timeout: time.Second}, f)
		r.Load(context.Background(), func(*Resource) { loop.Stop() })
	})
	if got := f.request().Timeout; got != time.Second {
		t.Fatalf("request timeout = %v, want 1s", got)
	}
}

func TestLoadRequestShape(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    Options
		want    downloader.Request
		wantLT  data.LoadType
		wantExt string
	}{
		{
			name:    "image by extension",
			url:     "img/a.PNG?v=1#x",
			want:    downloader.Request{URL: "img/a.PNG?v=1#x", ResponseKind: data.ResponseBlob},
			wantLT:  data.LoadImage,
			wantExt: "png",
		},
		{
			name:    "explicit load type wins",
			url:     "a.png",
			opts:    Options{LoadType: data.LoadRequest, ResponseKind: data.ResponseBuffer},
			want:    downloader.Request{URL: "a.png", ResponseKind: data.ResponseBuffer},
			wantLT:  data.LoadRequest,
			wantExt: "png",
		},
		{
			name:    "media defaults to its url as only source",
			url:     "a.mp3",
			opts:    Options{CrossOrigin: data.CrossOriginCredentials},
			want:    downloader.Request{URL: "a.mp3", Sources: []downloader.Source{{URL: "a.mp3"}}, CrossOrigin: data.CrossOriginCredentials, ResponseKind: data.ResponseText},
			wantLT:  data.LoadAudio,
			wantExt: "mp3",
		},
		{
			name:    "data url subtype",
			url:     "data:image/svg+xml;base64,AAAA",
			want:    downloader.Request{URL: "data:image/svg+xml;base64,AAAA", ResponseKind: data.ResponseText},
			wantLT:  data.LoadImage,
			wantExt: "svg+xml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeStrategy{script: func(_ downloader.Request, rep downloader.Reporter) {
				rep.Complete(data.TypeUnknown, nil)
			}}
			var r *Resource
			runLoop(t, func(loop *eventloop.Loop) {
				r = newResource(loop, "a", tt.url, tt.opts, f)
				r.Load(context.Background(), func(*Resource) { loop.Stop() })
			})
			if r.Extension() != tt.wantExt {
				t.Fatalf("extension = %q, want %q", r.Extension(), tt.wantExt)
			}
			if r.LoadType() != tt.wantLT {
				t.Fatalf("load type = %q, want %q", r.LoadType(), tt.wantLT)
			}
			if diff := cmp.Diff(tt.want, f.request()); diff != "" {
				t.Fatalf("request (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLateReportsAreDropped(t *testing.T) {
	var rep downloader.Reporter
	got := make(chan struct{})
	f := &fakeStrategy{script: func(_ downloader.Request, r downloader.Reporter) {
		rep = r
		close(got)
	}}
	var r *Resource
	runLoop(t, func(loop *eventloop.Loop) {
		r = newResource(loop, "a", "a.txt", Options{}, f)
		r.Load(context.Background(), nil)
		go func() {
			<-got
			loop.Post(func() {
				r.Complete()
				rep.Error("too late")
				rep.Progress(1)
				loop.Post(loop.Stop)
			})
		}()
	})
	if r.Error() != "" {
		t.Fatalf("late error was recorded: %q", r.Error())
	}
}

func TestChildrenAndChunk(t *testing.T) {
	parent := New("p", "p.json", Options{}, Env{})
	child := New("c", "c.png", Options{Parent: parent}, Env{})
	parent.AddChild(child)
	parent.SetProgressChunk(50)

	if child.Parent() != parent {
		t.Fatalf("child parent not set")
	}
	if got := parent.Children(); len(got) != 1 || got[0] != child {
		t.Fatalf("children = %v", got)
	}
	if parent.ProgressChunk() != 50 {
		t.Fatalf("chunk = %v", parent.ProgressChunk())
	}
}
