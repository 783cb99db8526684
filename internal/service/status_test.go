package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/loadcfg"
	"github.com/tinoosan/preload/internal/loader"
	"github.com/tinoosan/preload/internal/manifest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLoader(t *testing.T) *loader.Loader {
	t.Helper()
	l, err := loader.New(loadcfg.Default(), loader.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	err = l.Add(
		loader.Named("greeting", "data:text/plain,hello"),
		loader.Named("config", "data:application/json,%7B%22a%22%3A1%7D"),
	)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return l
}

func TestTrackerPublishesLoadEvents(t *testing.T) {
	l := newTestLoader(t)
	tr := NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)), l)
	tr.Run()
	defer tr.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := tr.Subscribe(ctx)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer loadCancel()
	if err := l.Load(loadCtx, nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	var got []EventType
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e := <-events:
			got = append(got, e.Type)
			done = e.Type == EventComplete
			if e.Time.IsZero() {
				t.Fatalf("event without time: %+v", e)
			}
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	want := []EventType{EventStart, EventProgress, EventLoad, EventProgress, EventLoad, EventComplete}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestTrackerSnapshotAndResource(t *testing.T) {
	l := newTestLoader(t)
	tr := NewTracker(nil, l)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Load(ctx, nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	s, err := tr.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Loading || s.Progress != loader.MaxProgress || len(s.Resources) != 2 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Resources[0].Name != "greeting" || s.Resources[1].Name != "config" {
		t.Fatalf("snapshot order = %q, %q", s.Resources[0].Name, s.Resources[1].Name)
	}

	rs, err := tr.Resource(ctx, "config")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	if rs.State != "Complete" || rs.Type != "json" || rs.Error != "" {
		t.Fatalf("config = %+v", rs)
	}

	if _, err := tr.Resource(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTrackerSubscriptionLifecycle(t *testing.T) {
	tr := NewTracker(nil, newTestLoader(t))

	t.Run("before run", func(t *testing.T) {
		if _, ok := <-tr.Subscribe(context.Background()); ok {
			t.Fatalf("subscription before Run is open")
		}
	})

	tr.Run()

	t.Run("context cancel closes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ch := tr.Subscribe(ctx)
		cancel()
		select {
		case _, ok := <-ch:
			if ok {
				t.Fatalf("unexpected event")
			}
		case <-time.After(time.Second):
			t.Fatalf("channel not closed after cancel")
		}
	})

	t.Run("stop closes", func(t *testing.T) {
		ch := tr.Subscribe(context.Background())
		tr.Stop()
		if _, ok := <-ch; ok {
			t.Fatalf("unexpected event after stop")
		}
		tr.Stop()
	})
}

func TestTrackerAddAndStart(t *testing.T) {
	l := newTestLoader(t)
	tr := NewTracker(nil, l)
	ctx := context.Background()

	if err := tr.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("start before run: expected ErrStopped, got %v", err)
	}

	tr.Run()
	defer tr.Stop()

	tests := []struct {
		name    string
		asset   manifest.Asset
		wantErr error
	}{
		{name: "added", asset: manifest.Asset{Name: "extra", URL: "data:text/plain,x"}},
		{name: "missing url", asset: manifest.Asset{Name: "nothing"}, wantErr: data.ErrMissingURL},
		{name: "duplicate", asset: manifest.Asset{Name: "greeting", URL: "data:text/plain,x"}, wantErr: data.ErrDuplicateName},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rs, err := tr.Add(ctx, tc.asset)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if rs.Name != "extra" || rs.State != string(data.StateNotStarted) {
				t.Fatalf("added = %+v", rs)
			}
		})
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := tr.Subscribe(subCtx)
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != EventComplete {
				continue
			}
			if e.Progress != loader.MaxProgress {
				t.Fatalf("complete progress = %v", e.Progress)
			}
			if n := len(l.Names()); n != 3 {
				t.Fatalf("resources = %d, want 3", n)
			}
			return
		case <-timeout:
			t.Fatalf("timed out waiting for completion")
		}
	}
}
