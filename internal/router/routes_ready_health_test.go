package router

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tinoosan/preload/internal/manifest"
	"github.com/tinoosan/preload/internal/service"
)

// fakeStatus is a stub to satisfy service.Status in router tests.
type fakeStatus struct{ snap service.Snapshot }

func (f *fakeStatus) Snapshot(context.Context) (service.Snapshot, error) { return f.snap, nil }
func (f *fakeStatus) Resource(context.Context, string) (service.ResourceStatus, error) {
	return service.ResourceStatus{}, service.ErrNotFound
}
func (f *fakeStatus) Subscribe(context.Context) <-chan service.Event {
	ch := make(chan service.Event)
	close(ch)
	return ch
}
func (f *fakeStatus) Add(context.Context, manifest.Asset) (service.ResourceStatus, error) {
	return service.ResourceStatus{}, nil
}
func (f *fakeStatus) Start(context.Context) error { return nil }

var _ service.Status = (*fakeStatus)(nil)

func TestHealthzOK(t *testing.T) {
	r := New(slog.Default(), &fakeStatus{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Fatalf("expected body 'ok', got %q", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name string
		snap service.Snapshot
		want int
	}{
		{name: "never loaded", snap: service.Snapshot{}, want: http.StatusServiceUnavailable},
		{name: "loading", snap: service.Snapshot{Loading: true, Progress: 40}, want: http.StatusServiceUnavailable},
		{name: "complete", snap: service.Snapshot{Progress: 100}, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New(slog.Default(), &fakeStatus{snap: tc.snap})
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
