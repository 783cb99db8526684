package v1

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/manifest"
	"github.com/tinoosan/preload/internal/reqid"
	"github.com/tinoosan/preload/internal/service"
)

// Resources serves the state of one loader.
type Resources struct {
	l   *slog.Logger
	svc service.Status
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the events endpoint upgrade through the logging wrapper.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyAsset struct{}

func NewResources(l *slog.Logger, svc service.Status) *Resources {
	return &Resources{l: l, svc: svc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		markErr(w, err)
	}
}

// ListResources returns the loader snapshot.
func (h *Resources) ListResources(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Snapshot(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to read loader state", http.StatusInternalServerError)
		return
	}
	if s.Resources == nil {
		s.Resources = []service.ResourceStatus{}
	}
	writeJSON(w, http.StatusOK, s)
}

// GetResource returns one resource by name.
func (h *Resources) GetResource(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rs, err := h.svc.Resource(r.Context(), name)
	if err != nil {
		markErr(w, err)
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to read resource", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// AddResource registers the asset decoded by MiddlewareAssetValidation.
func (h *Resources) AddResource(w http.ResponseWriter, r *http.Request) {
	a, ok := r.Context().Value(ctxKeyAsset{}).(manifest.Asset)
	if !ok {
		markErr(w, ErrAssetCtx)
		http.Error(w, ErrAssetCtx.Error(), http.StatusInternalServerError)
		return
	}
	rs, err := h.svc.Add(r.Context(), a)
	if err != nil {
		markErr(w, err)
		switch {
		case errors.Is(err, data.ErrDuplicateName):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, data.ErrLoadingNoParent):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	reqid.Logger(r.Context(), h.l).Info("resource added", "name", rs.Name, "url", rs.URL)
	writeJSON(w, http.StatusCreated, rs)
}

// StartLoad begins a load cycle and answers 202 without waiting for it.
func (h *Resources) StartLoad(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Start(r.Context()); err != nil {
		markErr(w, err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Events streams loader events over a websocket as JSON text messages
// until the client goes away or the service stops.
func (h *Resources) Events(w http.ResponseWriter, r *http.Request) {
	log := reqid.Logger(r.Context(), h.l)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Subscribe before the handshake so a client sees every event sent
	// after its dial returns.
	events := h.svc.Subscribe(ctx)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(e)
			if err != nil {
				log.Error("encode event", "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				log.Debug("events client gone", "err", err)
				return
			}
		}
	}
}
