package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tinoosan/preload/api/v1"
	"github.com/tinoosan/preload/internal/auth"
	"github.com/tinoosan/preload/internal/loader"
	"github.com/tinoosan/preload/internal/service"
)

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, svc service.Status) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	// Ready once a load cycle has completed and no other is running.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.Snapshot(r.Context())
		if err != nil || s.Loading || s.Progress < loader.MaxProgress {
			http.Error(w, "loading", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	resources := v1.NewResources(logger, svc)

	r.Use(v1.RequestID)
	r.Use(resources.Log)
	r.Use(auth.Middleware)

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/resources", resources.ListResources)
	get.HandleFunc("/resources/{name}", resources.GetResource)
	get.HandleFunc("/events", resources.Events)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/load", resources.StartLoad)
	post.Handle("/resources", v1.MiddlewareAssetValidation(http.HandlerFunc(resources.AddResource)))

	return r
}
