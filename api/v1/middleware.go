package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tinoosan/preload/internal/manifest"
	"github.com/tinoosan/preload/internal/reqid"
)

const maxBodyBytes = 1 << 20

// MiddlewareAssetValidation decodes a manifest asset from the body and
// stores it in the request context for AddResource.
func MiddlewareAssetValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := decodeStrict[manifest.Asset](w, r, maxBodyBytes)
		if err != nil {
			markErr(w, err)
			if errors.Is(err, ErrContentType) {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.Validate(); err != nil {
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAsset{}, a)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Resources) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)
		log := reqid.Logger(r.Context(), h.l)
		if rw.err != nil {
			log.Error(rw.err.Error(),
				"method", r.Method,
				"url", r.URL.Path,
				"status", rw.status,
				"remote", r.RemoteAddr,
				"ua", r.UserAgent(),
				"dur_ms", timeElapsed.Milliseconds(),
				"bytes", rw.bytes)
			return
		}

		log.Info("", "method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes)
	})
}
