package v1

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tinoosan/preload/internal/reqid"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestID    = 128
)

// RequestID gives every request a correlation ID, stored with reqid.With and
// echoed in the response. An incoming X-Request-ID is kept when it is short
// printable ASCII; anything else is replaced by a fresh UUID so it cannot
// corrupt log lines.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(reqid.With(r.Context(), id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestID {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
