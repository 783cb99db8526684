package v1

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
)

const jsonContentType = "application/json"

// decodeStrict decodes a single JSON value of type T from the request body.
// A Content-Type other than application/json (parameters allowed) yields
// ErrContentType; a missing one is accepted. Unknown fields, trailing data
// and bodies over maxBytes are rejected.
func decodeStrict[T any](w http.ResponseWriter, r *http.Request, maxBytes int64) (T, error) {
	var v T
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != jsonContentType {
			return v, ErrContentType
		}
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return v, errors.New("unexpected data after JSON value")
	}
	return v, nil
}
