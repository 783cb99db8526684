package httpreq

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var errMalformedDataURL = errors.New("malformed data url")

// dataTransport answers data: URLs (RFC 2397) without touching the network.
type dataTransport struct{}

func (dataTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ct, body, err := decodeDataURL(req.URL.String())
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Content-Type", ct)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

func decodeDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, errMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errMalformedDataURL
	}
	b64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, b64 = m, true
	}
	if meta == "" {
		meta = "text/plain;charset=US-ASCII"
	}
	if b64 {
		payload, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, err
		}
		body, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, err
		}
		return meta, body, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, err
	}
	return meta, []byte(text), nil
}
