package httpreq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"

	"github.com/tinoosan/preload/internal/data"
	"github.com/tinoosan/preload/internal/downloader"
	"github.com/tinoosan/preload/internal/metrics"
)

// Strategy fetches a resource with a single GET request.
type Strategy struct {
	c *Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted atomic.Bool
}

var _ downloader.Strategy = (*Strategy)(nil)

// Load starts the request on its own goroutine.
func (s *Strategy) Load(ctx context.Context, req downloader.Request, rep downloader.Reporter) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go func() {
		defer cancel()
		s.run(ctx, req, rep)
	}()
}

// Abort cancels the in-flight request.
func (s *Strategy) Abort() {
	s.aborted.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Strategy) run(ctx context.Context, req downloader.Request, rep downloader.Reporter) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	if s.c.limiter != nil {
		if err := s.c.limiter.Wait(ctx); err != nil {
			rep.Error(s.failure(ctx, 0, err.Error()))
			return
		}
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		rep.Error(s.failure(ctx, 0, err.Error()))
		return
	}
	hreq.Header.Set("Accept", req.ResponseKind.MimeType()+", */*;q=0.8")
	if req.CrossOrigin != "" && s.c.origin != "" {
		hreq.Header.Set("Origin", s.c.origin)
	}

	start := time.Now()
	resp, err := s.c.clientFor(req.CrossOrigin).Do(hreq)
	if err != nil {
		metrics.HTTPRequestLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		rep.Error(s.failure(ctx, 0, err.Error()))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readWithProgress(resp.Body, resp.ContentLength, rep)
	metrics.HTTPRequestLatency.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		rep.Error(s.failure(ctx, resp.StatusCode, err.Error()))
		return
	}

	code := effectiveStatus(resp.StatusCode, len(body), req.ResponseKind)
	if !statusIsOK(code) {
		rep.Error(fmt.Sprintf("[%d] %s: %s", resp.StatusCode, statusText(resp), resp.Request.URL.String()))
		return
	}

	typ, payload, perr := interpret(req.ResponseKind, resp.Header.Get("Content-Type"), body)
	if perr != nil {
		rep.Error(perr.Error())
		return
	}
	rep.Complete(typ, payload)
}

// failure builds the message for a request that produced no usable response.
func (s *Strategy) failure(ctx context.Context, code int, text string) string {
	switch {
	case s.aborted.Load():
		return "Request was aborted by the user."
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "Request timed out."
	default:
		return fmt.Sprintf("Request failed. Status: %d, text: %q", code, text)
	}
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// readWithProgress reads r fully, reporting the loaded fraction whenever the
// total length is known.
func readWithProgress(r io.Reader, total int64, rep downloader.Reporter) ([]byte, error) {
	if total <= 0 {
		return io.ReadAll(r)
	}
	buf := bytes.NewBuffer(make([]byte, 0, total))
	chunk := make([]byte, 32*1024)
	var loaded int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			loaded += int64(n)
			rep.Progress(float64(loaded) / float64(total))
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// interpret converts a successful body according to the response kind.
func interpret(kind data.ResponseKind, contentType string, body []byte) (data.Type, any, error) {
	switch kind {
	case data.ResponseJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return data.TypeUnknown, nil, fmt.Errorf("Error trying to parse loaded json: %v", err)
		}
		return data.TypeJSON, v, nil
	case data.ResponseDocument:
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(body); err != nil {
			return data.TypeUnknown, nil, fmt.Errorf("Error trying to parse loaded xml: %v", err)
		}
		if doc.Root() == nil {
			return data.TypeUnknown, nil, errors.New("Error trying to parse loaded xml: no root element")
		}
		return data.TypeXML, doc, nil
	case data.ResponseBlob:
		if contentType == "" {
			contentType = http.DetectContentType(body)
		}
		return data.TypeBlob, data.Blob{ContentType: contentType, Bytes: body}, nil
	case data.ResponseBuffer:
		return data.TypeBuffer, body, nil
	default:
		return data.TypeText, string(body), nil
	}
}
