// Package element implements the element-style strategies: a single-source
// image element and a multi-source media element that tries each of its
// sources in turn.
package element

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/tinoosan/preload/internal/downloader"
)

var errBadStatus = errors.New("unexpected status")

// base carries the cancel plumbing shared by the element strategies.
type base struct {
	hc *http.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted atomic.Bool
}

func (b *base) start(ctx context.Context, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	go func() {
		defer cancel()
		run(ctx)
	}()
}

// Abort clears the element source: the in-flight fetch is cancelled.
func (b *base) Abort() {
	b.aborted.Store(true)
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// fetch downloads one source and reports progress when the length is known.
func (b *base) fetch(ctx context.Context, url string, rep downloader.Reporter) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w %d", errBadStatus, resp.StatusCode)
	}

	var body []byte
	if resp.ContentLength > 0 {
		var buf bytes.Buffer
		pr := &progressReader{r: resp.Body, total: resp.ContentLength, rep: rep}
		if _, err := io.Copy(&buf, pr); err != nil {
			return nil, "", err
		}
		body = buf.Bytes()
	} else if body, err = io.ReadAll(resp.Body); err != nil {
		return nil, "", err
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return body, ct, nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	loaded int64
	rep    downloader.Reporter
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.rep.Progress(float64(p.loaded) / float64(p.total))
	}
	return n, err
}

func failed(kind string) string { return "Failed to load element using: " + kind }
