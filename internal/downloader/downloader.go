package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/tinoosan/preload/internal/data"
)

// Strategy fetches one resource. Load starts the transport and returns
// without waiting for it; the strategy then reports through rep exactly one
// of Complete or Error, possibly preceded by Progress calls, from any
// goroutine.
type Strategy interface {
	Load(ctx context.Context, req Request, rep Reporter)
	// Abort is a best-effort cancel of an in-flight Load. It must not
	// report anything itself.
	Abort()
}

// Source is one candidate location for a multi-source element.
type Source struct {
	URL      string
	MimeType string
}

// Request is the load configuration handed to a strategy.
type Request struct {
	URL          string
	Sources      []Source
	CrossOrigin  string
	Timeout      time.Duration
	ResponseKind data.ResponseKind
	Metadata     map[string]any
}

// Factory builds a fresh strategy for one resource.
type Factory func() Strategy

// Strategies maps a load type to the strategy that handles it.
type Strategies map[data.LoadType]Factory

// Clone returns a copy of s that can be modified independently.
func (s Strategies) Clone() Strategies {
	out := make(Strategies, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// New builds the strategy for lt, falling back to the request strategy when
// lt has no entry.
func (s Strategies) New(lt data.LoadType) (Strategy, error) {
	if f, ok := s[lt]; ok && f != nil {
		return f(), nil
	}
	if f, ok := s[data.LoadRequest]; ok && f != nil {
		return f(), nil
	}
	return nil, fmt.Errorf("no strategy for load type %q", lt)
}
