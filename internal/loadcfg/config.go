// Package loadcfg holds the loader configuration and reads it from the
// environment.
package loadcfg

import (
	"net/url"
	"os"
	"strconv"
	"time"
)

// DefaultConcurrency is the number of resources loaded at once when nothing
// else is configured.
const DefaultConcurrency = 10

// Config configures a loader. The zero value is usable apart from
// Concurrency, which Default fills in.
type Config struct {
	// BaseURL is prepended to relative resource URLs.
	BaseURL string
	// DefaultQuery is appended to every resource URL, e.g. "v=3".
	DefaultQuery string
	Concurrency  int
	// Timeout is the default per-resource timeout. Zero means none.
	Timeout time.Duration
	// Origin is the document origin used to decide which requests are
	// cross-origin. Nil disables cross-origin detection.
	Origin *url.URL
	// RateLimit caps outgoing requests per second. Zero means unlimited.
	RateLimit float64
	RateBurst int
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{Concurrency: DefaultConcurrency}
}

// FromEnv reads the configuration from PRELOAD_* variables. Invalid values
// are ignored and the default is kept.
func FromEnv() Config {
	cfg := Default()
	cfg.BaseURL = os.Getenv("PRELOAD_BASE_URL")
	cfg.DefaultQuery = os.Getenv("PRELOAD_QUERY")

	if v := os.Getenv("PRELOAD_CONCURRENCY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Concurrency = parsed
		}
	}
	if v := os.Getenv("PRELOAD_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Timeout = time.Duration(parsed) * time.Millisecond
		}
	}
	if v := os.Getenv("PRELOAD_ORIGIN"); v != "" {
		if u, err := url.Parse(v); err == nil && u.Scheme != "" {
			cfg.Origin = u
		}
	}
	if v := os.Getenv("PRELOAD_RATE_LIMIT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.RateLimit = parsed
		}
	}
	if v := os.Getenv("PRELOAD_RATE_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.RateBurst = parsed
		}
	}
	return cfg
}
