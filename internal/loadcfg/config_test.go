package loadcfg

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PRELOAD_BASE_URL", "PRELOAD_QUERY", "PRELOAD_CONCURRENCY", "PRELOAD_TIMEOUT_MS", "PRELOAD_ORIGIN", "PRELOAD_RATE_LIMIT", "PRELOAD_RATE_BURST"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.Concurrency != DefaultConcurrency || cfg.Timeout != 0 || cfg.Origin != nil || cfg.RateLimit != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnvValues(t *testing.T) {
	t.Setenv("PRELOAD_BASE_URL", "https://cdn.example.com/assets")
	t.Setenv("PRELOAD_QUERY", "v=7")
	t.Setenv("PRELOAD_CONCURRENCY", "4")
	t.Setenv("PRELOAD_TIMEOUT_MS", "1500")
	t.Setenv("PRELOAD_ORIGIN", "https://game.example.com")
	t.Setenv("PRELOAD_RATE_LIMIT", "2.5")
	t.Setenv("PRELOAD_RATE_BURST", "3")

	cfg := FromEnv()
	if cfg.BaseURL != "https://cdn.example.com/assets" || cfg.DefaultQuery != "v=7" {
		t.Fatalf("urls: %+v", cfg)
	}
	if cfg.Concurrency != 4 || cfg.Timeout != 1500*time.Millisecond {
		t.Fatalf("concurrency=%d timeout=%v", cfg.Concurrency, cfg.Timeout)
	}
	if cfg.Origin == nil || cfg.Origin.Host != "game.example.com" {
		t.Fatalf("origin = %v", cfg.Origin)
	}
	if cfg.RateLimit != 2.5 || cfg.RateBurst != 3 {
		t.Fatalf("rate = %v/%d", cfg.RateLimit, cfg.RateBurst)
	}
}

func TestFromEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("PRELOAD_CONCURRENCY", "zero")
	t.Setenv("PRELOAD_TIMEOUT_MS", "-5")
	t.Setenv("PRELOAD_ORIGIN", "not a url")
	t.Setenv("PRELOAD_RATE_LIMIT", "fast")
	t.Setenv("PRELOAD_RATE_BURST", "0")

	cfg := FromEnv()
	if cfg.Concurrency != DefaultConcurrency || cfg.Timeout != 0 || cfg.Origin != nil || cfg.RateLimit != 0 || cfg.RateBurst != 0 {
		t.Fatalf("invalid values were not ignored: %+v", cfg)
	}
}
