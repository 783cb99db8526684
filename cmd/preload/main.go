package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tinoosan/preload/internal/loadcfg"
	"github.com/tinoosan/preload/internal/loader"
	"github.com/tinoosan/preload/internal/manifest"
	"github.com/tinoosan/preload/internal/metrics"
	"github.com/tinoosan/preload/internal/middleware"
	"github.com/tinoosan/preload/internal/resource"
	"github.com/tinoosan/preload/internal/router"
	"github.com/tinoosan/preload/internal/service"
)

const cacheSize = 512

func main() {
	manifestPath := flag.String("manifest", "", "path to a JSON asset manifest")
	bundle := flag.String("bundle", "", "load the named bundle from Postgres (with -manifest, store it first)")
	listen := flag.String("listen", "", "serve the status API on this address and keep running after the load")
	flag.Parse()

	logger := newLogger()
	if err := run(logger, *manifestPath, *bundle, *listen); err != nil {
		logger.Error("preload failed", "err", err)
		os.Exit(1)
	}
}

// newLogger writes JSON to stdout, or to a rotated file when
// PRELOAD_LOG_FILE is set.
func newLogger() *slog.Logger {
	var w io.Writer = os.Stdout
	if path := os.Getenv("PRELOAD_LOG_FILE"); path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			Compress:   true,
		}
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

func run(logger *slog.Logger, manifestPath, bundle, listen string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := readManifest(ctx, manifestPath, bundle)
	if err != nil {
		return err
	}

	cfg := loadcfg.FromEnv()
	if m.BaseURL != "" {
		cfg.BaseURL = m.BaseURL
	}
	if m.DefaultQuery != "" {
		cfg.DefaultQuery = m.DefaultQuery
	}
	if m.Concurrency > 0 {
		cfg.Concurrency = m.Concurrency
	}

	metrics.Register()

	reg, err := newRegistry()
	if err != nil {
		return err
	}
	l, err := loader.New(cfg, loader.WithLogger(logger), loader.WithRegistry(reg))
	if err != nil {
		return err
	}
	if err := l.Add(m.Inputs()); err != nil {
		return err
	}

	tracker := service.NewTracker(logger, l)
	tracker.Run()
	defer tracker.Stop()

	var server *http.Server
	if listen != "" {
		server = &http.Server{
			Addr:        listen,
			Handler:     router.New(logger, tracker),
			IdleTimeout: 120 * time.Second,
			ReadTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting preload API", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "err", err)
				stop()
			}
		}()
	}

	loadErr := l.Load(ctx, nil)
	failed := summarize(logger, l.Resources())
	if loadErr != nil {
		return loadErr
	}

	if server != nil {
		<-ctx.Done()
		logger.Info("received terminate, graceful shutdown")
		timeoutContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(timeoutContext)
	}
	if failed > 0 {
		return fmt.Errorf("%d resources failed to load", failed)
	}
	return nil
}

// readManifest loads the manifest from a file, from Postgres, or stores the
// file into Postgres under bundle and loads it back.
func readManifest(ctx context.Context, path, bundle string) (*manifest.Manifest, error) {
	if bundle == "" {
		if path == "" {
			return nil, errors.New("one of -manifest or -bundle is required")
		}
		return manifest.File{Path: path}.Manifest(ctx, "")
	}

	pg, err := manifest.NewPostgresFromEnv()
	if err != nil {
		return nil, fmt.Errorf("connect manifest store: %w", err)
	}
	defer pg.Close()

	if path != "" {
		m, err := manifest.ReadFile(path)
		if err != nil {
			return nil, err
		}
		m.Bundle = bundle
		if err := pg.Put(ctx, m); err != nil {
			return nil, fmt.Errorf("store bundle %q: %w", bundle, err)
		}
	}
	return pg.Manifest(ctx, bundle)
}

// newRegistry installs the built-in middleware: the cache before loading,
// then decompression, parsing and sprite sheet expansion after.
func newRegistry() (*middleware.Registry, error) {
	cache, err := middleware.NewCache(cacheSize)
	if err != nil {
		return nil, err
	}
	reg := middleware.NewRegistry()
	reg.Pre(middleware.Cache(cache), middleware.DefaultPriority)
	reg.Use(middleware.Decompress(), 10)
	reg.Use(middleware.Parse(), 20)
	reg.Use(middleware.SpriteSheet(), middleware.DefaultPriority)
	return reg, nil
}

// summarize logs one line per resource and returns how many failed.
func summarize(logger *slog.Logger, resources map[string]*resource.Resource) int {
	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		r := resources[name]
		if msg := r.Error(); msg != "" {
			failed++
			logger.Warn("resource failed", "name", name, "url", r.URL(), "err", msg)
			continue
		}
		logger.Info("resource loaded", "name", name, "url", r.URL(), "type", r.Type())
	}
	logger.Info("load finished", "resources", len(resources), "failed", failed)
	return failed
}
