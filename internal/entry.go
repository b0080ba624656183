// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/eduops/internal/api"
	"github.com/starford/eduops/internal/features"
	"github.com/starford/eduops/internal/fixtures"
	"github.com/starford/eduops/internal/mcpserver"
	"github.com/starford/eduops/internal/metrics"
	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/source/httpsource"
	"github.com/starford/eduops/internal/source/sqlitesource"
	"github.com/starford/eduops/internal/sse"
	"github.com/starford/eduops/internal/storage"
	"github.com/starford/eduops/internal/view"
)

// runtime holds the components shared by the server and MCP modes.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	backend  source.Backend
	db       *sqlitesource.DB
	store    storage.Provider
	keys     fixtures.Keys
	metrics  *metrics.Metrics
	broker   *sse.Broker
	registry *view.Registry
}

func (a *application) setup() (*runtime, error) {
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	out := a.logOutput
	if out == nil {
		out = os.Stdout
	}
	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("upstream_mode", cfg.Upstream.Mode),
		slog.String("fixtures_path", cfg.Fixtures.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		broker:  sse.NewBroker(cfg.SSE.Throttle),
	}

	switch {
	case a.backend != nil:
		rt.backend = a.backend
	case cfg.Upstream.Mode == UpstreamModeFixtures:
		if err := rt.openFixtures(); err != nil {
			rt.Close()
			return nil, err
		}
	default:
		client, err := httpsource.New(cfg.Upstream.BaseURL, cfg.Upstream.Token, cfg.Upstream.Timeout, cfg.Upstream.MaxRetries)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("init upstream: %w", err)
		}
		rt.backend = client
	}

	rt.registry = features.Registry(view.Env{
		Backend:         rt.backend,
		BulkPageSize:    cfg.Upstream.BulkPageSize,
		DetailBatchSize: cfg.Pipeline.DetailBatchSize,
		Options: view.Options{
			DefaultPageSize: cfg.Pipeline.DefaultPageSize,
			MaxPageSize:     cfg.Pipeline.MaxPageSize,
			Metrics:         rt.metrics,
			Logger:          logger,
		},
		OnEvent: rt.broker.PublishDataset,
	})
	return rt, nil
}

// openFixtures loads the fixture directory into SQLite and uses it as the
// backend.
func (rt *runtime) openFixtures() error {
	cfg := rt.cfg.Fixtures

	// Ensure fixtures directory exists.
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return fmt.Errorf("create fixtures dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	db, err := sqlitesource.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("init fixture store: %w", err)
	}

	keys := fixtures.DefaultKeys()
	maps.Copy(keys, cfg.Keys)

	rep, err := fixtures.Sync(db, store, keys, rt.logger)
	if err != nil {
		rt.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		rt.logger.Info("Fixtures loaded",
			slog.Any("collections", rep.Collections),
			slog.Int("files", rep.Indexed), slog.Int("failed", rep.Failed))
	}

	rt.store, rt.db, rt.keys, rt.backend = store, db, keys, db
	return nil
}

// watch re-syncs fixtures on change and refreshes every view until ctx is
// done. It is a no-op outside fixture mode.
func (rt *runtime) watch(ctx context.Context) error {
	if rt.db == nil || !rt.cfg.Fixtures.Watch {
		return nil
	}
	opts := fixtures.WatchOptions{Keys: rt.keys, Logger: rt.logger}
	return fixtures.Watch(ctx, rt.db, rt.store, rt.cfg.Fixtures.Path, opts, func(rep fixtures.Report) {
		rt.registry.RefreshAll(ctx)
		rt.broker.Publish(sse.Event{Type: sse.EventFixturesSynced, Data: rep.Collections})
	})
}

// Close releases the broker and the fixture store.
func (rt *runtime) Close() {
	rt.broker.Close()
	if rt.db != nil {
		_ = rt.db.Close()
	}
}

// handler builds the full HTTP handler: health, metrics and the API.
func (rt *runtime) handler(ready *atomic.Bool) http.Handler {
	cfg := rt.cfg
	apiRouter := api.NewRouter(rt.registry, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := cfg.App.CORS.AllowedOrigins; len(origins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
			ExposedHeaders: []string{"Content-Disposition"},
		}).Handler)
	}

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"warming"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", rt.metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)
	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	rt, err := app.setup()
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	var ready atomic.Bool
	httpServer := &http.Server{
		Addr:    rt.cfg.App.HTTP.Address(),
		Handler: rt.handler(&ready),
	}

	logger.Info("Server starting...", slog.String("http_address", rt.cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Warm every view so the first dashboard request finds data.
	g.Go(func() error {
		rt.registry.RefreshAll(gCtx)
		ready.Store(true)
		logger.Info("Views warmed")
		return nil
	})

	// Start fixture watcher.
	g.Go(func() error {
		return rt.watch(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", rt.cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdio until stdin closes or ctx is done.
// Logs go to stderr unless WithLogOutput says otherwise.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}

	rt, err := app.setup()
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := mcpserver.New(rt.registry, rt.cfg.Pipeline.DefaultPageSize)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.watch(gCtx)
	})
	g.Go(func() error {
		rt.logger.Info("MCP server starting on stdio")
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}

// Snapshot downloads every listable collection from the HTTP upstream into
// dir as fixture files.
func Snapshot(ctx context.Context, dir string, opts ...Option) ([]string, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config != nil && app.backend == nil && app.config.Upstream.Mode != UpstreamModeHTTP {
		return nil, fmt.Errorf("snapshot needs upstream.mode %q", UpstreamModeHTTP)
	}

	rt, err := app.setup()
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	store, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return fixtures.Pull(ctx, rt.backend, store, features.Collections(), rt.cfg.Upstream.BulkPageSize, rt.logger)
}
