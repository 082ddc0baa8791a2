// Package internal provides the application initialization and the
// long-running watch, serve and MCP modes.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/danisheto/anc/internal/api"
	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/mcpserver"
	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/sourceservice"
	"github.com/danisheto/anc/internal/sse"
	"github.com/danisheto/anc/internal/watch"
)

// NewLogger builds the JSON logger described by cfg. Logs go to w unless
// cfg.LogFile is set, in which case they go to a rotating file released by
// the returned close function.
func NewLogger(cfg ApplicationConfig, w io.Writer) (*slog.Logger, func() error) {
	closeFn := func() error { return nil }
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   expandHome(cfg.LogFile),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w, closeFn = lj, lj.Close
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})), closeFn
}

// NewPipeline builds the pipeline service for one-shot commands.
func NewPipeline(opts ...Option) (*pipeline.Service, error) {
	app, err := newApplication(opts...)
	if err != nil {
		return nil, err
	}
	return app.newService(), nil
}

func newApplication(opts ...Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.project == nil {
		return nil, fmt.Errorf("project is required")
	}
	if app.logger == nil {
		app.logger = slog.Default()
	}
	return app, nil
}

func (a *application) newService(notifiers ...pipeline.Notifier) *pipeline.Service {
	cfg := a.config
	opts := []pipeline.Option{
		pipeline.WithExtension(cfg.Sources.Extension),
		pipeline.WithLogger(a.logger),
	}

	path := a.collPath
	if path == "" {
		var err error
		path, err = cfg.CollectionPath()
		if err != nil && !errors.Is(err, apperr.ErrNoAnkiDir) {
			a.logger.Warn("collection path unresolved", slog.String("error", err.Error()))
		}
	}
	if path != "" {
		opts = append(opts, pipeline.WithCollection(path))
	}
	if cfg.Collection.CaseInsensitiveMatch {
		opts = append(opts, pipeline.WithCaseInsensitiveMatch())
	}
	if cfg.Sources.DisableHook {
		opts = append(opts, pipeline.WithoutHook())
	}
	for _, n := range notifiers {
		opts = append(opts, pipeline.WithNotifier(n))
	}
	return pipeline.NewService(a.project, opts...)
}

// Run watches the project and saves on every change until ctx is
// cancelled or a shutdown signal arrives. With WithHTTP it also serves the
// local API.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	broker := sse.NewBroker()
	defer broker.Close()

	svc := app.newService(broker)
	watcher := watch.New(app.project, svc,
		watch.WithExtension(cfg.Sources.Extension),
		watch.WithLogger(logger))

	logger.Info("Configuration loaded",
		slog.String("project", app.project.Root()),
		slog.String("extension", cfg.Sources.Extension),
		slog.Bool("http", app.http),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var httpServer *http.Server
	if app.http {
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           newRouter(cfg, app, svc, broker),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(gCtx)
	})

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

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
		cancel()

		if httpServer != nil {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Stopped")
	return nil
}

func newRouter(cfg *Config, app *application, svc *pipeline.Service, broker *sse.Broker) http.Handler {
	sources := sourceservice.NewService(app.project, cfg.Sources.Extension)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := cfg.CollectionPath(); err != nil && app.collPath == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"no collection configured"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(svc, sources, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	return r
}

// RunMCP serves the MCP tools over stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	svc := app.newService()
	sources := sourceservice.NewService(app.project, app.config.Sources.Extension)

	app.logger.Info("Starting MCP server", slog.String("project", app.project.Root()))
	srv := mcpserver.New(svc, sources, app.version)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
