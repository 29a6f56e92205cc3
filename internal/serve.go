package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/pkgsnap/internal/api"
	"github.com/starford/pkgsnap/internal/mcpserver"
	"github.com/starford/pkgsnap/internal/packageservice"
	"github.com/starford/pkgsnap/internal/sse"
	"github.com/starford/pkgsnap/internal/storage"
	"github.com/starford/pkgsnap/internal/watch"
)

// Version is reported by the MCP server.
var Version = "dev"

// NewHandler builds the HTTP handler served by Serve: health checks, the
// package API under /api and, when broker is non-nil, the SSE stream.
func NewHandler(svc *packageservice.Service, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := svc.Snapshot(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	var sseHandler http.Handler
	if broker != nil {
		sseHandler = broker
	}
	r.Mount("/api", api.NewRouter(svc, sseHandler))
	return r
}

// Serve exposes the generated delta index over HTTP until ctx is cancelled
// or a shutdown signal arrives. With serve.watch set, rewrites of the index
// are pushed to SSE clients.
func Serve(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(os.Stdout, cfg.App.LogLevel)
		slog.SetDefault(logger)
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("output_dir", cfg.Output.Dir),
		slog.Bool("watch", cfg.Serve.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	fs, err := storage.NewFS(cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("init output: %w", err)
	}
	svc := packageservice.NewService(fs, cfg.Output.DeltaIndex)

	broker := sse.NewBroker(cfg.Serve.EventThrottle)
	defer broker.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           NewHandler(svc, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Serve.Watch {
		indexPath, err := fs.Abs(cfg.Output.DeltaIndex)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return watch.Watch(gCtx, indexPath, watch.DefaultDebounce, logger, func() {
				snap, err := svc.Snapshot(gCtx)
				if err != nil {
					logger.Warn("reload index failed", slog.String("error", err.Error()))
					return
				}
				changed, _, _ := svc.Changes(gCtx, time.Time{})
				broker.PublishIndexUpdate(sse.IndexUpdate{
					Packages: len(snap.Packages),
					Changed:  len(changed),
					Checksum: snap.Checksum,
				})
			})
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
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

// errShutdown stops the remaining errgroup members once the server is down.
var errShutdown = errors.New("shutdown")

// ServeMCP runs the MCP server on stdin/stdout. Logs go to stderr because
// stdout carries the protocol.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(os.Stderr, cfg.App.LogLevel)
		slog.SetDefault(logger)
	}

	fs, err := storage.NewFS(cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("init output: %w", err)
	}
	svc := packageservice.NewService(fs, cfg.Output.DeltaIndex)

	logger.Info("MCP server starting", slog.String("output_dir", fs.Root()))
	return mcpserver.New(svc, Version).ServeStdio()
}
