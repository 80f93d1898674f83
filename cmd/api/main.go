package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"

	mw "github.com/kedeai/imagehub/lib/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	logger := app.Logger
	cfg := app.Config

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otelchi.Middleware(cfg.OtelServiceName,
		otelchi.WithChiRoutes(r),
		otelchi.WithTracerProvider(app.Otel.TracerProvider),
	))
	r.Use(mw.InjectLogger(logger))
	r.Use(mw.AccessLogger(mw.NewAccessLogger(app.Otel.LogHandler)))
	if cfg.OtelEnabled {
		metrics, err := mw.NewHTTPMetrics(app.Otel.Meter("imagehub/http"))
		if err != nil {
			return fmt.Errorf("create http metrics: %w", err)
		}
		r.Use(metrics.Middleware)
	} else {
		r.Use(mw.NoopHTTPMetrics())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Route("/containers", app.ApiService.Routes)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Error group for coordinated shutdown
	grp, gctx := errgroup.WithContext(ctx)

	if cfg.SyncOnStartup {
		grp.Go(func() error {
			syncStartup(gctx, app, logger)
			return nil
		})
	}

	// Run the server
	grp.Go(func() error {
		logger.Info("starting imagehub API server", "port", cfg.Port, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	// Shutdown handler
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}

		logger.Info("http server shutdown complete")
		return nil
	})

	return grp.Wait()
}

// syncStartup runs one template pass before traffic arrives. A failed pass
// leaves the previous catalog in place, so the server keeps running.
func syncStartup(ctx context.Context, app *application, logger *slog.Logger) {
	res, err := app.Synchronizer.Sync(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "startup template sync failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "startup template sync complete",
		"templates", len(res.Templates), "pruned", len(res.Pruned), "pulled", res.Pulled)
}
