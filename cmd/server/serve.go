package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/colsync/server/internal/handlers"
	"github.com/colsync/server/internal/observability"
	"github.com/colsync/server/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	hub := services.NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()
	a.watermarks.Subscribe(hub)

	if a.cfg.Sync.TombstoneRetention > 0 {
		a.cleanup.Start()
		defer a.cleanup.Stop()
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware(serviceName))
	if httpMetrics, err := observability.NewHTTPMetrics(); err != nil {
		observability.Warnf("HTTP metrics disabled: %v", err)
	} else {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}

	handlers.Router{
		Health:      handlers.NewHealthHandler(a.store),
		Sync:        handlers.NewSyncHandler(a.sync),
		Collections: handlers.NewCollectionHandler(a.collections),
		Admin:       handlers.NewAdminHandler(a.cleanup, a.tombstones, a.collections, a.cfg.Sync.UpgradePageSize),
		WebSocket:   handlers.NewWebSocketHandler(hub),
	}.MountRoutes(r)
	handlers.MountDocs(r)

	srv := &http.Server{
		Addr:         a.cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		observability.Infof("Sync server starting on %s", a.cfg.ServerAddress)
		if a.cleanup.IsEnabled() {
			observability.Infof("Tombstone retention: %d", a.cfg.Sync.TombstoneRetention)
		} else {
			observability.Info("Tombstone cleanup disabled")
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	observability.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	observability.Info("Server stopped")
	return nil
}
