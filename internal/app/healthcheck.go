package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthHandler reports liveness together with the frame counters.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	stats := a.renderer.Stats()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK frames=%d present_failures=%d marker=%d\n",
		stats.Frames, stats.PresentFailures, a.scheduler.Marker())
}

// httpHandler serves /health and /metrics.
func (a *App) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	return mux
}

// healthCheckServer initializes the health check HTTP server.
func (a *App) healthCheckServer() {
	a.logger.Debug("Configuring health check server.")
	addr := fmt.Sprintf(":%d", a.config.HealthcheckPort)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.httpHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveHealthCheck blocks serving requests until the server is shut down.
func (a *App) serveHealthCheck() error {
	a.logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("Health check server failed unexpectedly", "error", err)
		return fmt.Errorf("health check server: %w", err)
	}
	return nil
}

func (a *App) closeHealthCheckServer(ctx context.Context) error {
	if a.httpServer == nil {
		a.logger.Debug("Health check server was not running.")
		return nil
	}

	// Shutdown must complete even when ctx is already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	a.logger.Info("🩺 Shutting down health check server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	a.logger.Debug("Health check server shut down gracefully.")
	return nil
}
