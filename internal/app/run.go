package app

import (
	"context"
	"fmt"

	"github.com/vk/framegraph/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

// Run renders frames until the configured frame count is reached or ctx is
// cancelled. The health check server, when enabled, runs next to the frame
// loop and is shut down when the loop ends.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})

	if a.config.HealthcheckPort > 0 {
		a.healthCheckServer()
		g.Go(a.serveHealthCheck)
		g.Go(func() error {
			select {
			case <-loopDone:
			case <-gctx.Done():
			}
			return a.closeHealthCheckServer(ctx)
		})
	} else {
		a.logger.Debug("Health check server not started: disabled")
	}

	g.Go(func() error {
		defer close(loopDone)
		a.logger.Info("🚀 Starting frame loop.",
			"backend", a.config.Backend,
			"frames_in_flight", a.config.FramesInFlight,
			"frames", a.config.Frames,
		)
		if err := a.renderer.Run(gctx, a.config.Frames, a.config.Interval); err != nil {
			return fmt.Errorf("frame loop failed: %w", err)
		}
		stats := a.renderer.Stats()
		a.logger.Info("🏁 Frame loop finished.", "frames", stats.Frames, "present_failures", stats.PresentFailures)
		return nil
	})

	err := g.Wait()
	a.logger.Debug("App.Run method finished.")
	return err
}
