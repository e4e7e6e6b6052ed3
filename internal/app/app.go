package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vk/framegraph/internal/config"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/dag"
	"github.com/vk/framegraph/internal/gpu"
	"github.com/vk/framegraph/internal/gpu/fakegpu"
	"github.com/vk/framegraph/internal/gpu/halgpu"
	"github.com/vk/framegraph/internal/metrics"
	"github.com/vk/framegraph/internal/renderer"
	"github.com/vk/framegraph/internal/scheduler"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	runID  uuid.UUID

	graph     *dag.Graph
	backend   gpu.Backend
	scheduler *scheduler.FrameScheduler
	renderer  *renderer.Renderer
	registry  *prometheus.Registry

	httpServer *http.Server
	closeOnce  sync.Once
	closeErr   error
}

// NewApp is the constructor for the main application. It loads the frame
// graph (or builds the default one), opens the configured backend and wires
// the scheduler, renderer and metrics together. The returned App owns the
// backend until Close.
func NewApp(ctx context.Context, outW io.Writer, cfg *Config, loader config.Loader) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app config is nil")
	}

	runID := uuid.New()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW).With("run_id", runID.String())
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	graph, settings, err := loadGraph(ctx, cfg, loader)
	if err != nil {
		return nil, err
	}
	logger.Debug("Frame graph ready.", "node_count", graph.Len(), "edge_count", len(graph.Edges()))

	backend, err := openBackend(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", settings.Backend, err)
	}
	logger.Debug("Backend opened.", "backend", settings.Backend, "slots", settings.FramesInFlight)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.New(registry, settings.Backend)

	sched, err := scheduler.New(backend,
		scheduler.WithFramesInFlight(settings.FramesInFlight),
		scheduler.WithWaitTimeout(settings.WaitTimeout),
		scheduler.WithWaitObserver(collector.ObserveWait),
	)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create frame scheduler: %w", err)
	}

	rend, err := renderer.New(graph, sched,
		renderer.WithMetrics(collector),
		renderer.WithPresentRetries(uint64(settings.PresentRetries)),
	)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	return &App{
		outW:      outW,
		logger:    logger,
		config:    &settings,
		runID:     runID,
		graph:     graph,
		backend:   backend,
		scheduler: sched,
		renderer:  rend,
		registry:  registry,
	}, nil
}

// loadGraph returns the frame graph and the configuration with the graph's
// renderer block applied.
func loadGraph(ctx context.Context, cfg *Config, loader config.Loader) (*dag.Graph, Config, error) {
	logger := ctxlog.FromContext(ctx)
	settings := *cfg

	if cfg.GraphPath == "" {
		logger.Info("No graph description given, using the default graph.")
		g, err := renderer.DefaultGraph()
		if err != nil {
			return nil, settings, fmt.Errorf("failed to build default graph: %w", err)
		}
		return g, settings, nil
	}

	if loader == nil {
		return nil, settings, errors.New("a graph path was given but no loader is configured")
	}
	model, err := loader.Load(ctx, cfg.GraphPath)
	if err != nil {
		return nil, settings, fmt.Errorf("failed to load graph description: %w", err)
	}

	settings, err = settings.withRenderer(model.Renderer)
	if err != nil {
		return nil, settings, err
	}

	g, _, err := config.Build(model)
	if err != nil {
		return nil, settings, fmt.Errorf("failed to build frame graph: %w", err)
	}
	logger.Info("Graph description loaded.", "path", cfg.GraphPath, "nodes", g.Len())
	return g, settings, nil
}

func openBackend(cfg Config) (gpu.Backend, error) {
	switch cfg.Backend {
	case BackendFake:
		return fakegpu.New(cfg.FramesInFlight), nil
	case BackendNoop:
		return halgpu.OpenNoop(halgpu.Config{
			Slots:       cfg.FramesInFlight,
			Width:       uint32(cfg.Width),
			Height:      uint32(cfg.Height),
			WaitTimeout: cfg.WaitTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Config returns the effective configuration, after the graph description's
// renderer block was applied.
func (a *App) Config() Config {
	return *a.config
}

// RunID identifies this App instance in logs.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Stats returns the renderer's counters.
func (a *App) Stats() renderer.Stats {
	return a.renderer.Stats()
}

// Close releases the backend. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.logger.Debug("Closing backend.")
		if err := a.backend.Close(); err != nil {
			a.closeErr = fmt.Errorf("failed to close backend: %w", err)
		}
	})
	return a.closeErr
}
