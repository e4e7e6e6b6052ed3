// Package renderer drives the frame loop: once per tick it begins a frame,
// executes the frame graph into the frame's slot and ends the frame.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/dag"
	"github.com/vk/framegraph/internal/gpu"
	"github.com/vk/framegraph/internal/metrics"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/scheduler"
)

// DefaultPresentRetries is how many times a tick rejected at present time is
// retried before the loop gives up.
const DefaultPresentRetries = 3

// Graph is the per-frame work executed between BeginFrame and EndFrame.
// *dag.Graph satisfies it.
type Graph interface {
	Execute(ctx context.Context, nc node.Context) error
}

// Stats summarizes the work done by a Renderer.
type Stats struct {
	// Frames is the number of frames submitted to the GPU.
	Frames uint64
	// PresentFailures counts frames whose present was rejected.
	PresentFailures uint64
	// Retries counts ticks repeated after a present failure.
	Retries uint64
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithMetrics records frame metrics into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Renderer) { r.metrics = c }
}

// WithPresentRetries sets how many times a tick is retried after a
// presentation failure. Zero disables retries.
func WithPresentRetries(n uint64) Option {
	return func(r *Renderer) { r.presentRetries = n }
}

// WithRetryInterval sets the initial backoff between retried ticks.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Renderer) { r.retryInterval = d }
}

// Renderer owns the per-tick sequence. It is driven by one goroutine.
type Renderer struct {
	graph          Graph
	pacer          scheduler.Pacer
	metrics        *metrics.Collector
	presentRetries uint64
	retryInterval  time.Duration

	mu    sync.Mutex
	stats Stats
}

// New creates a renderer executing graph under pacer.
func New(graph Graph, pacer scheduler.Pacer, opts ...Option) (*Renderer, error) {
	if graph == nil {
		return nil, errors.New("renderer requires a graph")
	}
	if pacer == nil {
		return nil, errors.New("renderer requires a frame pacer")
	}
	r := &Renderer{
		graph:          graph,
		pacer:          pacer,
		presentRetries: DefaultPresentRetries,
		retryInterval:  10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DefaultGraph builds the two node graph used when no description is given:
// a draw into the frame's target followed by its present transition.
func DefaultGraph() (*dag.Graph, error) {
	g := dag.New()
	draw, err := g.AddNode(node.NewDraw("scene", node.DefaultClearColor))
	if err != nil {
		return nil, err
	}
	if _, err := g.AddNode(node.NewPresent("swapchain"), draw); err != nil {
		return nil, err
	}
	return g, nil
}

// Tick renders one frame. A graph failure abandons the frame before anything
// is submitted. A presentation failure is returned after the frame has been
// accounted.
func (r *Renderer) Tick(ctx context.Context) error {
	start := time.Now()

	slot, err := r.pacer.BeginFrame(ctx)
	if err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}
	ctx = ctxlog.With(ctx, "slot", slot.Index, "frame", slot.FrameNumber)
	logger := ctxlog.FromContext(ctx)

	nc := node.Context{Slot: slot.Index, FrameNumber: slot.FrameNumber, Recorder: slot.Recorder}
	if err := r.graph.Execute(ctx, nc); err != nil {
		if abandonErr := r.pacer.Abandon(ctx, slot); abandonErr != nil {
			logger.Error("Failed to abandon frame.", "error", abandonErr)
		}
		return fmt.Errorf("frame %d: %w", slot.FrameNumber, err)
	}

	previous := slot.Marker
	err = r.pacer.EndFrame(ctx, slot)
	// EndFrame stores the new marker in slot once the frame is accounted.
	submitted := slot.Marker != previous
	if err != nil && !submitted {
		return fmt.Errorf("end frame: %w", err)
	}
	presentFailed := err != nil

	r.mu.Lock()
	r.stats.Frames++
	if presentFailed {
		r.stats.PresentFailures++
	}
	r.mu.Unlock()

	r.metrics.FrameSubmitted(slot.Marker)
	r.metrics.ObserveTick(time.Since(start))
	if presentFailed {
		r.metrics.PresentFailed()
		return err
	}

	logger.Debug("Frame rendered.", "marker", slot.Marker)
	return nil
}

// Run renders frames until frames ticks have completed (0 means until ctx is
// done). Ticks are paced by interval; zero renders back to back. Ticks
// rejected at present time are retried with exponential backoff. Every other
// error ends the loop. Frames in flight are drained before Run returns.
func (r *Renderer) Run(ctx context.Context, frames int, interval time.Duration) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Render loop started.", "frames", frames, "interval", interval)

	err := r.loop(ctx, frames, interval)
	if isStop(err) {
		err = nil
	}

	if !errors.Is(err, gpu.ErrDeviceLost) {
		if drainErr := r.pacer.Drain(context.WithoutCancel(ctx)); drainErr != nil {
			logger.Error("Failed to drain frames in flight.", "error", drainErr)
			if err == nil {
				err = drainErr
			}
		}
	}

	stats := r.Stats()
	if err != nil {
		logger.Error("Render loop stopped.", "error", err, "frames", stats.Frames)
		return err
	}
	logger.Info("Render loop finished.", "frames", stats.Frames, "present_failures", stats.PresentFailures, "retries", stats.Retries)
	return nil
}

func (r *Renderer) loop(ctx context.Context, frames int, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for done := 0; frames == 0 || done < frames; done++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.tickWithRetry(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) tickWithRetry(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	attempt := 0

	operation := func() error {
		if attempt > 0 {
			r.mu.Lock()
			r.stats.Retries++
			r.mu.Unlock()
		}
		attempt++

		err := r.Tick(ctx)
		if err == nil || errors.Is(err, gpu.ErrPresentationFailure) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInterval
	policy.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, r.presentRetries), ctx)

	return backoff.RetryNotify(operation, bo, func(err error, wait time.Duration) {
		logger.Warn("Presentation failed, retrying tick.", "attempt", attempt, "backoff", wait, "error", err)
	})
}

// Stats returns a snapshot of the renderer's counters.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func isStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
