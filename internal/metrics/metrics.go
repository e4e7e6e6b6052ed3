// Package metrics exposes frame loop counters and timings to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the frame loop metrics registered on one registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	framesSubmitted prometheus.Counter
	presentFailures prometheus.Counter
	frameWait       prometheus.Histogram
	tick            prometheus.Histogram
	marker          prometheus.Gauge
}

// New registers the frame loop metrics on reg, labelled with backend.
func New(reg prometheus.Registerer, backend string) *Collector {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"backend": backend}

	return &Collector{
		framesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "framegraph_frames_submitted_total",
			Help:        "Frames submitted to the GPU queue",
			ConstLabels: labels,
		}),
		presentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "framegraph_present_failures_total",
			Help:        "Presents rejected by the backend",
			ConstLabels: labels,
		}),
		frameWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "framegraph_frame_wait_seconds",
			Help:        "Time BeginFrame spent waiting for a frame slot",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		tick: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "framegraph_tick_seconds",
			Help:        "Duration of a full frame tick",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		marker: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "framegraph_frame_marker",
			Help:        "Last completion marker signaled",
			ConstLabels: labels,
		}),
	}
}

// FrameSubmitted records a submitted frame and its marker.
func (c *Collector) FrameSubmitted(marker uint64) {
	if c == nil {
		return
	}
	c.framesSubmitted.Inc()
	c.marker.Set(float64(marker))
}

// PresentFailed counts a rejected present.
func (c *Collector) PresentFailed() {
	if c == nil {
		return
	}
	c.presentFailures.Inc()
}

// ObserveWait records a blocking BeginFrame wait.
func (c *Collector) ObserveWait(d time.Duration) {
	if c == nil {
		return
	}
	c.frameWait.Observe(d.Seconds())
}

// ObserveTick records the duration of one tick.
func (c *Collector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.tick.Observe(d.Seconds())
}
