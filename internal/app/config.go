package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/framegraph/internal/config"
	"github.com/vk/framegraph/internal/renderer"
	"github.com/vk/framegraph/internal/scheduler"
)

// Backend names accepted by Config.Backend.
const (
	BackendFake = "fake"
	BackendNoop = "noop"
)

// Setting names shared by command-line flags and Config.Explicit.
const (
	SettingFramesInFlight = "frames-in-flight"
	SettingWaitTimeout    = "wait-timeout"
	SettingBackend        = "backend"
	SettingWidth          = "width"
	SettingHeight         = "height"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// GraphPath is an .hcl file or a directory of them. Empty selects the
	// built-in draw-then-present graph.
	GraphPath string

	Frames         int           // 0 renders until the context is cancelled
	Interval       time.Duration // 0 renders back to back
	FramesInFlight int
	WaitTimeout    time.Duration // 0 waits forever
	Backend        string
	Width          int
	Height         int
	PresentRetries int

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// Explicit lists the settings given on the command line. Those win over
	// the renderer block of the graph description.
	Explicit map[string]bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		FramesInFlight: scheduler.DefaultFramesInFlight,
		Backend:        BackendFake,
		Width:          640,
		Height:         480,
		PresentRetries: renderer.DefaultPresentRetries,
		LogFormat:      "text",
		LogLevel:       "info",
	}
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	var errs []error
	if cfg.Frames < 0 {
		errs = append(errs, fmt.Errorf("frames must not be negative, got %d", cfg.Frames))
	}
	if cfg.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", cfg.Interval))
	}
	if cfg.PresentRetries < 0 {
		errs = append(errs, fmt.Errorf("present retries must not be negative, got %d", cfg.PresentRetries))
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		errs = append(errs, fmt.Errorf("healthcheck port must be within [0, 65535], got %d", cfg.HealthcheckPort))
	}
	if err := cfg.validateRenderer(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := cfg
	out.Explicit = make(map[string]bool, len(cfg.Explicit))
	for k, v := range cfg.Explicit {
		out.Explicit[k] = v
	}
	return &out, nil
}

func (c *Config) validateRenderer() error {
	var errs []error
	if c.FramesInFlight < 1 {
		errs = append(errs, fmt.Errorf("frames in flight must be at least 1, got %d", c.FramesInFlight))
	}
	if c.WaitTimeout < 0 {
		errs = append(errs, fmt.Errorf("wait timeout must not be negative, got %s", c.WaitTimeout))
	}
	switch c.Backend {
	case BackendFake, BackendNoop:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q: must be %q or %q", c.Backend, BackendFake, BackendNoop))
	}
	if c.Width < 1 || c.Height < 1 {
		errs = append(errs, fmt.Errorf("render target size must be positive, got %dx%d", c.Width, c.Height))
	}
	return errors.Join(errs...)
}

// withRenderer returns c with the settings of r applied, except those given
// explicitly on the command line.
func (c Config) withRenderer(r *config.Renderer) (Config, error) {
	if r == nil {
		return c, nil
	}
	if r.FramesInFlight != nil && !c.Explicit[SettingFramesInFlight] {
		c.FramesInFlight = *r.FramesInFlight
	}
	if r.WaitTimeout != nil && !c.Explicit[SettingWaitTimeout] {
		c.WaitTimeout = *r.WaitTimeout
	}
	if r.Backend != "" && !c.Explicit[SettingBackend] {
		c.Backend = r.Backend
	}
	if r.Width != nil && !c.Explicit[SettingWidth] {
		c.Width = int(*r.Width)
	}
	if r.Height != nil && !c.Explicit[SettingHeight] {
		c.Height = int(*r.Height)
	}
	if err := c.validateRenderer(); err != nil {
		return c, fmt.Errorf("invalid renderer settings: %w", err)
	}
	return c, nil
}
