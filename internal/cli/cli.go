package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/framegraph/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	defaults := app.DefaultConfig()

	flagSet := flag.NewFlagSet("framegraph", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
Framegraph - renders a dependency graph of GPU passes with bounded frames in flight.

Usage:
  framegraph [options] [GRAPH_PATH]

Arguments:
  GRAPH_PATH
    Path to a single .hcl file or a directory containing .hcl files.
    Without it a built-in draw-then-present graph is rendered.

Options:
`)
		flagSet.PrintDefaults()
	}

	graphFlag := flagSet.String("graph", "", "Path to the graph file or directory.")
	gFlag := flagSet.String("g", "", "Path to the graph file or directory (shorthand).")
	framesFlag := flagSet.Int("frames", defaults.Frames, "Number of frames to render. 0 renders until interrupted.")
	intervalFlag := flagSet.Duration("interval", defaults.Interval, "Time between frames. 0 renders back to back.")
	flagSet.Int(app.SettingFramesInFlight, defaults.FramesInFlight, "Maximum number of frames the CPU may run ahead of the GPU.")
	flagSet.Duration(app.SettingWaitTimeout, defaults.WaitTimeout, "How long to wait for a frame slot before treating the device as lost. 0 waits forever.")
	flagSet.String(app.SettingBackend, defaults.Backend, "GPU backend. Options: 'fake' or 'noop'.")
	flagSet.Int(app.SettingWidth, defaults.Width, "Render target width in pixels.")
	flagSet.Int(app.SettingHeight, defaults.Height, "Render target height in pixels.")
	retriesFlag := flagSet.Int("present-retries", defaults.PresentRetries, "Retries of a frame whose present was rejected.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", defaults.LogFormat, "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", defaults.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *graphFlag != "" {
		path = *graphFlag
	} else if *gFlag != "" {
		path = *gFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("expected at most one graph path, got %d", flagSet.NArg())}
	}
	slog.Debug("Graph path determined.", "path", path)

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	cfg := defaults
	cfg.GraphPath = path
	cfg.Frames = *framesFlag
	cfg.Interval = *intervalFlag
	cfg.PresentRetries = *retriesFlag
	cfg.HealthcheckPort = *healthPortFlag
	cfg.LogFormat = logFormat
	cfg.LogLevel = logLevel
	cfg.Explicit = make(map[string]bool)

	// Renderer settings are read back through the flag set so that only the
	// ones actually given are marked explicit.
	flagSet.Visit(func(f *flag.Flag) {
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		switch f.Name {
		case app.SettingFramesInFlight:
			cfg.FramesInFlight = getter.Get().(int)
		case app.SettingWaitTimeout:
			cfg.WaitTimeout = getter.Get().(time.Duration)
		case app.SettingBackend:
			cfg.Backend = strings.ToLower(getter.Get().(string))
		case app.SettingWidth:
			cfg.Width = getter.Get().(int)
		case app.SettingHeight:
			cfg.Height = getter.Get().(int)
		default:
			return
		}
		cfg.Explicit[f.Name] = true
	})
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
