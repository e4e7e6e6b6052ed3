package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_StartupError(t *testing.T) {
	t.Parallel()

	invalidHCL := `
		node "draw" "scene" {
			clear_color = [0, 0, 0, 1]
		// Missing closing brace here
	`
	filePath := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0600))

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{filePath})

	require.Error(t, err)
	require.Contains(t, err.Error(), "application startup failed")
	require.Contains(t, err.Error(), "failed to parse")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_DefaultGraph(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-frames", "2", "-log-level", "debug"})

	require.NoError(t, err)
	require.Contains(t, out.String(), "Frame loop finished.")
	require.Contains(t, out.String(), "frames=2")
}

func TestRun_GraphFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	graph := `
renderer {
  backend = "noop"
}

node "draw" "scene" {
  clear_color = [0.1, 0.1, 0.1, 1]
}

node "present" "swapchain" {
  depends_on = ["scene"]
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "graph.hcl"), []byte(graph), 0600))

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-frames", "3", "-frames-in-flight", "2", dir})

	require.NoError(t, err)
	require.Contains(t, out.String(), "backend=noop")
	require.Contains(t, out.String(), "frames_in_flight=2")
}
