package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/dag"
	"github.com/vk/framegraph/internal/hclconfig"
	"github.com/vk/framegraph/internal/testutil"
)

func newTestApp(t *testing.T, cfg Config) (*App, *testutil.SafeBuffer) {
	t.Helper()
	logs := &testutil.SafeBuffer{}
	validated, err := NewConfig(cfg)
	require.NoError(t, err)

	a, err := NewApp(context.Background(), logs, validated, hclconfig.NewLoader())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, logs
}

func TestApp_RunDefaultGraph(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Frames = 4
	cfg.LogLevel = "debug"
	a, logs := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, uint64(4), a.Stats().Frames)
	out := logs.String()
	assert.Contains(t, out, "run_id="+a.RunID().String())
	assert.Contains(t, out, "No graph description given, using the default graph.")
	assert.Contains(t, out, "Frame loop finished.")
}

func TestApp_GraphFileRendererBlock(t *testing.T) {
	root := testutil.WriteFiles(t, map[string]string{
		"graph.hcl": `
renderer {
  frames_in_flight = 2
  backend          = "noop"
  wait_timeout     = "2s"
  width            = 128
  height           = 64
}

node "draw" "scene" {
  clear_color = [0, 0, 0, 1]
}

node "present" "swapchain" {
  depends_on = ["scene"]
}
`,
	})

	cfg := DefaultConfig()
	cfg.GraphPath = filepath.Join(root, "graph.hcl")
	cfg.Frames = 5
	a, _ := newTestApp(t, cfg)

	effective := a.Config()
	assert.Equal(t, 2, effective.FramesInFlight)
	assert.Equal(t, BackendNoop, effective.Backend)
	assert.Equal(t, 2*time.Second, effective.WaitTimeout)
	assert.Equal(t, 128, effective.Width)
	assert.Equal(t, 64, effective.Height)

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, uint64(5), a.Stats().Frames)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "close is idempotent")
}

func TestApp_ExplicitSettingsWin(t *testing.T) {
	root := testutil.WriteFiles(t, map[string]string{
		"graph.hcl": `
renderer {
  frames_in_flight = 2
  backend          = "noop"
}
node "noop" "idle" {}
`,
	})

	cfg := DefaultConfig()
	cfg.GraphPath = root
	cfg.FramesInFlight = 4
	cfg.Explicit = map[string]bool{SettingFramesInFlight: true}
	a, _ := newTestApp(t, cfg)

	assert.Equal(t, 4, a.Config().FramesInFlight)
	assert.Equal(t, BackendNoop, a.Config().Backend)
}

func TestApp_StartupErrors(t *testing.T) {
	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "bad renderer block",
			files:   map[string]string{"g.hcl": `renderer { backend = "vulkan" }`},
			wantErr: `unknown backend "vulkan"`,
		},
		{
			name:    "unknown dependency",
			files:   map[string]string{"g.hcl": `node "present" "p" { depends_on = ["ghost"] }`},
			wantErr: `depends on unknown node "ghost"`,
		},
		{
			name:    "syntax error",
			files:   map[string]string{"g.hcl": `node "draw" "x" {`},
			wantErr: "failed to parse",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GraphPath = testutil.WriteFiles(t, tc.files)
			validated, err := NewConfig(cfg)
			require.NoError(t, err)

			_, err = NewApp(context.Background(), &testutil.SafeBuffer{}, validated, hclconfig.NewLoader())
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}

	t.Run("path without loader", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.GraphPath = "graph.hcl"
		_, err := NewApp(context.Background(), &testutil.SafeBuffer{}, &cfg, nil)
		assert.ErrorContains(t, err, "no loader is configured")
	})
}

func TestApp_CycleFailsRun(t *testing.T) {
	root := testutil.WriteFiles(t, map[string]string{
		"g.hcl": `
node "draw" "a" { depends_on = ["b"] }
node "present" "b" { depends_on = ["a"] }
`,
	})
	cfg := DefaultConfig()
	cfg.GraphPath = root
	cfg.Frames = 1
	a, logs := newTestApp(t, cfg)

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dag.ErrCyclicDependency)
	assert.Zero(t, a.Stats().Frames)
	assert.Contains(t, logs.String(), "Render loop stopped.")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	a, _ := newTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))
	assert.Positive(t, a.Stats().Frames)
}

func TestApp_HTTPHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Frames = 2
	a, _ := newTestApp(t, cfg)
	require.NoError(t, a.Run(context.Background()))

	handler := a.httpHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK frames=2 present_failures=0 marker=2\n", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `framegraph_frames_submitted_total{backend="fake"} 2`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
