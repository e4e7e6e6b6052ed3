// Package hclconfig loads frame graph descriptions written in HCL.
//
//	renderer {
//	  frames_in_flight = 3
//	  wait_timeout     = "5s"
//	  backend          = "noop"
//	}
//
//	node "draw" "scene" {
//	  clear_color = [0.9, 0.2, 0.4, 1.0]
//	}
//
//	node "present" "swapchain" {
//	  depends_on = ["scene"]
//	}
package hclconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/framegraph/internal/config"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Extension is the file extension picked up when a directory is loaded.
const Extension = ".hcl"

// hclFile represents the top-level structure of a graph file for decoding.
type hclFile struct {
	Renderers []*hclRenderer `hcl:"renderer,block"`
	Nodes     []*hclNode     `hcl:"node,block"`
}

type hclRenderer struct {
	FramesInFlight *int      `hcl:"frames_in_flight,optional"`
	WaitTimeout    *string   `hcl:"wait_timeout,optional"`
	Backend        *string   `hcl:"backend,optional"`
	Width          *int      `hcl:"width,optional"`
	Height         *int      `hcl:"height,optional"`
	DeclRange      hcl.Range `hcl:",def_range"`
}

type hclNode struct {
	Kind       string         `hcl:"kind,label"`
	Name       string         `hcl:"name,label"`
	ClearColor hcl.Expression `hcl:"clear_color,optional"`
	DependsOn  []string       `hcl:"depends_on,optional"`
	DeclRange  hcl.Range      `hcl:",def_range"`
}

// Loader implements config.Loader for HCL files.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load implements config.Loader. Each path may be a file or a directory
// searched recursively for *.hcl files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, path := range paths {
		found, err := fsutil.FindFilesByExtension(path, Extension)
		if err != nil {
			return nil, fmt.Errorf("failed to find graph files in %s: %w", path, err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files found in %v", Extension, paths)
	}

	model := &config.Model{}
	var rendererFrom string
	parser := hclparse.NewParser()
	for _, file := range files {
		logger.Debug("Loading graph file.", "path", file)

		parsed, err := parseFile(parser, file)
		if err != nil {
			return nil, err
		}

		for _, r := range parsed.Renderers {
			if model.Renderer != nil {
				return nil, fmt.Errorf("%s: duplicate renderer block, first declared at %s", r.DeclRange, rendererFrom)
			}
			renderer, err := translateRenderer(r)
			if err != nil {
				return nil, err
			}
			model.Renderer = renderer
			rendererFrom = r.DeclRange.String()
		}

		for _, n := range parsed.Nodes {
			decl, err := translateNode(n)
			if err != nil {
				return nil, err
			}
			model.Nodes = append(model.Nodes, decl)
		}
	}

	logger.Debug("Graph description loaded.", "files", len(files), "nodes", len(model.Nodes))
	return model, nil
}

func parseFile(parser *hclparse.Parser, path string) (*hclFile, error) {
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}
	return &parsed, nil
}

func translateRenderer(r *hclRenderer) (*config.Renderer, error) {
	out := &config.Renderer{FramesInFlight: r.FramesInFlight}

	if r.FramesInFlight != nil && *r.FramesInFlight < 1 {
		return nil, fmt.Errorf("%s: frames_in_flight must be at least 1, got %d", r.DeclRange, *r.FramesInFlight)
	}
	if r.WaitTimeout != nil {
		d, err := time.ParseDuration(*r.WaitTimeout)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid wait_timeout: %w", r.DeclRange, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%s: wait_timeout must not be negative", r.DeclRange)
		}
		out.WaitTimeout = &d
	}
	if r.Backend != nil {
		out.Backend = *r.Backend
	}

	var err error
	if out.Width, err = dimension(r.DeclRange, "width", r.Width); err != nil {
		return nil, err
	}
	if out.Height, err = dimension(r.DeclRange, "height", r.Height); err != nil {
		return nil, err
	}
	return out, nil
}

func dimension(rng hcl.Range, name string, v *int) (*uint32, error) {
	if v == nil {
		return nil, nil
	}
	if *v < 1 || *v > 16384 {
		return nil, fmt.Errorf("%s: %s must be within [1, 16384], got %d", rng, name, *v)
	}
	u := uint32(*v)
	return &u, nil
}

func translateNode(n *hclNode) (*config.Node, error) {
	decl := &config.Node{
		Kind:      n.Kind,
		Name:      n.Name,
		DependsOn: n.DependsOn,
		Source:    n.DeclRange.String(),
	}

	color, err := decodeColor(n.ClearColor)
	if err != nil {
		return nil, fmt.Errorf("%s: node %q: %w", n.DeclRange, n.Name, err)
	}
	decl.ClearColor = color
	return decl, nil
}

// decodeColor evaluates a clear_color expression into four components in
// [0, 1]. A missing or null attribute yields nil.
func decodeColor(expr hcl.Expression) (*[4]float32, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid clear_color: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, errors.New("clear_color must be known")
	}

	listVal, err := convert.Convert(val, cty.List(cty.Number))
	if err != nil {
		return nil, fmt.Errorf("cannot convert clear_color %s to a list of numbers: %w", val.Type().FriendlyName(), err)
	}

	var components []float32
	if err := gocty.FromCtyValue(listVal, &components); err != nil {
		return nil, fmt.Errorf("invalid clear_color: %w", err)
	}
	if len(components) != 4 {
		return nil, fmt.Errorf("clear_color needs 4 components (r, g, b, a), got %d", len(components))
	}

	var color [4]float32
	for i, c := range components {
		if c < 0 || c > 1 {
			return nil, fmt.Errorf("clear_color component %d is %g, outside [0, 1]", i, c)
		}
		color[i] = c
	}
	return &color, nil
}
