package config

import "time"

// Model is the unified, format-agnostic representation of a frame graph
// description.
type Model struct {
	// Renderer is nil when no renderer block was declared.
	Renderer *Renderer
	Nodes    []*Node
}

// Renderer holds the renderer settings. Nil pointers and empty strings mean
// the setting was not given.
type Renderer struct {
	FramesInFlight *int
	WaitTimeout    *time.Duration
	Backend        string
	Width          *uint32
	Height         *uint32
}

// Node is the format-agnostic representation of a `node` block.
type Node struct {
	Kind string
	Name string
	// ClearColor is nil when the description does not set one.
	ClearColor *[4]float32
	DependsOn  []string
	// Source locates the declaration, e.g. "graph.hcl:4,1-20".
	Source string
}
