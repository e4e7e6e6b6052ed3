// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package node defines the units of GPU work scheduled by the frame graph.
//
// The set of node kinds is closed: a Node is a tagged value and Execute
// dispatches on its Kind. Adding a kind means adding a constant, a case in
// Execute and a name in ParseKind.
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/gpu"
)

// ErrNoRecorder is returned when a recording node runs without a recorder.
var ErrNoRecorder = errors.New("node context has no recorder")

// DefaultClearColor is the render target clear color used by draw nodes that
// do not configure one.
var DefaultClearColor = [4]float32{0.9, 0.2, 0.4, 1.0}

// Kind distinguishes the different kinds of nodes in the graph.
type Kind int

const (
	// Draw clears the slot's render target and records the frame's draw work.
	Draw Kind = iota
	// Present transitions the render target to a presentable state.
	Present
	// NoOp records nothing. It is useful as a join point in the graph.
	NoOp
)

var kindNames = map[Kind]string{
	Draw:    "draw",
	Present: "present",
	NoOp:    "noop",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configuration name ("draw", "present", "noop") to a Kind.
func ParseKind(s string) (Kind, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == want {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// Node is a single vertex in the frame graph. It carries no identity beyond
// its position in the graph's registry; Name is only used for diagnostics.
type Node struct {
	Kind Kind
	Name string
	// ClearColor is used by Draw nodes.
	ClearColor [4]float32
}

// NewDraw returns a Draw node clearing to the given color.
func NewDraw(name string, clear [4]float32) Node {
	return Node{Kind: Draw, Name: name, ClearColor: clear}
}

// NewPresent returns a Present node.
func NewPresent(name string) Node {
	return Node{Kind: Present, Name: name}
}

// NewNoOp returns a placeholder node.
func NewNoOp(name string) Node {
	return Node{Kind: NoOp, Name: name}
}

// String returns "kind(name)" for logs and errors.
func (n Node) String() string {
	if n.Name == "" {
		return n.Kind.String()
	}
	return n.Kind.String() + "(" + n.Name + ")"
}

// Context is handed to every node executed within one frame.
type Context struct {
	// Slot is the index of the frame slot being recorded.
	Slot int
	// FrameNumber counts frames since the scheduler was created, starting at 0.
	FrameNumber uint64
	// Recorder is the slot's command recording resource.
	Recorder gpu.Recorder
}

// Execute records the node's work into nc.Recorder.
func (n Node) Execute(ctx context.Context, nc Context) error {
	logger := ctxlog.FromContext(ctx)

	switch n.Kind {
	case Draw:
		if nc.Recorder == nil {
			return fmt.Errorf("%s: %w", n, ErrNoRecorder)
		}
		logger.Debug("Recording draw.", "node", n.Name, "slot", nc.Slot, "clear_color", n.ClearColor)
		nc.Recorder.Clear(n.ClearColor)
		nc.Recorder.Draw()
	case Present:
		if nc.Recorder == nil {
			return fmt.Errorf("%s: %w", n, ErrNoRecorder)
		}
		logger.Debug("Recording present transition.", "node", n.Name, "slot", nc.Slot)
		nc.Recorder.Present()
	case NoOp:
		logger.Debug("No-op node.", "node", n.Name)
	default:
		return fmt.Errorf("cannot execute node %q: unknown kind %d", n.Name, int(n.Kind))
	}
	return nil
}
