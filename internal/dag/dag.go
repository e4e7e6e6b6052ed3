// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package dag

import (
	"fmt"

	"github.com/vk/framegraph/internal/node"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{}
}

// AddNode registers n and returns its handle, which equals the number of
// nodes registered before it. For every handle in deps an edge (dep, new) is
// added. If any dependency does not exist the graph is left unchanged and an
// error wrapping ErrInvalidDependency is returned.
func (g *Graph) AddNode(n node.Node, deps ...Handle) (Handle, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.sealed {
		return -1, fmt.Errorf("cannot add node %s: %w", n, ErrGraphSealed)
	}

	id := Handle(len(g.nodes))
	for _, dep := range deps {
		if !g.validLocked(dep) {
			return -1, fmt.Errorf("node %s depends on unknown handle %d: %w", n, dep, ErrInvalidDependency)
		}
	}

	g.nodes = append(g.nodes, n)
	for _, dep := range deps {
		g.edges = append(g.edges, Edge{From: dep, To: id})
	}
	return id, nil
}

// AddEdge creates a directed edge meaning `from` must execute before `to`.
// Both handles must exist and must differ.
func (g *Graph) AddEdge(from, to Handle) error {
	if from == to {
		return fmt.Errorf("self-referential edge not allowed: %d -> %d: %w", from, to, ErrInvalidDependency)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.sealed {
		return fmt.Errorf("cannot add edge %d -> %d: %w", from, to, ErrGraphSealed)
	}
	if !g.validLocked(from) {
		return fmt.Errorf("source node not found: %d: %w", from, ErrInvalidDependency)
	}
	if !g.validLocked(to) {
		return fmt.Errorf("destination node not found: %d: %w", to, ErrInvalidDependency)
	}

	g.edges = append(g.edges, Edge{From: from, To: to})
	return nil
}

// Len returns the number of registered nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Node returns the node registered under h.
func (g *Graph) Node(h Handle) (node.Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if !g.validLocked(h) {
		return node.Node{}, false
	}
	return g.nodes[h], true
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)
	return edges
}

// Dependencies returns the handles h directly depends on, one entry per edge.
func (g *Graph) Dependencies(h Handle) ([]Handle, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if !g.validLocked(h) {
		return nil, fmt.Errorf("node not found: %d", h)
	}
	var deps []Handle
	for _, e := range g.edges {
		if e.To == h {
			deps = append(deps, e.From)
		}
	}
	return deps, nil
}

// Dependents returns the handles that directly depend on h, one entry per edge.
func (g *Graph) Dependents(h Handle) ([]Handle, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if !g.validLocked(h) {
		return nil, fmt.Errorf("node not found: %d", h)
	}
	var dependents []Handle
	for _, e := range g.edges {
		if e.From == h {
			dependents = append(dependents, e.To)
		}
	}
	return dependents, nil
}

// Sealed reports whether an execution order has been computed.
func (g *Graph) Sealed() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.sealed
}

func (g *Graph) validLocked(h Handle) bool {
	return h >= 0 && int(h) < len(g.nodes)
}
