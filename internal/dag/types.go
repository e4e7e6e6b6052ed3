// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package dag

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/framegraph/internal/node"
)

var (
	// ErrInvalidDependency is returned when an edge references a handle that
	// does not exist, or a node would depend on itself.
	ErrInvalidDependency = errors.New("invalid dependency")

	// ErrCyclicDependency is matched by every *CycleError.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrGraphSealed is returned when the graph is mutated after its first
	// execution order was computed.
	ErrGraphSealed = errors.New("graph is sealed")
)

// Handle identifies a node by its position in the registry.
type Handle int

// Edge states that From must execute before To.
type Edge struct {
	From Handle
	To   Handle
}

// CycleError reports the nodes that could not be ordered because they are
// part of, or downstream of, a dependency cycle.
type CycleError struct {
	// Nodes lists the implicated handles in ascending order.
	Nodes []Handle
	// Names holds the node names for Nodes, index for index.
	Names []string
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Nodes))
	for i, h := range e.Nodes {
		parts[i] = fmt.Sprintf("%d:%s", h, e.Names[i])
	}
	return fmt.Sprintf("%s among nodes [%s]", ErrCyclicDependency, strings.Join(parts, ", "))
}

// Is reports whether target is ErrCyclicDependency.
func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// Graph is an append-only collection of nodes and dependency edges.
// All methods are safe for concurrent use.
type Graph struct {
	// mutex protects every field below.
	mutex sync.RWMutex
	// nodes is the registry; a node's Handle is its index.
	nodes []node.Node
	// edges is kept in insertion order. Duplicates are allowed.
	edges []Edge
	// sealed is set once an order has been computed.
	sealed bool
	// order caches the first successfully computed order.
	order []Handle
}
