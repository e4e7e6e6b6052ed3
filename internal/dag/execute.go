// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package dag

import (
	"context"
	"fmt"

	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/node"
)

// Execute computes (or reuses) the topological order and runs every node in
// that order, synchronously, against nc. A cycle is reported before any node
// runs. Execution stops at the first node that fails.
func (g *Graph) Execute(ctx context.Context, nc node.Context) error {
	logger := ctxlog.FromContext(ctx)

	order, err := g.TopologicalOrder()
	if err != nil {
		return fmt.Errorf("cannot execute graph: %w", err)
	}

	// The registry is sealed from here on, so the slice header is stable.
	g.mutex.RLock()
	nodes := g.nodes
	g.mutex.RUnlock()

	logger.Debug("Executing frame graph.", "slot", nc.Slot, "frame", nc.FrameNumber, "node_count", len(order))
	for _, h := range order {
		n := nodes[h]
		if err := n.Execute(ctx, nc); err != nil {
			logger.Error("Node execution failed.", "handle", int(h), "node", n.String(), "error", err)
			return fmt.Errorf("node %d %s failed: %w", h, n, err)
		}
	}
	return nil
}
