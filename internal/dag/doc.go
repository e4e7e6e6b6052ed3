// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package dag is the ordering layer of the frame loop. It owns an
// append-only registry of nodes and the dependency edges between them, and
// produces a deterministic execution order for every frame.
//
// # Construction and sealing
//
// A Graph is built once at startup with AddNode and AddEdge. Handles are
// dense indexes starting at 0 and are never reused. The first call to
// TopologicalOrder or Execute seals the graph: further mutation fails with
// ErrGraphSealed, and the computed order is reused by every later frame.
//
// # Ordering
//
// TopologicalOrder runs Kahn's algorithm over an adjacency list and an
// in-degree array, both built once per sort, in O(V+E). When several nodes are
// eligible at the same time the one with the lowest handle runs first.
//
// # Cycles
//
// AddNode can only reference nodes that already exist, so it can never close
// a cycle. AddEdge can. Cycles are therefore detected at sort time: if Kahn's
// algorithm cannot drain every node, the call fails with a *CycleError naming
// the nodes that never became eligible, and no node is executed.
package dag
