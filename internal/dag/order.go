// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package dag

import (
	"container/heap"
)

// TopologicalOrder returns every handle exactly once such that for each edge
// (p, c), p comes before c. Ties go to the lowest handle. The first
// successful call seals the graph and later calls return the cached order.
//
// If the edges contain a cycle the result is a *CycleError and the graph is
// left unsealed.
func (g *Graph) TopologicalOrder() ([]Handle, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.order == nil {
		order, err := g.sortLocked()
		if err != nil {
			return nil, err
		}
		g.order = order
		g.sealed = true
	}

	out := make([]Handle, len(g.order))
	copy(out, g.order)
	return out, nil
}

// sortLocked is Kahn's algorithm. Each duplicate edge contributes one unit of
// in-degree and is consumed by one decrement, so duplicates are harmless.
func (g *Graph) sortLocked() ([]Handle, error) {
	n := len(g.nodes)
	inDegree := make([]int, n)
	adjacency := make([][]Handle, n)
	for _, e := range g.edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
		inDegree[e.To]++
	}

	ready := &handleHeap{}
	for h := 0; h < n; h++ {
		if inDegree[h] == 0 {
			*ready = append(*ready, Handle(h))
		}
	}
	heap.Init(ready)

	order := make([]Handle, 0, n)
	for ready.Len() > 0 {
		h := heap.Pop(ready).(Handle)
		order = append(order, h)
		for _, dependent := range adjacency[h] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) < n {
		cycle := &CycleError{}
		for h := 0; h < n; h++ {
			if inDegree[h] > 0 {
				cycle.Nodes = append(cycle.Nodes, Handle(h))
				cycle.Names = append(cycle.Names, g.nodes[h].String())
			}
		}
		return nil, cycle
	}
	return order, nil
}

// handleHeap is a min-heap of handles implementing heap.Interface.
type handleHeap []Handle

func (h handleHeap) Len() int           { return len(h) }
func (h handleHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h handleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *handleHeap) Push(x any) { *h = append(*h, x.(Handle)) }

func (h *handleHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}
