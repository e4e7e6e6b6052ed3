// Package scheduler paces the render loop so the CPU never records into a
// frame slot whose previous work is still executing on the GPU.
//
// # Why FrameScheduler Exists
//
// A renderer keeps a small ring of per-frame resources (command recorders,
// render targets). The CPU may run ahead of the GPU by at most that many
// frames. Reusing a slot early corrupts work the GPU is still reading; waiting
// for every frame to finish wastes the overlap between CPU and GPU.
//
// # How It Works
//
// Every submitted frame increments one monotonic marker and asks the backend
// to signal it once the GPU is done. Each slot remembers the marker it last
// submitted. BeginFrame selects the current slot and, only if the backend has
// not reached that slot's marker yet, blocks until it does:
//
//	slot   0    1    2    0    1 ...
//	marker 1    2    3    4    5 ...
//	              BeginFrame #4 waits for marker 1
//
// EndFrame submits, presents, then signals the next marker, stores it in the
// slot and advances the ring index. Signaling last makes the slot's marker
// cover the present. A rejected present is still signaled and accounted, and
// is reported afterwards so the next tick can proceed.
//
// # Relationship with Other Components
//
//   - gpu.Backend: owns the actual device, queue and per-slot resources.
//   - dag.Graph: records the frame's work between BeginFrame and EndFrame.
//   - renderer: drives BeginFrame, graph execution and EndFrame once per tick.
//
// # Thread-Safety
//
// A FrameScheduler is driven by a single goroutine. Accessors such as Marker
// may be called concurrently, for example from a metrics scrape.
package scheduler
