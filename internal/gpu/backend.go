// Package gpu defines the boundary between the frame loop and a native
// graphics API. The scheduler and the node graph depend only on the
// interfaces declared here; concrete devices live in sub-packages.
//
// # Marker protocol
//
// A backend exposes a single monotonic completion marker. The CPU asks the
// backend to signal a value after the work submitted so far, and later either
// polls CompletedMarker or blocks in WaitMarker until the GPU has reached it.
// Values are uint64 and only ever grow.
package gpu

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPresentationFailure is returned (wrapped) when the backend rejects a
	// present or submission. The driver decides whether to retry the tick.
	ErrPresentationFailure = errors.New("presentation failure")

	// ErrDeviceLost is returned (wrapped) when a completion wait times out or
	// the device is gone. It is fatal and never retried.
	ErrDeviceLost = errors.New("device lost")

	// ErrClosed is returned by a backend used after Close.
	ErrClosed = errors.New("backend closed")
)

// Backend is the device/queue abstraction consumed by the frame scheduler.
//
// Implementations are not required to be safe for concurrent use except for
// CompletedMarker and WaitMarker, which may race with the GPU side signaling
// completion.
type Backend interface {
	// Recorder resets and returns the recording resource owned by the given
	// frame slot. It is only called once the slot's previous work is known
	// to be complete.
	Recorder(slot int) (Recorder, error)

	// Submit hands the commands recorded for slot to the GPU queue.
	Submit(slot int) error

	// SignalMarker asks the GPU to set the completed marker to value once all
	// previously submitted work has finished.
	SignalMarker(value uint64) error

	// CompletedMarker returns the highest marker value the GPU has reached.
	CompletedMarker() uint64

	// WaitMarker blocks until CompletedMarker() >= value. A zero timeout
	// waits forever. A timeout results in an error wrapping ErrDeviceLost.
	WaitMarker(ctx context.Context, value uint64, timeout time.Duration) error

	// Present requests presentation of the most recently submitted frame.
	// A rejection is reported as an error wrapping ErrPresentationFailure.
	Present() error

	// Close releases every resource owned by the backend.
	Close() error
}

// Recorder is the per-slot command recording surface handed to graph nodes.
type Recorder interface {
	// Clear records a clear of the slot's render target.
	Clear(color [4]float32)
	// Draw records the draw work for the slot.
	Draw()
	// Present records the transition of the render target to presentable state.
	Present()
}
