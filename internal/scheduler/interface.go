package scheduler

import (
	"context"
	"errors"

	"github.com/vk/framegraph/internal/gpu"
)

var (
	// ErrFrameInProgress is returned by BeginFrame when the previous frame
	// has not been ended.
	ErrFrameInProgress = errors.New("frame already in progress")

	// ErrUnknownSlot is returned by EndFrame for a slot that is not the one
	// handed out by the last BeginFrame.
	ErrUnknownSlot = errors.New("slot is not the current frame")
)

// Slot describes the frame slot being recorded between BeginFrame and
// EndFrame.
type Slot struct {
	// Index is the ring position in [0, FramesInFlight).
	Index int
	// Marker is the completion marker the slot last submitted. After EndFrame
	// it holds the marker of the frame just submitted.
	Marker uint64
	// FrameNumber counts frames since the scheduler was created, from 0.
	FrameNumber uint64
	// Recorder is the slot's command recording resource, already reset.
	Recorder gpu.Recorder
}

// Pacer is the frame pacing protocol consumed by the render loop.
//
// # Usage Pattern
//
//	slot, err := pacer.BeginFrame(ctx)
//	if err != nil {
//	    return err
//	}
//	// record into slot.Recorder
//	return pacer.EndFrame(ctx, slot)
type Pacer interface {
	// BeginFrame selects the next slot, waiting for the GPU to release it.
	BeginFrame(ctx context.Context) (*Slot, error)

	// EndFrame submits and presents the work recorded into slot.
	EndFrame(ctx context.Context, slot *Slot) error

	// Abandon releases a begun frame whose recording failed.
	Abandon(ctx context.Context, slot *Slot) error

	// Drain blocks until every submitted frame has completed on the GPU.
	Drain(ctx context.Context) error
}

var _ Pacer = (*FrameScheduler)(nil)
