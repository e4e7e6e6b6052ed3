package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/gpu"
)

// DefaultFramesInFlight is the number of frame slots used when no option
// overrides it.
const DefaultFramesInFlight = 3

// Option configures a FrameScheduler.
type Option func(*FrameScheduler)

// WithFramesInFlight sets the number of frame slots in the ring.
func WithFramesInFlight(n int) Option {
	return func(s *FrameScheduler) { s.framesInFlight = n }
}

// WithWaitTimeout bounds how long BeginFrame and Drain wait for the GPU.
// Zero waits forever.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *FrameScheduler) { s.waitTimeout = d }
}

// WithWaitObserver registers a callback receiving the duration of every
// BeginFrame that had to block.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(s *FrameScheduler) { s.observeWait = fn }
}

// FrameScheduler bounds the number of frames in flight using the backend's
// completion marker.
type FrameScheduler struct {
	backend        gpu.Backend
	framesInFlight int
	waitTimeout    time.Duration
	observeWait    func(time.Duration)

	// mutex protects every field below.
	mutex sync.Mutex
	// slotMarkers[i] is the marker slot i last submitted, 0 if never used.
	slotMarkers []uint64
	frameIndex  int
	marker      uint64
	frameNumber uint64
	// busy is set from the start of BeginFrame until EndFrame.
	busy    bool
	current *Slot
}

// New creates a scheduler over backend. The backend must own at least as
// many per-slot resources as the configured number of frames in flight.
func New(backend gpu.Backend, opts ...Option) (*FrameScheduler, error) {
	if backend == nil {
		return nil, errors.New("scheduler requires a backend")
	}

	s := &FrameScheduler{
		backend:        backend,
		framesInFlight: DefaultFramesInFlight,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.framesInFlight < 1 {
		return nil, fmt.Errorf("frames in flight must be at least 1, got %d", s.framesInFlight)
	}
	if s.waitTimeout < 0 {
		return nil, fmt.Errorf("wait timeout must not be negative, got %s", s.waitTimeout)
	}
	s.slotMarkers = make([]uint64, s.framesInFlight)
	return s, nil
}

// BeginFrame returns the current slot once the GPU has finished the work it
// last submitted. The wait is the only place where ctx is observed. A wait
// that times out yields an error wrapping gpu.ErrDeviceLost.
func (s *FrameScheduler) BeginFrame(ctx context.Context) (*Slot, error) {
	logger := ctxlog.FromContext(ctx)

	s.mutex.Lock()
	if s.busy {
		s.mutex.Unlock()
		return nil, ErrFrameInProgress
	}
	s.busy = true
	index := s.frameIndex
	pending := s.slotMarkers[index]
	frameNumber := s.frameNumber
	s.mutex.Unlock()

	slot, err := s.acquire(ctx, index, pending, frameNumber)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err != nil {
		s.busy = false
		return nil, err
	}
	s.current = slot
	logger.Debug("Frame begun.", "slot", index, "frame", frameNumber, "slot_marker", pending)
	return slot, nil
}

func (s *FrameScheduler) acquire(ctx context.Context, index int, pending, frameNumber uint64) (*Slot, error) {
	logger := ctxlog.FromContext(ctx)

	if completed := s.backend.CompletedMarker(); completed < pending {
		logger.Debug("Waiting for frame slot.", "slot", index, "marker", pending, "completed", completed)
		start := time.Now()
		if err := s.backend.WaitMarker(ctx, pending, s.waitTimeout); err != nil {
			if errors.Is(err, gpu.ErrDeviceLost) {
				logger.Error("GPU did not release frame slot.", "slot", index, "marker", pending, "error", err)
			}
			return nil, fmt.Errorf("waiting for slot %d marker %d: %w", index, pending, err)
		}
		if s.observeWait != nil {
			s.observeWait(time.Since(start))
		}
	}

	rec, err := s.backend.Recorder(index)
	if err != nil {
		return nil, fmt.Errorf("acquiring recorder for slot %d: %w", index, err)
	}

	return &Slot{
		Index:       index,
		Marker:      pending,
		FrameNumber: frameNumber,
		Recorder:    rec,
	}, nil
}

// EndFrame submits the slot's work, presents, signals the next marker and
// advances the ring. The marker covers the present's queue work. If the
// present is rejected the frame is still signaled and accounted, and the
// returned error wraps gpu.ErrPresentationFailure.
func (s *FrameScheduler) EndFrame(ctx context.Context, slot *Slot) error {
	logger := ctxlog.FromContext(ctx)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if slot == nil || s.current == nil || slot != s.current {
		return ErrUnknownSlot
	}
	s.current = nil
	s.busy = false

	if err := s.backend.Submit(slot.Index); err != nil {
		return fmt.Errorf("submitting slot %d: %w", slot.Index, err)
	}

	presentErr := s.backend.Present()
	if presentErr != nil && !errors.Is(presentErr, gpu.ErrPresentationFailure) {
		presentErr = fmt.Errorf("%w: %w", gpu.ErrPresentationFailure, presentErr)
	}

	next := s.marker + 1
	if err := s.backend.SignalMarker(next); err != nil {
		if !errors.Is(err, gpu.ErrDeviceLost) {
			err = fmt.Errorf("%w: %w", gpu.ErrDeviceLost, err)
		}
		return fmt.Errorf("signaling marker %d: %w", next, err)
	}

	s.marker = next
	s.slotMarkers[slot.Index] = next
	slot.Marker = next
	s.frameIndex = (s.frameIndex + 1) % s.framesInFlight
	s.frameNumber++

	logger.Debug("Frame submitted.", "slot", slot.Index, "frame", slot.FrameNumber, "marker", next)

	if presentErr != nil {
		logger.Warn("Present rejected.", "slot", slot.Index, "frame", slot.FrameNumber, "error", presentErr)
		return fmt.Errorf("presenting frame %d: %w", slot.FrameNumber, presentErr)
	}
	return nil
}

// Abandon releases a begun frame without submitting it. The marker and the
// ring index are unchanged, so the next BeginFrame reuses the same slot.
func (s *FrameScheduler) Abandon(ctx context.Context, slot *Slot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if slot == nil || s.current == nil || slot != s.current {
		return ErrUnknownSlot
	}
	s.current = nil
	s.busy = false
	ctxlog.FromContext(ctx).Debug("Frame abandoned.", "slot", slot.Index, "frame", slot.FrameNumber)
	return nil
}

// Drain waits until the GPU has reached the highest submitted marker.
func (s *FrameScheduler) Drain(ctx context.Context) error {
	s.mutex.Lock()
	last := s.marker
	s.mutex.Unlock()

	if last == 0 || s.backend.CompletedMarker() >= last {
		return nil
	}
	ctxlog.FromContext(ctx).Debug("Draining frames in flight.", "marker", last)
	if err := s.backend.WaitMarker(ctx, last, s.waitTimeout); err != nil {
		return fmt.Errorf("draining to marker %d: %w", last, err)
	}
	return nil
}

// FramesInFlight returns the size of the slot ring.
func (s *FrameScheduler) FramesInFlight() int {
	return s.framesInFlight
}

// Marker returns the last marker value signaled.
func (s *FrameScheduler) Marker() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.marker
}

// FrameIndex returns the slot the next BeginFrame will use.
func (s *FrameScheduler) FrameIndex() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.frameIndex
}

// FrameNumber returns the number of frames submitted so far.
func (s *FrameScheduler) FrameNumber() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.frameNumber
}
