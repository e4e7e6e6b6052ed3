// Package halgpu implements gpu.Backend on top of the gogpu/wgpu hardware
// abstraction layer.
//
// Completion markers are mapped onto the queue's submission indexes: a
// signaled marker completes once the queue reports the index of the last
// submission made before it. Every frame slot owns a render target texture
// and the command buffer it last submitted; the buffer is freed only when the
// slot is recorded again, which the frame scheduler allows only after the
// slot's marker has completed.
package halgpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/vk/framegraph/internal/gpu"
)

// pollInterval is the pause between two completion polls in WaitMarker.
const pollInterval = time.Millisecond

// Config describes the per-slot render targets.
type Config struct {
	Slots  int
	Width  uint32
	Height uint32
	// WaitTimeout bounds the idle wait in Close. Zero waits forever.
	WaitTimeout time.Duration
}

func (c Config) validate() error {
	if c.Slots < 1 {
		return fmt.Errorf("halgpu: slots must be at least 1, got %d", c.Slots)
	}
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("halgpu: render target size must be non-zero, got %dx%d", c.Width, c.Height)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("halgpu: wait timeout must not be negative, got %s", c.WaitTimeout)
	}
	return nil
}

// slot holds the resources owned by one frame slot.
type slot struct {
	index   int
	texture hal.Texture
	view    hal.TextureView
	// presentable tracks the texture state of the frame being recorded.
	presentable bool
	// committed is the texture state left by the last submitted frame.
	committed bool

	encoder hal.CommandEncoder
	// inFlight is the command buffer most recently submitted from this slot.
	inFlight hal.CommandBuffer
	// recordErr is the first error raised while recording.
	recordErr error
}

// pendingMarker is a signaled marker waiting for its submission to finish.
type pendingMarker struct {
	marker     uint64
	submission uint64
}

// Backend drives a hal.Device and hal.Queue.
type Backend struct {
	device      hal.Device
	queue       hal.Queue
	waitTimeout time.Duration
	// release tears down whatever opened the device, if owned.
	release func()

	mu       sync.Mutex
	closed   bool
	slots    []*slot
	lastSlot int
	// lastSubmission is the queue index of the most recent submission.
	lastSubmission uint64
	// pending is ordered by marker and by submission index.
	pending   []pendingMarker
	completed uint64
	signaled  uint64
	presents  uint64
	submitted uint64
}

// New creates a backend on an already opened device and queue. The caller
// keeps ownership of the device.
func New(device hal.Device, queue hal.Queue, cfg Config) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, errors.New("halgpu: device and queue are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b := &Backend{
		device:      device,
		queue:       queue,
		waitTimeout: cfg.WaitTimeout,
		slots:       make([]*slot, cfg.Slots),
		lastSlot:    -1,
	}
	for i := range b.slots {
		s, err := b.createSlot(i, cfg)
		if err != nil {
			b.destroyResources()
			return nil, err
		}
		b.slots[i] = s
	}
	return b, nil
}

// OpenNoop opens a headless device from the hal/noop API and builds a
// backend that owns it.
func OpenNoop(cfg Config) (*Backend, error) {
	device, queue, release, err := openNoopDevice()
	if err != nil {
		return nil, err
	}
	b, err := New(device, queue, cfg)
	if err != nil {
		release()
		return nil, err
	}
	b.release = release
	return b, nil
}

func openNoopDevice() (hal.Device, hal.Queue, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("halgpu: create noop instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, errors.New("halgpu: noop instance exposes no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("halgpu: open noop adapter: %w", err)
	}
	release := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, release, nil
}

func (b *Backend) createSlot(i int, cfg Config) (*slot, error) {
	tex, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label: fmt.Sprintf("frame_slot_%d", i),
		Size: hal.Extent3D{
			Width:              cfg.Width,
			Height:             cfg.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatBGRA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create render target %d: %w", i, err)
	}
	view, err := b.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: fmt.Sprintf("frame_slot_%d_view", i),
	})
	if err != nil {
		b.device.DestroyTexture(tex)
		return nil, fmt.Errorf("halgpu: create render target view %d: %w", i, err)
	}
	return &slot{index: i, texture: tex, view: view}, nil
}

// Recorder implements gpu.Backend. It discards a recording that was never
// submitted, frees the command buffer the slot submitted last time and opens
// a new command encoder.
func (b *Backend) Recorder(index int) (gpu.Recorder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.slotLocked(index)
	if err != nil {
		return nil, err
	}

	if s.encoder != nil {
		s.encoder.DiscardEncoding()
		s.encoder = nil
	}
	s.presentable = s.committed
	s.recordErr = nil

	if s.inFlight != nil {
		b.device.FreeCommandBuffer(s.inFlight)
		s.inFlight = nil
	}

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: fmt.Sprintf("frame_slot_%d_encoder", index),
	})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(fmt.Sprintf("frame_slot_%d", index)); err != nil {
		return nil, fmt.Errorf("halgpu: begin encoding: %w", err)
	}
	s.encoder = encoder

	// Return the target to the attachment state before new passes.
	if s.presentable {
		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: s.texture,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopySrc,
				NewUsage: gputypes.TextureUsageRenderAttachment,
			},
		}})
		s.presentable = false
	}
	return &recorder{slot: s}, nil
}

// Submit implements gpu.Backend. A failed submission leaves the slot's last
// submitted state untouched.
func (b *Backend) Submit(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.slotLocked(index)
	if err != nil {
		return err
	}
	if s.encoder == nil {
		return fmt.Errorf("halgpu: slot %d has nothing recorded", index)
	}
	encoder := s.encoder
	s.encoder = nil
	if s.recordErr != nil {
		encoder.DiscardEncoding()
		s.presentable = s.committed
		return fmt.Errorf("halgpu: recording slot %d: %w", index, s.recordErr)
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		s.presentable = s.committed
		return fmt.Errorf("halgpu: end encoding slot %d: %w", index, err)
	}
	submission, err := b.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		b.device.FreeCommandBuffer(cmdBuf)
		s.presentable = s.committed
		return fmt.Errorf("%w: halgpu: submit slot %d: %w", gpu.ErrPresentationFailure, index, err)
	}
	s.inFlight = cmdBuf
	s.committed = s.presentable
	b.lastSlot = index
	b.lastSubmission = submission
	b.submitted++
	return nil
}

// SignalMarker implements gpu.Backend. The marker completes with the last
// submission made before it.
func (b *Backend) SignalMarker(value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpu.ErrClosed
	}
	if value <= b.signaled {
		return fmt.Errorf("%w: halgpu: marker %d does not follow %d", gpu.ErrDeviceLost, value, b.signaled)
	}
	b.pending = append(b.pending, pendingMarker{marker: value, submission: b.lastSubmission})
	b.signaled = value
	return nil
}

// CompletedMarker implements gpu.Backend.
func (b *Backend) CompletedMarker() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.pollLocked()
	}
	return b.completed
}

// pollLocked retires every pending marker whose submission the queue has
// finished.
func (b *Backend) pollLocked() {
	if len(b.pending) == 0 {
		return
	}
	done := b.queue.PollCompleted()
	retired := 0
	for _, p := range b.pending {
		if p.submission > done {
			break
		}
		b.completed = p.marker
		retired++
	}
	b.pending = b.pending[retired:]
}

// WaitMarker implements gpu.Backend by polling the queue's completed
// submission index.
func (b *Backend) WaitMarker(ctx context.Context, value uint64, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return fmt.Errorf("halgpu: waiting for marker %d: %w", value, gpu.ErrDeviceLost)
		}
		b.pollLocked()
		completed := b.completed
		b.mu.Unlock()
		if completed >= value {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		step := pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("halgpu: marker %d not reached within %s: %w", value, timeout, gpu.ErrDeviceLost)
			}
			step = min(step, remaining)
		}

		timer.Reset(step)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Present implements gpu.Backend. The headless device has no surface, so a
// present only requires that the last submitted frame left its target in the
// presentable state.
func (b *Backend) Present() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpu.ErrClosed
	}
	if b.lastSlot < 0 {
		return fmt.Errorf("%w: halgpu: nothing submitted", gpu.ErrPresentationFailure)
	}
	if !b.slots[b.lastSlot].committed {
		return fmt.Errorf("%w: halgpu: slot %d was not transitioned for presentation", gpu.ErrPresentationFailure, b.lastSlot)
	}
	b.presents++
	return nil
}

// Stats returns the number of submitted and presented frames.
func (b *Backend) Stats() (submitted, presented uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted, b.presents
}

// Close waits for the last signaled marker, bounded by Config.WaitTimeout,
// then releases every resource.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	signaled := b.signaled
	b.mu.Unlock()

	var waitErr error
	if signaled > 0 {
		if err := b.WaitMarker(context.Background(), signaled, b.waitTimeout); err != nil {
			waitErr = fmt.Errorf("halgpu: wait idle: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.destroyResources()
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return waitErr
}

func (b *Backend) destroyResources() {
	for _, s := range b.slots {
		if s == nil {
			continue
		}
		if s.encoder != nil {
			s.encoder.DiscardEncoding()
			s.encoder = nil
		}
		if s.inFlight != nil {
			b.device.FreeCommandBuffer(s.inFlight)
			s.inFlight = nil
		}
		if s.view != nil {
			b.device.DestroyTextureView(s.view)
		}
		if s.texture != nil {
			b.device.DestroyTexture(s.texture)
		}
	}
	b.slots = nil
	b.pending = nil
}

func (b *Backend) slotLocked(index int) (*slot, error) {
	if b.closed {
		return nil, gpu.ErrClosed
	}
	if index < 0 || index >= len(b.slots) {
		return nil, fmt.Errorf("halgpu: slot %d out of range [0,%d)", index, len(b.slots))
	}
	return b.slots[index], nil
}

// recorder records into the slot's open command encoder.
type recorder struct {
	slot *slot
}

// Clear records a render pass that clears the slot's target to color.
func (r *recorder) Clear(color [4]float32) {
	r.pass(gputypes.LoadOpClear, color)
}

// Draw records a render pass over the slot's target that keeps its contents.
// The pass carries no draw calls.
func (r *recorder) Draw() {
	r.pass(gputypes.LoadOpLoad, [4]float32{})
}

// Present transitions the target to the presentable state.
func (r *recorder) Present() {
	s := r.slot
	if !r.usable() || s.presentable {
		return
	}
	s.encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: s.texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	s.presentable = true
}

func (r *recorder) pass(load gputypes.LoadOp, color [4]float32) {
	s := r.slot
	if !r.usable() {
		return
	}
	if s.presentable {
		s.recordErr = errors.New("render pass recorded after present transition")
		return
	}
	rp := s.encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: fmt.Sprintf("frame_slot_%d_pass", s.index),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    s.view,
			LoadOp:  load,
			StoreOp: gputypes.StoreOpStore,
			ClearValue: gputypes.Color{
				R: float64(color[0]),
				G: float64(color[1]),
				B: float64(color[2]),
				A: float64(color[3]),
			},
		}},
	})
	rp.End()
}

func (r *recorder) usable() bool {
	s := r.slot
	if s.encoder == nil {
		if s.recordErr == nil {
			s.recordErr = errors.New("recorder used outside of an open frame")
		}
		return false
	}
	return s.recordErr == nil
}
