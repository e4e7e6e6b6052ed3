package halgpu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/gpu"
	"github.com/vk/framegraph/internal/scheduler"
)

func openNoop(t *testing.T, slots int) *Backend {
	t.Helper()
	b, err := OpenNoop(Config{Slots: slots, Width: 64, Height: 32})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestConfigValidation(t *testing.T) {
	_, err := OpenNoop(Config{Slots: 0, Width: 1, Height: 1})
	assert.ErrorContains(t, err, "slots must be at least 1")

	_, err = OpenNoop(Config{Slots: 1, Width: 0, Height: 1})
	assert.ErrorContains(t, err, "non-zero")

	_, err = OpenNoop(Config{Slots: 1, Width: 1, Height: 1, WaitTimeout: -time.Second})
	assert.ErrorContains(t, err, "wait timeout must not be negative")

	_, err = New(nil, nil, Config{Slots: 1, Width: 1, Height: 1})
	assert.ErrorContains(t, err, "device and queue are required")
}

func TestBackend_FrameRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openNoop(t, 2)

	rec, err := b.Recorder(0)
	require.NoError(t, err)
	rec.Clear([4]float32{0.9, 0.2, 0.4, 1})
	rec.Draw()
	rec.Present()

	require.NoError(t, b.Submit(0))
	require.NoError(t, b.SignalMarker(1))
	require.NoError(t, b.WaitMarker(ctx, 1, time.Second))
	assert.Equal(t, uint64(1), b.CompletedMarker())
	require.NoError(t, b.Present())

	submitted, presented := b.Stats()
	assert.Equal(t, uint64(1), submitted)
	assert.Equal(t, uint64(1), presented)

	// The slot can be recorded again once its marker completed.
	rec, err = b.Recorder(0)
	require.NoError(t, err)
	rec.Clear([4]float32{0, 0, 0, 1})
	rec.Present()
	require.NoError(t, b.Submit(0))
}

func TestBackend_PresentRequiresTransition(t *testing.T) {
	b := openNoop(t, 1)

	assert.ErrorIs(t, b.Present(), gpu.ErrPresentationFailure, "nothing submitted yet")

	rec, err := b.Recorder(0)
	require.NoError(t, err)
	rec.Clear([4]float32{1, 1, 1, 1})
	require.NoError(t, b.Submit(0))

	assert.ErrorIs(t, b.Present(), gpu.ErrPresentationFailure)
}

func TestBackend_RecordingErrors(t *testing.T) {
	b := openNoop(t, 1)

	rec, err := b.Recorder(0)
	require.NoError(t, err)
	rec.Present()
	rec.Draw()
	assert.ErrorContains(t, b.Submit(0), "render pass recorded after present transition")

	assert.ErrorContains(t, b.Submit(0), "nothing recorded")

	_, err = b.Recorder(3)
	assert.ErrorContains(t, err, "out of range")
}

func TestBackend_WaitHonorsContext(t *testing.T) {
	b := openNoop(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.WaitMarker(ctx, 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackend_Closed(t *testing.T) {
	b, err := OpenNoop(Config{Slots: 1, Width: 8, Height: 8})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	_, err = b.Recorder(0)
	assert.ErrorIs(t, err, gpu.ErrClosed)
	assert.ErrorIs(t, b.SignalMarker(1), gpu.ErrClosed)
	assert.ErrorIs(t, b.Present(), gpu.ErrClosed)
	assert.ErrorIs(t, b.WaitMarker(context.Background(), 1, 0), gpu.ErrDeviceLost)
}

func TestBackend_DrivenByScheduler(t *testing.T) {
	ctx := context.Background()
	b := openNoop(t, 2)

	s, err := scheduler.New(b, scheduler.WithFramesInFlight(2), scheduler.WithWaitTimeout(time.Second))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		slot, err := s.BeginFrame(ctx)
		require.NoError(t, err)
		slot.Recorder.Clear([4]float32{0.9, 0.2, 0.4, 1})
		slot.Recorder.Draw()
		slot.Recorder.Present()
		require.NoError(t, s.EndFrame(ctx, slot))
	}
	require.NoError(t, s.Drain(ctx))

	assert.Equal(t, uint64(6), s.Marker())
	assert.Equal(t, uint64(6), b.CompletedMarker())
	submitted, presented := b.Stats()
	assert.Equal(t, uint64(6), submitted)
	assert.Equal(t, uint64(6), presented)
}

func TestBackend_MoreFramesThanSlots(t *testing.T) {
	ctx := context.Background()
	b, err := OpenNoop(Config{Slots: 1, Width: 16, Height: 16, WaitTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s, err := scheduler.New(b, scheduler.WithFramesInFlight(1), scheduler.WithWaitTimeout(200*time.Millisecond))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		slot, err := s.BeginFrame(ctx)
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, 0, slot.Index)
		slot.Recorder.Clear([4]float32{0, 0, 0, 1})
		slot.Recorder.Present()
		require.NoError(t, s.EndFrame(ctx, slot), "frame %d", i)
	}

	require.NoError(t, s.Drain(ctx))
	assert.Equal(t, uint64(5), b.CompletedMarker())
	require.NoError(t, b.Close())
}

// stalledQueue never reports a submission as completed.
type stalledQueue struct {
	hal.Queue
	next uint64
}

func (q *stalledQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	if _, err := q.Queue.Submit(cmds); err != nil {
		return 0, err
	}
	q.next++
	return q.next, nil
}

func (q *stalledQueue) PollCompleted() uint64 { return 0 }

func TestBackend_StalledQueue(t *testing.T) {
	device, queue, release, err := openNoopDevice()
	require.NoError(t, err)
	t.Cleanup(release)

	b, err := New(device, &stalledQueue{Queue: queue}, Config{Slots: 1, Width: 8, Height: 8, WaitTimeout: 30 * time.Millisecond})
	require.NoError(t, err)

	rec, err := b.Recorder(0)
	require.NoError(t, err)
	rec.Clear([4]float32{0, 0, 0, 1})
	rec.Present()
	require.NoError(t, b.Submit(0))
	require.NoError(t, b.Present())
	require.NoError(t, b.SignalMarker(1))
	assert.Zero(t, b.CompletedMarker())

	err = b.WaitMarker(context.Background(), 1, 20*time.Millisecond)
	assert.ErrorIs(t, err, gpu.ErrDeviceLost)

	start := time.Now()
	err = b.Close()
	assert.ErrorIs(t, err, gpu.ErrDeviceLost, "close gives up after the configured wait timeout")
	assert.Less(t, time.Since(start), time.Second)
}

// encoderLog counts how command encoders are finished and records the
// texture transitions they carry.
type encoderLog struct {
	mu        sync.Mutex
	ended     int
	discarded int
	barriers  []hal.TextureUsageTransition
}

type loggingDevice struct {
	hal.Device
	log *encoderLog
}

func (d *loggingDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &loggingEncoder{CommandEncoder: enc, log: d.log}, nil
}

type loggingEncoder struct {
	hal.CommandEncoder
	log *encoderLog
}

func (e *loggingEncoder) EndEncoding() (hal.CommandBuffer, error) {
	e.log.mu.Lock()
	e.log.ended++
	e.log.mu.Unlock()
	return e.CommandEncoder.EndEncoding()
}

func (e *loggingEncoder) DiscardEncoding() {
	e.log.mu.Lock()
	e.log.discarded++
	e.log.mu.Unlock()
	e.CommandEncoder.DiscardEncoding()
}

func (e *loggingEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.log.mu.Lock()
	for _, b := range barriers {
		e.log.barriers = append(e.log.barriers, b.Usage)
	}
	e.log.mu.Unlock()
	e.CommandEncoder.TransitionTextures(barriers)
}

func openLogged(t *testing.T, slots int) (*Backend, *encoderLog) {
	t.Helper()
	device, queue, release, err := openNoopDevice()
	require.NoError(t, err)
	t.Cleanup(release)

	log := &encoderLog{}
	b, err := New(&loggingDevice{Device: device, log: log}, queue, Config{Slots: slots, Width: 8, Height: 8, WaitTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, log
}

var (
	toCopySrc = hal.TextureUsageTransition{
		OldUsage: gputypes.TextureUsageRenderAttachment,
		NewUsage: gputypes.TextureUsageCopySrc,
	}
	toAttachment = hal.TextureUsageTransition{
		OldUsage: gputypes.TextureUsageCopySrc,
		NewUsage: gputypes.TextureUsageRenderAttachment,
	}
)

func TestBackend_AbandonedFrameIsDiscarded(t *testing.T) {
	ctx := context.Background()
	b, log := openLogged(t, 1)
	s, err := scheduler.New(b, scheduler.WithFramesInFlight(1), scheduler.WithWaitTimeout(time.Second))
	require.NoError(t, err)

	slot, err := s.BeginFrame(ctx)
	require.NoError(t, err)
	slot.Recorder.Clear([4]float32{1, 0, 0, 1})
	slot.Recorder.Present()
	require.NoError(t, s.Abandon(ctx, slot))

	for i := 0; i < 2; i++ {
		slot, err = s.BeginFrame(ctx)
		require.NoError(t, err)
		slot.Recorder.Clear([4]float32{0, 1, 0, 1})
		slot.Recorder.Present()
		require.NoError(t, s.EndFrame(ctx, slot))
	}

	assert.Equal(t, 1, log.discarded, "the abandoned encoder is discarded")
	assert.Equal(t, 2, log.ended)
	assert.Equal(t, []hal.TextureUsageTransition{
		toCopySrc,    // abandoned frame
		toCopySrc,    // first submitted frame starts from the attachment state
		toAttachment, // second frame undoes the submitted transition
		toCopySrc,
	}, log.barriers)
}

func TestBackend_RecordingErrorDiscardsEncoder(t *testing.T) {
	b, log := openLogged(t, 1)

	rec, err := b.Recorder(0)
	require.NoError(t, err)
	rec.Present()
	rec.Clear([4]float32{0, 0, 0, 1})
	require.Error(t, b.Submit(0))

	assert.Equal(t, 1, log.discarded)
	assert.Zero(t, log.ended)
	assert.ErrorIs(t, b.Present(), gpu.ErrPresentationFailure, "nothing was submitted")

	rec, err = b.Recorder(0)
	require.NoError(t, err)
	rec.Clear([4]float32{0, 0, 0, 1})
	rec.Present()
	require.NoError(t, b.Submit(0))
	require.NoError(t, b.Present())
	assert.Equal(t, []hal.TextureUsageTransition{toCopySrc, toCopySrc}, log.barriers)
}
