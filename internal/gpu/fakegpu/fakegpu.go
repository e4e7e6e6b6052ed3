// Package fakegpu provides an in-process implementation of gpu.Backend.
//
// The fake records every command per slot and emulates the completion marker.
// In the default mode a signaled marker completes immediately. In manual mode
// markers only complete when the test calls Complete, which makes the blocking
// behavior of the frame scheduler observable.
package fakegpu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/framegraph/internal/gpu"
)

// Op identifies a recorded command.
type Op int

const (
	OpClear Op = iota
	OpDraw
	OpPresent
)

func (o Op) String() string {
	switch o {
	case OpClear:
		return "clear"
	case OpDraw:
		return "draw"
	case OpPresent:
		return "present"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Command is a single recorded operation.
type Command struct {
	Op    Op
	Color [4]float32
}

// Submission is one call to Submit together with the commands it carried.
type Submission struct {
	Slot     int
	Commands []Command
}

// Option configures a Backend.
type Option func(*Backend)

// WithManualCompletion disables automatic completion of signaled markers.
func WithManualCompletion() Option {
	return func(b *Backend) { b.manual = true }
}

// Backend is a fake GPU device with a fixed number of frame slots.
type Backend struct {
	mu sync.Mutex

	manual    bool
	closed    bool
	completed uint64
	// changed is closed and replaced every time completed advances.
	changed chan struct{}

	recorders   []*recorder
	slotMarker  []uint64
	lastSubmit  int
	submissions []Submission
	signals     []uint64
	presents    int
	presentErrs []error
	waits       int
	violations  []string
}

// New creates a fake backend owning one recorder per slot.
func New(slots int, opts ...Option) *Backend {
	b := &Backend{
		changed:    make(chan struct{}),
		recorders:  make([]*recorder, slots),
		slotMarker: make([]uint64, slots),
		lastSubmit: -1,
	}
	for i := range b.recorders {
		b.recorders[i] = &recorder{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Recorder implements gpu.Backend.
func (b *Backend) Recorder(slot int) (gpu.Recorder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, gpu.ErrClosed
	}
	if slot < 0 || slot >= len(b.recorders) {
		return nil, fmt.Errorf("fakegpu: slot %d out of range [0,%d)", slot, len(b.recorders))
	}
	if pending := b.slotMarker[slot]; pending > b.completed {
		b.violations = append(b.violations,
			fmt.Sprintf("slot %d reset while marker %d pending (completed %d)", slot, pending, b.completed))
	}
	r := b.recorders[slot]
	r.reset()
	return r, nil
}

// Submit implements gpu.Backend.
func (b *Backend) Submit(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpu.ErrClosed
	}
	if slot < 0 || slot >= len(b.recorders) {
		return fmt.Errorf("fakegpu: slot %d out of range [0,%d)", slot, len(b.recorders))
	}
	b.submissions = append(b.submissions, Submission{Slot: slot, Commands: b.recorders[slot].snapshot()})
	b.lastSubmit = slot
	return nil
}

// SignalMarker implements gpu.Backend.
func (b *Backend) SignalMarker(value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpu.ErrClosed
	}
	b.signals = append(b.signals, value)
	if b.lastSubmit >= 0 {
		b.slotMarker[b.lastSubmit] = value
	}
	if !b.manual {
		b.completeLocked(value)
	}
	return nil
}

// CompletedMarker implements gpu.Backend.
func (b *Backend) CompletedMarker() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// WaitMarker implements gpu.Backend.
func (b *Backend) WaitMarker(ctx context.Context, value uint64, timeout time.Duration) error {
	b.mu.Lock()
	b.waits++
	b.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		b.mu.Lock()
		if b.completed >= value {
			b.mu.Unlock()
			return nil
		}
		if b.closed {
			b.mu.Unlock()
			return fmt.Errorf("fakegpu: waiting for marker %d: %w", value, gpu.ErrDeviceLost)
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return fmt.Errorf("fakegpu: marker %d not reached within %s: %w", value, timeout, gpu.ErrDeviceLost)
		}
	}
}

// Present implements gpu.Backend.
func (b *Backend) Present() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpu.ErrClosed
	}
	if len(b.presentErrs) > 0 {
		err := b.presentErrs[0]
		b.presentErrs = b.presentErrs[1:]
		return fmt.Errorf("fakegpu: present rejected: %w: %w", gpu.ErrPresentationFailure, err)
	}
	b.presents++
	return nil
}

// Close implements gpu.Backend. Pending waiters fail with gpu.ErrDeviceLost.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// Complete marks value as reached by the GPU and wakes waiters.
func (b *Backend) Complete(value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeLocked(value)
}

// FailPresents queues errors returned (wrapped) by the next Present calls.
func (b *Backend) FailPresents(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presentErrs = append(b.presentErrs, errs...)
}

// Submissions returns a copy of every submission so far.
func (b *Backend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Submission, len(b.submissions))
	copy(out, b.submissions)
	return out
}

// Signals returns every marker value passed to SignalMarker, in order.
func (b *Backend) Signals() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint64, len(b.signals))
	copy(out, b.signals)
	return out
}

// Presents returns the number of accepted presents.
func (b *Backend) Presents() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presents
}

// Waits returns how many times WaitMarker was entered.
func (b *Backend) Waits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waits
}

// Violations lists every slot reuse that happened before its marker completed.
func (b *Backend) Violations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.violations))
	copy(out, b.violations)
	return out
}

func (b *Backend) completeLocked(value uint64) {
	if value <= b.completed {
		return
	}
	b.completed = value
	close(b.changed)
	b.changed = make(chan struct{})
}

// recorder collects commands for one slot.
type recorder struct {
	mu       sync.Mutex
	commands []Command
}

func (r *recorder) Clear(color [4]float32) { r.add(Command{Op: OpClear, Color: color}) }
func (r *recorder) Draw()                  { r.add(Command{Op: OpDraw}) }
func (r *recorder) Present()               { r.add(Command{Op: OpPresent}) }

func (r *recorder) add(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, c)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = r.commands[:0]
}

func (r *recorder) snapshot() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}
