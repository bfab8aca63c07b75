package media

import (
	"errors"
	"time"
)

// ErrDeviceUnavailable signals that the client could not provision its
// camera or microphone. Session start must not proceed past it.
var ErrDeviceUnavailable = errors.New("camera/microphone unavailable")

// Announce is the client's device report, sent on the session socket before
// the live backend is opened.
type Announce struct {
	Ready  bool
	Detail string
}

// Handle owns the audio pipeline endpoints for one session: an input
// context at the capture rate the live backend ingests, and an output
// context whose clock sequences assistant playback.
type Handle struct {
	input    *InputContext
	output   *OutputContext
	released bool
}

type InputContext struct {
	SampleRate int
}

// OutputContext is the playout timeline. Position is measured from the
// moment the context was created, which mirrors an audio output clock that
// starts at zero.
type OutputContext struct {
	SampleRate int

	epoch time.Time
	now   func() time.Time
}

// Position returns the current output-clock offset.
func (o *OutputContext) Position() time.Duration {
	return o.now().Sub(o.epoch)
}

// Slot holds at most one live media handle. Acquiring through a slot always
// releases the previous handle first; acquisition is not additive.
type Slot struct {
	current *Handle
	nowFn   func() time.Time
}

func NewSlot() *Slot { return &Slot{nowFn: time.Now} }

// NewSlotWithClock injects the output clock, for deterministic tests.
func NewSlotWithClock(now func() time.Time) *Slot {
	if now == nil {
		now = time.Now
	}
	return &Slot{nowFn: now}
}

// Acquire validates the client's device report and builds a fresh handle.
func (s *Slot) Acquire(announce Announce, captureRate, playbackRate int) (*Handle, error) {
	s.Release()

	if !announce.Ready {
		return nil, ErrDeviceUnavailable
	}

	h := &Handle{
		input: &InputContext{SampleRate: captureRate},
		output: &OutputContext{
			SampleRate: playbackRate,
			epoch:      s.nowFn(),
			now:        s.nowFn,
		},
	}
	s.current = h
	return h, nil
}

// Release tears down the held handle. Safe to call repeatedly and with
// nothing held.
func (s *Slot) Release() {
	if s.current == nil {
		return
	}
	s.current.released = true
	s.current = nil
}

// Held reports whether a live handle is currently held.
func (s *Slot) Held() bool { return s.current != nil }

func (h *Handle) Input() *InputContext   { return h.input }
func (h *Handle) Output() *OutputContext { return h.output }
func (h *Handle) Released() bool         { return h.released }
