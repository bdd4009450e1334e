// Package schedule decides when each output is repainted.
//
// Repaints are driven by vblank completions. After a page flip
// completes the next repaint is delayed by part of a frame, which gives
// clients time to submit new content for the very next vblank. Frames
// that turn out to have no damage are retried one frame later instead
// of polling.
package schedule

import (
	"errors"
	"time"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/internal/debug"
	"github.com/hepp3n/luxo/internal/monotonic"
	"github.com/hepp3n/luxo/internal/objstore"
	"github.com/hepp3n/luxo/loop"
	"github.com/sirupsen/logrus"
)

// RepaintDelay is the fraction of a frame that passes between a vblank
// and the repaint that follows it.
const RepaintDelay = 0.6

// Timers runs callbacks on the event loop. *loop.Loop implements it.
type Timers interface {
	Idle(fn func()) loop.Token
	After(d time.Duration, fn func()) loop.Token
}

var _ Timers = (*loop.Loop)(nil)

// Kind says whether and how a repaint is pending.
type Kind int

const (
	Idle Kind = iota
	PendingImmediate
	PendingDelayed
)

func (k Kind) String() string {
	switch k {
	case PendingImmediate:
		return "immediate"
	case PendingDelayed:
		return "delayed"
	default:
		return "idle"
	}
}

// Pending is the schedule of one output.
type Pending struct {
	Kind Kind

	// Target is the presentation time the repaint aims for.
	Target time.Duration
}

// Action is what the scheduler does about a failed frame.
type Action int

const (
	Continue Action = iota

	// Swapped means the frame was already handled.
	Swapped

	// Stop drops the output until it is resumed.
	Stop

	// Reset restores the device to a known state and carries on.
	Reset

	// Fatal terminates the compositor.
	Fatal

	// Absorb logs the error and waits for the next trigger.
	Absorb
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Swapped:
		return "swapped"
	case Stop:
		return "stop"
	case Reset:
		return "reset"
	case Fatal:
		return "fatal"
	default:
		return "absorb"
	}
}

// Classify maps an error returned while rendering or submitting a frame
// to an action. Earlier checks take precedence over later ones.
func Classify(err error) Action {
	if err == nil {
		return Continue
	}
	if errors.Is(err, drm.ErrAlreadySwapped) {
		return Swapped
	}
	if errors.Is(err, drm.ErrDeviceInactive) {
		return Stop
	}

	var access *drm.AccessError
	if errors.As(err, &access) && access.IsPermission() {
		return Stop
	}

	var failed *drm.TestFailedError
	if errors.As(err, &failed) {
		return Reset
	}

	var lost *drm.ContextLostError
	if errors.As(err, &lost) {
		return Fatal
	}

	// Anything else the device refuses means it is gone or broken.
	if access != nil && !access.IsTransient() {
		return Fatal
	}

	return Absorb
}

// Completion describes a finished page flip.
type Completion struct {
	// Err is the result of collecting the submitted frame.
	Err error

	// Time is when the frame was presented.
	Time time.Duration

	// Frame is the frame duration of the output. Nothing is scheduled
	// for outputs without one.
	Frame time.Duration

	// CrossGPU is set if the output is rendered by a GPU other than the
	// one displaying it.
	CrossGPU bool
}

// Config connects a Scheduler to the loop and the renderer.
type Config struct {
	Timers Timers
	Clock  monotonic.Clock

	// Render repaints an output for the given target time.
	Render func(id drm.OutputID, target time.Duration)

	// Reset restores the state of the device that id belongs to after a
	// failed test commit.
	Reset func(id drm.OutputID) error

	// Fatal is called with errors the compositor cannot survive.
	Fatal func(err error)
}

type entry struct {
	Pending
	token loop.Token
}

// Scheduler keeps at most one pending repaint per output. A new trigger
// replaces the pending one.
type Scheduler struct {
	cfg     Config
	paused  bool
	entries *objstore.Store[drm.OutputID, entry]
}

// New returns a Scheduler with nothing pending.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		entries: objstore.New[drm.OutputID, entry](),
	}
}

// Pending returns the schedule of id.
func (s *Scheduler) Pending(id drm.OutputID) Pending {
	e, _ := s.entries.Get(id)
	return e.Pending
}

func (s *Scheduler) Paused() bool {
	return s.paused
}

func (s *Scheduler) schedule(id drm.OutputID, kind Kind, target, delay time.Duration) {
	if s.paused {
		debug.Printf("schedule: %v: paused, not scheduling", id)
		return
	}
	s.Cancel(id)

	var token loop.Token
	run := func() {
		if e, ok := s.entries.Get(id); !ok || e.token != token {
			return
		}
		s.entries.Delete(id)
		s.cfg.Render(id, target)
	}

	switch kind {
	case PendingImmediate:
		debug.Printf("schedule: %v: repaint now, target %v", id, target)
		token = s.cfg.Timers.Idle(run)
	default:
		debug.Printf("schedule: %v: repaint in %v, target %v", id, delay, target)
		token = s.cfg.Timers.After(delay, run)
	}
	s.entries.Add(id, entry{Pending: Pending{Kind: kind, Target: target}, token: token})
}

// Now repaints id as soon as the loop gets to it.
func (s *Scheduler) Now(id drm.OutputID) {
	s.schedule(id, PendingImmediate, s.cfg.Clock.Now(), 0)
}

// Cancel drops the pending repaint of id, if any.
func (s *Scheduler) Cancel(id drm.OutputID) {
	e, ok := s.entries.Delete(id)
	if ok {
		e.token.Cancel()
	}
}

// Pause cancels every pending repaint. Nothing is scheduled until
// Resume is called.
func (s *Scheduler) Pause() {
	s.paused = true
	for _, id := range s.entries.Keys() {
		s.Cancel(id)
	}
}

// Resume repaints each of ids once, immediately.
func (s *Scheduler) Resume(ids []drm.OutputID) {
	s.paused = false
	for _, id := range ids {
		s.Now(id)
	}
}

// handle carries out the action for err. It returns false if scheduling
// for id must not continue.
func (s *Scheduler) handle(id drm.OutputID, action Action, err error) bool {
	log := logrus.WithField("output", id)

	switch action {
	case Continue:
		return true

	case Swapped:
		log.Debugf("schedule: %v", err)
		return true

	case Stop:
		log.Debugf("schedule: stopping: %v", err)
		s.Cancel(id)
		return false

	case Reset:
		log.Warnf("schedule: resetting device state: %v", err)
		rerr := s.cfg.Reset(id)
		if rerr != nil {
			if Classify(rerr) == Fatal {
				s.cfg.Fatal(rerr)
				return false
			}
			log.Errorf("schedule: reset device state: %v", rerr)
			return false
		}
		return true

	case Fatal:
		s.cfg.Fatal(err)
		return false

	default:
		log.Warnf("schedule: %v", err)
		return false
	}
}

// Completed handles the vblank that finished the frame of id.
func (s *Scheduler) Completed(id drm.OutputID, c Completion) {
	if !s.handle(id, Classify(c.Err), c.Err) || c.Frame <= 0 {
		return
	}

	target := c.Time + c.Frame
	if c.CrossGPU {
		// Copies make damage tracking unreliable, so the delay could
		// cause the next vblank to be missed.
		s.schedule(id, PendingImmediate, target, 0)
		return
	}
	s.schedule(id, PendingDelayed, target, time.Duration(float64(c.Frame)*RepaintDelay))
}

// Rendered handles the result of a repaint of id that aimed for target.
// A frame that reached the screen is followed up by its vblank. One
// that did not is retried one frame later.
func (s *Scheduler) Rendered(id drm.OutputID, target time.Duration, rendered bool, err error, frame time.Duration) {
	action := Classify(err)
	switch {
	case action == Swapped:
		return
	case !s.handle(id, action, err):
		return
	case action == Continue && rendered:
		return
	case frame <= 0:
		return
	}

	next := target + frame
	timeout := max(next-s.cfg.Clock.Now(), 0)
	s.schedule(id, PendingDelayed, next, timeout)
}
