// Package feedback tells clients what happened to their content: when
// it was presented, when they may draw again, and which buffer formats
// would let it skip composition.
package feedback

import (
	"time"

	"github.com/hepp3n/luxo/dmabuf"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/space"
)

// Kind describes how a presentation time was obtained.
type Kind uint32

const (
	KindVsync Kind = 1 << iota
	KindHwClock
	KindHwCompletion
	KindZeroCopy
)

// Timing returns the presentation time and flags for a frame whose
// completion event carried meta. Without a hardware timestamp the
// current time is used instead.
func Timing(meta *drm.EventMetadata, now time.Duration) (time.Duration, Kind) {
	if meta != nil && meta.Monotonic {
		return meta.Time, KindVsync | KindHwClock | KindHwCompletion
	}
	return now, KindVsync
}

// Presentation is a client's request to be told when a commit reached
// the screen.
type Presentation interface {
	Presented(o *space.Output, clock, refresh time.Duration, seq uint64, flags Kind)
	Discarded()
}

// The following are optional capabilities of a space.Surface.
type (
	// CommitTimer holds commits until a target presentation time.
	CommitTimer interface {
		// SignalUntil releases commits targeting t or earlier and
		// reports whether any were released.
		SignalUntil(t time.Duration) bool
	}

	// FifoBarrier holds commits until the previous one was shown.
	FifoBarrier interface {
		SignalFifo() bool
	}

	FrameTarget interface {
		SendFrame(o *space.Output, now, throttle time.Duration)
	}

	PresentationSource interface {
		TakePresentations() []Presentation
	}

	DmabufTarget interface {
		SendDmabufFeedback(o *space.Output, fb *dmabuf.Feedback)
	}

	ScanoutTracker interface {
		PrimaryScanoutOutput() *space.Output
		SetPrimaryScanoutOutput(*space.Output)
	}

	// ElementOwner lists the render elements a surface contributed.
	ElementOwner interface {
		ElementIDs() []render.ElementID
	}
)

type entry struct {
	p     Presentation
	flags Kind
}

// OutputFeedback is the presentation feedback of one frame on one
// output. It is queued with the frame and resolved when the frame is
// submitted.
type OutputFeedback struct {
	output  *space.Output
	entries []entry
}

func (f *OutputFeedback) Output() *space.Output {
	return f.output
}

func (f *OutputFeedback) Len() int {
	return len(f.entries)
}

// Presented resolves every entry. flags is combined with the per-surface
// flags recorded when the frame was rendered.
func (f *OutputFeedback) Presented(clock, refresh time.Duration, seq uint64, flags Kind) {
	for _, e := range f.entries {
		e.p.Presented(f.output, clock, refresh, seq, flags|e.flags)
	}
	f.entries = nil
}

func (f *OutputFeedback) Discarded() {
	for _, e := range f.entries {
		e.p.Discarded()
	}
	f.entries = nil
}

func surfaceState(s space.Surface, states render.States) (visible, zeroCopy bool) {
	owner, ok := s.(ElementOwner)
	if !ok {
		return true, false
	}

	for _, id := range owner.ElementIDs() {
		if states.Visible(id) {
			visible = true
		}
		if states.ZeroCopy(id) {
			zeroCopy = true
		}
	}
	return visible, zeroCopy
}
