// Package spacetest provides in-memory windows and surfaces for tests.
package spacetest

import (
	"image"
	"image/color"
	"time"

	"github.com/hepp3n/luxo/dmabuf"
	"github.com/hepp3n/luxo/feedback"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/space"
)

// Presentation records how it was resolved.
type Presentation struct {
	Done    bool
	Dropped bool
	Clock   time.Duration
	Seq     uint64
	Flags   feedback.Kind
}

func (p *Presentation) Presented(o *space.Output, clock, refresh time.Duration, seq uint64, flags feedback.Kind) {
	p.Done = true
	p.Clock = clock
	p.Seq = seq
	p.Flags = flags
}

func (p *Presentation) Discarded() {
	p.Dropped = true
}

// Surface implements space.Surface and every optional feedback
// capability, recording what was done to it.
type Surface struct {
	ClientID space.ClientID
	Dead     bool

	// CommitTargets are pending commit-timing targets.
	CommitTargets []time.Duration
	FifoPending   bool
	Pending       []feedback.Presentation
	Elements      []render.ElementID

	Frames      []time.Duration
	Throttles   []time.Duration
	Dmabuf      *dmabuf.Feedback
	PrimaryScan *space.Output
}

func (s *Surface) Client() space.ClientID { return s.ClientID }
func (s *Surface) Alive() bool            { return !s.Dead }

func (s *Surface) SignalUntil(t time.Duration) bool {
	var released bool
	kept := s.CommitTargets[:0]
	for _, target := range s.CommitTargets {
		if target <= t {
			released = true
			continue
		}
		kept = append(kept, target)
	}
	s.CommitTargets = kept
	return released
}

func (s *Surface) SignalFifo() bool {
	released := s.FifoPending
	s.FifoPending = false
	return released
}

func (s *Surface) SendFrame(o *space.Output, now, throttle time.Duration) {
	s.Frames = append(s.Frames, now)
	s.Throttles = append(s.Throttles, throttle)
}

func (s *Surface) TakePresentations() []feedback.Presentation {
	p := s.Pending
	s.Pending = nil
	return p
}

func (s *Surface) SendDmabufFeedback(o *space.Output, fb *dmabuf.Feedback) {
	s.Dmabuf = fb
}

func (s *Surface) PrimaryScanoutOutput() *space.Output     { return s.PrimaryScan }
func (s *Surface) SetPrimaryScanoutOutput(o *space.Output) { s.PrimaryScan = o }
func (s *Surface) ElementIDs() []render.ElementID          { return s.Elements }

// Window is a single surface showing a solid rectangle.
type Window struct {
	Surface *Surface
	Extent  image.Point
	Color   color.Color
	Hot     image.Point

	id     render.ElementID
	commit uint64
}

func NewWindow(client space.ClientID, size image.Point) *Window {
	id := render.NewElementID()
	return &Window{
		Surface: &Surface{ClientID: client, Elements: []render.ElementID{id}},
		Extent:  size,
		Color:   color.White,
		id:      id,
	}
}

// Damage marks the window's content as changed.
func (w *Window) Damage() {
	w.commit++
}

func (w *Window) ID() render.ElementID {
	return w.id
}

func (w *Window) Surfaces() []space.Surface {
	return []space.Surface{w.Surface}
}

func (w *Window) Size() image.Point {
	return w.Extent
}

// Hotspot lets a Window act as a cursor surface.
func (w *Window) Hotspot() image.Point {
	return w.Hot
}

func (w *Window) Elements(loc image.Point, scale float64) []render.Element {
	size := image.Pt(int(float64(w.Extent.X)*scale), int(float64(w.Extent.Y)*scale))
	r, g, b, a := w.Color.RGBA()
	c := render.Color{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff, A: float32(a) / 0xffff}
	return []render.Element{
		render.NewSolidElement(w.id, w.commit, image.Rectangle{Min: loc, Max: loc.Add(size)}, c),
	}
}
