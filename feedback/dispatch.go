package feedback

import (
	"time"

	"github.com/hepp3n/luxo/dmabuf"
	"github.com/hepp3n/luxo/pointer"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/space"
	"golang.org/x/exp/slices"
)

// FrameThrottle limits frame callbacks to surfaces that are not
// visible anywhere.
const FrameThrottle = time.Second

// Dispatcher walks the surfaces shown on an output around a repaint.
type Dispatcher struct {
	space   space.Space
	pointer *pointer.State
}

func NewDispatcher(sp space.Space, ptr *pointer.State) *Dispatcher {
	return &Dispatcher{space: sp, pointer: ptr}
}

// surfaces returns every client surface shown on o.
func (d *Dispatcher) surfaces(o *space.Output) []space.Surface {
	var r []space.Surface
	if fs := d.space.Fullscreen(o); fs != nil {
		r = append(r, fs.Surfaces()...)
	} else {
		for _, w := range d.space.Windows() {
			if slices.Contains(d.space.OutputsFor(w), o) {
				r = append(r, w.Surfaces()...)
			}
		}
	}
	for _, l := range d.space.Layers(o) {
		r = append(r, l.Surfaces()...)
	}
	if d.pointer != nil && d.pointer.Status.Kind() == pointer.KindSurface {
		r = append(r, d.pointer.Status.Surface().Surfaces()...)
	}
	return r
}

// releaser collects clients whose blockers were released so that the
// space is only told about them once the walk is over.
type releaser struct {
	clients []space.ClientID
}

func (r *releaser) add(c space.ClientID) {
	if !slices.Contains(r.clients, c) {
		r.clients = append(r.clients, c)
	}
}

func (r *releaser) flush(sp space.Space) {
	for _, c := range r.clients {
		sp.BlockerCleared(c)
	}
}

// PreRepaint releases commit-timing barriers up to the target time of
// the frame that is about to be rendered.
func (d *Dispatcher) PreRepaint(o *space.Output, target time.Duration) {
	var rel releaser
	for _, s := range d.surfaces(o) {
		ct, ok := s.(CommitTimer)
		if !ok || !s.Alive() {
			continue
		}
		if ct.SignalUntil(target) {
			rel.add(s.Client())
		}
	}
	rel.flush(d.space)
}

// Take collects the pending presentation feedback of the surfaces on o
// for a frame that was rendered with the given element states.
func (d *Dispatcher) Take(o *space.Output, states render.States) *OutputFeedback {
	fb := OutputFeedback{output: o}
	for _, s := range d.surfaces(o) {
		src, ok := s.(PresentationSource)
		if !ok {
			continue
		}

		visible, zeroCopy := surfaceState(s, states)
		if !visible {
			continue
		}

		var flags Kind
		if zeroCopy {
			flags |= KindZeroCopy
		}
		for _, p := range src.TakePresentations() {
			fb.entries = append(fb.entries, entry{p: p, flags: flags})
		}
	}
	return &fb
}

// PostRepaint runs after a frame aimed at target was rendered. It updates
// primary scanout bookkeeping, releases FIFO barriers, sends frame
// callbacks and hands out dmabuf feedback.
func (d *Dispatcher) PostRepaint(o *space.Output, target time.Duration, fb *dmabuf.SurfaceFeedback, states render.States) {
	var rel releaser
	for _, s := range d.surfaces(o) {
		if !s.Alive() {
			continue
		}
		visible, zeroCopy := surfaceState(s, states)

		primary := o
		if st, ok := s.(ScanoutTracker); ok {
			switch cur := st.PrimaryScanoutOutput(); {
			case visible && cur == nil:
				st.SetPrimaryScanoutOutput(o)
			case !visible && cur == o:
				st.SetPrimaryScanoutOutput(nil)
			}
			primary = st.PrimaryScanoutOutput()
		}

		if primary == nil || primary == o {
			if fifo, ok := s.(FifoBarrier); ok && fifo.SignalFifo() {
				rel.add(s.Client())
			}
		}

		if ft, ok := s.(FrameTarget); ok {
			throttle := FrameThrottle
			if visible {
				throttle = 0
			}
			ft.SendFrame(o, target, throttle)
		}

		if fb != nil {
			if dt, ok := s.(DmabufTarget); ok && visible {
				dt.SendDmabufFeedback(o, fb.Select(zeroCopy))
			}
		}
	}
	rel.flush(d.space)
}
