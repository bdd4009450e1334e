// Package outputtest provides fake commit contexts for testing code
// that drives outputs.
package outputtest

import (
	"errors"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/feedback"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/output"
	"github.com/hepp3n/luxo/render"
)

// Compositor records what is done to it. Every frame is damaged unless
// Empty is set.
type Compositor struct {
	Crtc     drm.CrtcHandle
	Mode     drm.Mode
	Fmt      format.Fourcc
	PlaneSet drm.Planes

	Empty     bool
	RenderErr error
	QueueErr  error

	Flags    render.FrameFlags
	Renderer render.Renderer
	Rendered int
	Queued   int
	Resets   int
	Closed   bool

	pending    *feedback.OutputFeedback
	hasPending bool
}

func (c *Compositor) Format() format.Fourcc { return c.Fmt }
func (c *Compositor) Planes() drm.Planes    { return c.PlaneSet }

func (c *Compositor) RenderFrame(r render.Renderer, elements []render.Element, clear render.Color, flags render.FrameFlags) (render.Result, error) {
	c.Flags = flags
	c.Renderer = r
	if c.RenderErr != nil {
		return render.Result{}, c.RenderErr
	}

	states := make(render.States, len(elements))
	for _, e := range elements {
		states[e.ID()] = render.StateRendered
	}
	if c.Empty {
		return render.Result{Empty: true, States: states}, nil
	}
	c.Rendered++
	return render.Result{States: states}, nil
}

func (c *Compositor) QueueFrame(fb *feedback.OutputFeedback) error {
	if c.QueueErr != nil {
		return c.QueueErr
	}
	c.Queued++
	c.pending = fb
	c.hasPending = true
	return nil
}

func (c *Compositor) FrameSubmitted() (*feedback.OutputFeedback, error) {
	if !c.hasPending {
		return nil, drm.ErrAlreadySwapped
	}
	fb := c.pending
	c.pending, c.hasPending = nil, false
	return fb, nil
}

// Pending reports whether a frame is waiting for its flip.
func (c *Compositor) Pending() bool {
	return c.hasPending
}

func (c *Compositor) ResetBuffers() { c.Resets++ }

func (c *Compositor) Close() error {
	if c.Closed {
		return errors.New("already closed")
	}
	c.Closed = true
	return nil
}

// Manager creates Compositors. It fails for CRTCs in Fail.
type Manager struct {
	Compositors map[drm.CrtcHandle]*Compositor
	Fail        map[drm.CrtcHandle]error
}

func NewManager() *Manager {
	return &Manager{
		Compositors: make(map[drm.CrtcHandle]*Compositor),
		Fail:        make(map[drm.CrtcHandle]error),
	}
}

func (m *Manager) InitializeOutput(crtc drm.CrtcHandle, mode drm.Mode, conns []drm.ConnectorHandle, planes drm.Planes) (output.Compositor, error) {
	if err := m.Fail[crtc]; err != nil {
		return nil, err
	}
	c := &Compositor{Crtc: crtc, Mode: mode, Fmt: format.Xrgb8888, PlaneSet: planes}
	m.Compositors[crtc] = c
	return c, nil
}
