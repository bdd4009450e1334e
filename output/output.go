// Package output manages the compositor side of a lit display: one
// CRTC, the connector it drives and the frames queued on it.
package output

import (
	"errors"
	"fmt"

	"github.com/hepp3n/luxo/dmabuf"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/feedback"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/render"
	"github.com/sirupsen/logrus"
)

// ErrInactive is returned by operations on a surface that is not
// active.
var ErrInactive = errors.New("output surface is not active")

type State int

const (
	StateInitializing State = iota
	StateActive
	StateDisconnected
	StateDeviceRemoved
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateDeviceRemoved:
		return "device removed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Compositor is the atomic-commit context of one CRTC.
type Compositor interface {
	Format() format.Fourcc
	Planes() drm.Planes

	// RenderFrame renders elements into the next buffer or assigns them
	// to planes. The result is Empty if nothing changed.
	RenderFrame(r render.Renderer, elements []render.Element, clear render.Color, flags render.FrameFlags) (render.Result, error)

	// QueueFrame commits the last rendered frame. fb is handed back by
	// FrameSubmitted once the kernel reports the flip.
	QueueFrame(fb *feedback.OutputFeedback) error

	// FrameSubmitted marks the queued frame as on screen.
	FrameSubmitted() (*feedback.OutputFeedback, error)

	ResetBuffers()
	Close() error
}

// Manager creates compositors. It is usually the output manager of the
// device that owns the CRTC.
type Manager interface {
	InitializeOutput(crtc drm.CrtcHandle, mode drm.Mode, conns []drm.ConnectorHandle, planes drm.Planes) (Compositor, error)
}

type Config struct {
	ID        drm.OutputID
	Connector drm.ConnectorInfo
	Mode      drm.Mode
	Planes    drm.Planes

	// RenderNode is the node whose renderer produces frames for this
	// output.
	RenderNode drm.Node

	DisableDirectScanout bool
}

// Surface is the state of one output.
type Surface struct {
	id         drm.OutputID
	conn       drm.ConnectorInfo
	mode       drm.Mode
	renderNode drm.Node
	noScanout  bool

	state    State
	comp     Compositor
	feedback *dmabuf.SurfaceFeedback
}

// New initializes an output on the CRTC given by cfg. The surface is
// active if no error is returned.
func New(m Manager, cfg Config) (*Surface, error) {
	s := Surface{
		id:         cfg.ID,
		conn:       cfg.Connector,
		mode:       cfg.Mode,
		renderNode: cfg.RenderNode,
		noScanout:  cfg.DisableDirectScanout,
		state:      StateInitializing,
	}

	comp, err := m.InitializeOutput(cfg.ID.Crtc, cfg.Mode, []drm.ConnectorHandle{cfg.Connector.Handle}, cfg.Planes)
	if err != nil {
		return nil, fmt.Errorf("initialize %v on %v: %w", cfg.Connector.Name(), cfg.ID, err)
	}
	s.comp = comp
	s.state = StateActive

	logrus.WithFields(logrus.Fields{
		"output":    s.id,
		"connector": s.conn.Name(),
		"mode":      s.mode,
		"format":    comp.Format(),
	}).Info("output: initialized")
	return &s, nil
}

func (s *Surface) ID() drm.OutputID                  { return s.id }
func (s *Surface) Connector() drm.ConnectorInfo      { return s.conn }
func (s *Surface) Mode() drm.Mode                    { return s.mode }
func (s *Surface) RenderNode() drm.Node              { return s.renderNode }
func (s *Surface) State() State                      { return s.state }
func (s *Surface) Feedback() *dmabuf.SurfaceFeedback { return s.feedback }

// Format is the color format of the frames rendered for the surface.
func (s *Surface) Format() format.Fourcc {
	return s.comp.Format()
}

// DisableDirectScanout reports whether client buffers are never put on
// planes directly.
func (s *Surface) DisableDirectScanout() bool {
	return s.noScanout
}

// Render renders a frame and queues it. rendered is false if the frame
// had no damage, in which case nothing was queued. take is called with
// the element states of a damaged frame to collect its presentation
// feedback.
func (s *Surface) Render(r render.Renderer, elements []render.Element, clear render.Color, take func(render.States) *feedback.OutputFeedback) (rendered bool, states render.States, err error) {
	if s.state != StateActive {
		return false, nil, ErrInactive
	}

	flags := render.FrameDefault
	if s.noScanout {
		flags &^= render.FrameAllowPrimaryScanout | render.FrameAllowOverlayScanout
	}

	res, err := s.comp.RenderFrame(r, elements, clear, flags)
	if err != nil {
		return false, nil, fmt.Errorf("render frame: %w", err)
	}
	if res.Empty {
		return false, res.States, nil
	}

	var fb *feedback.OutputFeedback
	if take != nil {
		fb = take(res.States)
	}

	err = s.comp.QueueFrame(fb)
	if err != nil {
		if fb != nil {
			fb.Discarded()
		}
		return false, res.States, fmt.Errorf("queue frame: %w", err)
	}

	return true, res.States, nil
}

// FrameSubmitted acknowledges a page flip.
func (s *Surface) FrameSubmitted() (*feedback.OutputFeedback, error) {
	if s.state != StateActive {
		return nil, ErrInactive
	}
	return s.comp.FrameSubmitted()
}

// ResetBuffers makes the next frame a full repaint.
func (s *Surface) ResetBuffers() error {
	if s.state != StateActive {
		return ErrInactive
	}
	s.comp.ResetBuffers()
	return nil
}

// UpdateFeedback recomputes the dmabuf feedback after the set of GPUs
// changed. primary composites and render produces frames for this
// output.
func (s *Surface) UpdateFeedback(primary, render dmabuf.GPU) error {
	if s.state != StateActive {
		return ErrInactive
	}

	fb, err := dmabuf.Compute(primary, render, s.id.Device.DevID(), s.comp.Planes().ScanoutFormats())
	if err != nil {
		return fmt.Errorf("compute feedback for %v: %w", s.id, err)
	}
	s.feedback = fb
	return nil
}

// Close moves the surface into a terminal state and releases its
// commit context.
func (s *Surface) Close(state State) error {
	if state != StateDisconnected && state != StateDeviceRemoved {
		panic(fmt.Errorf("invalid terminal state %v", state))
	}
	if s.state != StateActive {
		s.state = state
		return nil
	}

	s.state = state
	logrus.WithFields(logrus.Fields{"output": s.id, "reason": state}).Info("output: closed")
	return s.comp.Close()
}
