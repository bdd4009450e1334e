package kms

import (
	"errors"
	"fmt"
	"image"

	"deedles.dev/ximage"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/feedback"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/render"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// CursorSize is the size of the cursor plane buffer. Cursors larger
// than this are composited.
const CursorSize = 256

var (
	ErrFramePending = errors.New("a frame is already queued")
	ErrNoFrame      = errors.New("no frame was rendered")
)

type entry struct {
	id     render.ElementID
	commit uint64
	geo    image.Rectangle
}

func entryOf(e render.Element) entry {
	return entry{id: e.ID(), commit: e.Commit(), geo: e.Geometry()}
}

// layer is what one plane shows. Either fb is a client framebuffer
// scanned out directly or elems were composited over clear.
type layer struct {
	fb    drm.FramebufferHandle
	elems []entry
	clear render.Color
}

func (l *layer) equal(o *layer) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.fb == o.fb && l.clear == o.clear && slices.Equal(l.elems, o.elems)
}

type frame struct {
	primary layer
	overlay *layer
	cursor  *layer

	// buffer is the index of the composited primary buffer, or -1 for
	// direct scanout.
	buffer int
	states render.States
}

func (f *frame) equal(o *frame) bool {
	return f.primary.equal(&o.primary) && f.overlay.equal(o.overlay) && f.cursor.equal(o.cursor)
}

type queuedFrame struct {
	frame *frame
	fb    *feedback.OutputFeedback
}

// Compositor is the atomic-commit context of one CRTC. It double
// buffers composited frames and remembers what each buffer holds, so
// that unchanged frames are skipped.
type Compositor struct {
	m      *Manager
	crtc   drm.CrtcHandle
	conns  []drm.ConnectorHandle
	mode   drm.Mode
	planes drm.Planes
	format format.Format

	buffers [2]*Buffer
	ages    [2]*layer
	cursor  *Buffer
	cursorc *layer

	modeBlob drm.BlobHandle
	modeset  bool

	// front is the index of the buffer being scanned out, or -1.
	front  int
	screen *frame
	next   *frame
	queued *queuedFrame
}

func newCompositor(m *Manager, crtc drm.CrtcHandle, mode drm.Mode, conns []drm.ConnectorHandle, planes drm.Planes, f format.Format) (*Compositor, error) {
	c := Compositor{
		m:       m,
		crtc:    crtc,
		conns:   slices.Clone(conns),
		mode:    mode,
		planes:  planes,
		format:  f,
		modeset: true,
		front:   -1,
	}

	for i := range c.buffers {
		b, err := m.alloc.Create(mode.Size(), f.Code)
		if err != nil {
			c.destroy()
			return nil, fmt.Errorf("allocate buffer for crtc %v: %w", crtc, err)
		}
		c.buffers[i] = b
	}

	return &c, nil
}

func (c *Compositor) Format() format.Fourcc { return c.format.Code }
func (c *Compositor) Planes() drm.Planes    { return c.planes }
func (c *Compositor) Crtc() drm.CrtcHandle  { return c.crtc }

func (c *Compositor) bounds() image.Rectangle {
	return image.Rectangle{Max: c.mode.Size()}
}

func (c *Compositor) back() int {
	if c.front == 0 {
		return 1
	}
	return 0
}

func scanoutFB(e render.Element, dev drm.Node) (drm.FramebufferHandle, bool) {
	s, ok := e.(render.Scanout)
	if !ok || e.Kind() != render.KindScanoutCandidate {
		return 0, false
	}
	return s.Framebuffer(dev)
}

func fitsCursor(r image.Rectangle) bool {
	return !r.Empty() && r.Dx() <= CursorSize && r.Dy() <= CursorSize
}

// plan assigns elements to planes.
func (c *Compositor) plan(elements []render.Element, clear render.Color, flags render.FrameFlags) (*frame, []render.Element) {
	bounds := c.bounds()
	node := c.m.card.Node()
	f := frame{buffer: -1, states: make(render.States, len(elements))}
	rest := elements

	if flags&render.FrameAllowCursorPlane != 0 && len(c.planes.Cursor) > 0 && len(rest) > 0 {
		e := rest[0]
		single := len(rest) == 1 || rest[1].Kind() != render.KindCursor
		if e.Kind() == render.KindCursor && single && fitsCursor(e.Geometry()) {
			f.cursor = &layer{elems: []entry{entryOf(e)}}
			f.states[e.ID()] = render.StateRendered
			rest = rest[1:]
		}
	}

	if flags&render.FrameAllowPrimaryScanout != 0 && len(rest) > 0 && rest[0].Geometry() == bounds {
		if fb, ok := scanoutFB(rest[0], node); ok {
			f.primary = layer{fb: fb, elems: []entry{entryOf(rest[0])}}
			f.states[rest[0].ID()] = render.StateZeroCopy
			for _, e := range rest[1:] {
				f.states[e.ID()] = render.StateSkipped
			}
			return &f, nil
		}
	}

	if flags&render.FrameAllowOverlayScanout != 0 && len(c.planes.Overlay) > 0 && len(rest) > 0 {
		e := rest[0]
		if fb, ok := scanoutFB(e, node); ok && e.Geometry().In(bounds) && !e.Geometry().Empty() {
			f.overlay = &layer{fb: fb, elems: []entry{entryOf(e)}}
			f.states[e.ID()] = render.StateZeroCopy
			rest = rest[1:]
		}
	}

	f.primary = layer{clear: clear, elems: make([]entry, 0, len(rest))}
	for _, e := range rest {
		if !e.Geometry().Overlaps(bounds) {
			f.states[e.ID()] = render.StateSkipped
			continue
		}
		f.primary.elems = append(f.primary.elems, entryOf(e))
		f.states[e.ID()] = render.StateRendered
	}
	return &f, rest
}

func (c *Compositor) RenderFrame(r render.Renderer, elements []render.Element, clear render.Color, flags render.FrameFlags) (render.Result, error) {
	if !c.m.active {
		return render.Result{}, drm.ErrDeviceInactive
	}
	if c.queued != nil {
		return render.Result{}, ErrFramePending
	}

	f, composite := c.plan(elements, clear, flags)
	if !c.modeset && c.screen != nil && f.equal(c.screen) {
		c.next = nil
		return render.Result{Empty: true, States: f.states}, nil
	}

	if f.primary.fb == 0 {
		b := c.back()
		f.buffer = b
		if !c.ages[b].equal(&f.primary) {
			c.ages[b] = nil
			err := r.Render(c.buffers[b].Image, composite, clear)
			if err != nil {
				return render.Result{}, fmt.Errorf("render crtc %v: %w", c.crtc, err)
			}
			c.ages[b] = &f.primary
		}
	}

	if f.cursor != nil && !c.cursorc.equal(f.cursor) {
		err := c.renderCursor(r, elements[0])
		if err != nil {
			return render.Result{}, err
		}
		c.cursorc = f.cursor
	}

	c.next = f
	return render.Result{States: f.states}, nil
}

func (c *Compositor) renderCursor(r render.Renderer, e render.Element) error {
	if c.cursor == nil {
		b, err := c.m.alloc.Create(image.Pt(CursorSize, CursorSize), format.Argb8888)
		if err != nil {
			return fmt.Errorf("allocate cursor buffer: %w", err)
		}
		c.cursor = b
	}

	// Draw in output coordinates into an image whose origin is the
	// cursor's position.
	at := e.Geometry().Min
	img := &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   image.Rectangle{Min: at, Max: at.Add(c.cursor.Image.Rect.Size())},
		Pix:    c.cursor.Image.Pix,
	}
	err := r.Render(img, []render.Element{e}, render.Color{})
	if err != nil {
		c.cursorc = nil
		return fmt.Errorf("render cursor: %w", err)
	}
	return nil
}

func (c *Compositor) setPlanes(req *request, f *frame) {
	bounds := c.bounds()

	primary := c.planes.Primary[0].Handle
	if f.primary.fb != 0 {
		req.plane(primary, c.crtc, f.primary.fb, bounds.Size(), bounds)
	} else {
		req.plane(primary, c.crtc, c.buffers[f.buffer].Framebuffer(), bounds.Size(), bounds)
	}

	if len(c.planes.Cursor) > 0 {
		p := c.planes.Cursor[0].Handle
		if f.cursor != nil {
			dst := image.Rectangle{Min: f.cursor.elems[0].geo.Min, Max: f.cursor.elems[0].geo.Min.Add(c.cursor.Size)}
			req.plane(p, c.crtc, c.cursor.Framebuffer(), c.cursor.Size, dst)
		} else {
			req.disablePlane(p)
		}
	}

	for i, o := range c.planes.Overlay {
		if i == 0 && f.overlay != nil {
			geo := f.overlay.elems[0].geo
			req.plane(o.Handle, c.crtc, f.overlay.fb, geo.Size(), geo)
			continue
		}
		req.disablePlane(o.Handle)
	}
}

func (c *Compositor) setMode(req *request) error {
	if c.modeBlob == 0 {
		blob, err := c.m.card.ModeBlob(c.mode)
		if err != nil {
			return fmt.Errorf("create mode blob: %w", err)
		}
		c.modeBlob = blob
	}

	req.crtc(c.crtc, true, c.modeBlob)
	for _, conn := range c.conns {
		req.connector(conn, c.crtc)
	}
	return nil
}

// QueueFrame commits the frame from the last RenderFrame call. The
// first commit after initialization or a reset performs a modeset,
// which is tested before it is applied.
func (c *Compositor) QueueFrame(fb *feedback.OutputFeedback) error {
	if !c.m.active {
		return drm.ErrDeviceInactive
	}
	if c.queued != nil {
		return ErrFramePending
	}
	if c.next == nil {
		return ErrNoFrame
	}

	req := c.m.request()
	flags := drm.AtomicPageFlipEvent | drm.AtomicNonblock
	if c.modeset {
		err := c.setMode(req)
		if err != nil {
			return err
		}
		flags |= drm.AtomicAllowModeset
	}
	c.setPlanes(req, c.next)

	if c.modeset {
		err := req.commit(drm.AtomicTestOnly|drm.AtomicAllowModeset, c.crtc)
		if err != nil {
			return err
		}
	}

	err := req.commit(flags, c.crtc)
	if err != nil {
		return err
	}

	if c.modeset {
		logrus.WithFields(logrus.Fields{"crtc": c.crtc, "mode": c.mode}).Debug("kms: modeset")
	}
	c.modeset = false
	c.queued = &queuedFrame{frame: c.next, fb: fb}
	c.next = nil
	return nil
}

// FrameSubmitted is called when the page flip of the queued frame
// completed.
func (c *Compositor) FrameSubmitted() (*feedback.OutputFeedback, error) {
	if c.queued == nil {
		return nil, drm.ErrAlreadySwapped
	}

	q := c.queued
	c.queued = nil
	c.screen = q.frame
	c.front = q.frame.buffer
	return q.fb, nil
}

// ResetBuffers forgets what the buffers hold, so the next frame is
// repainted from scratch.
func (c *Compositor) ResetBuffers() {
	c.ages = [2]*layer{}
	c.cursorc = nil
	c.screen = nil
}

// restore prepares the compositor for output after the device state was
// lost.
func (c *Compositor) restore() {
	if c.queued != nil {
		if c.queued.fb != nil {
			c.queued.fb.Discarded()
		}
		c.queued = nil
	}
	c.next = nil
	c.modeset = true
	c.ResetBuffers()
}

// Close turns the CRTC off and frees its buffers.
func (c *Compositor) Close() error {
	var err error
	if c.m.active && !c.modeset {
		req := c.m.request()
		req.crtc(c.crtc, false, 0)
		for _, conn := range c.conns {
			req.connector(conn, 0)
		}
		for _, p := range c.planes.All() {
			req.disablePlane(p.Handle)
		}
		err = req.commit(drm.AtomicAllowModeset, c.crtc)
		if err != nil {
			err = fmt.Errorf("disable crtc %v: %w", c.crtc, err)
		}
	}

	if c.queued != nil && c.queued.fb != nil {
		c.queued.fb.Discarded()
	}
	c.queued = nil

	c.destroy()
	c.m.remove(c.crtc)
	return err
}

func (c *Compositor) destroy() {
	for i, b := range c.buffers {
		if b != nil {
			c.m.alloc.Destroy(b)
			c.buffers[i] = nil
		}
	}
	if c.cursor != nil {
		c.m.alloc.Destroy(c.cursor)
		c.cursor = nil
	}
	if c.modeBlob != 0 {
		err := c.m.card.DestroyBlob(c.modeBlob)
		if err != nil {
			logrus.WithField("crtc", c.crtc).Debugf("kms: destroy mode blob: %v", err)
		}
		c.modeBlob = 0
	}
}
