// Package render defines what gets drawn onto an output and the
// renderers that draw it.
package render

import (
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
	"golang.org/x/image/draw"
)

// Color is a straight-alpha color with components in [0, 1].
type Color struct {
	R, G, B, A float32
}

func (c Color) RGBA() (r, g, b, a uint32) {
	conv := func(v float32) uint32 {
		v = min(max(v, 0), 1)
		return uint32(v*c.A*0xffff + 0.5)
	}
	return conv(c.R), conv(c.G), conv(c.B), uint32(min(max(c.A, 0), 1)*0xffff + 0.5)
}

var _ color.Color = Color{}

type Kind int

const (
	KindUnspecified Kind = iota

	// KindScanoutCandidate elements would like to be put on a plane.
	KindScanoutCandidate

	KindCursor
)

type ElementID uint64

var nextElementID atomic.Uint64

// NewElementID returns an ID that no other element has.
func NewElementID() ElementID {
	return ElementID(nextElementID.Add(1))
}

// Element is something drawn onto an output. Geometry is in physical
// output coordinates.
type Element interface {
	ID() ElementID

	// Commit changes whenever the content of the element changes.
	Commit() uint64

	Geometry() image.Rectangle
	Kind() Kind
	Draw(dst draw.Image)
}

// Scanout is implemented by elements whose content already lives in a
// framebuffer on a display device, so that a plane can show it without
// any copy.
type Scanout interface {
	Framebuffer(dev drm.Node) (drm.FramebufferHandle, bool)
}

type State int

const (
	StateSkipped State = iota
	StateRendered
	StateZeroCopy
)

func (s State) String() string {
	switch s {
	case StateRendered:
		return "rendered"
	case StateZeroCopy:
		return "zero-copy"
	default:
		return "skipped"
	}
}

// States records how each element of a frame was presented.
type States map[ElementID]State

func (s States) Visible(id ElementID) bool {
	st, ok := s[id]
	return ok && st != StateSkipped
}

func (s States) ZeroCopy(id ElementID) bool {
	return s[id] == StateZeroCopy
}

type FrameFlags uint32

const (
	FrameAllowPrimaryScanout FrameFlags = 1 << iota
	FrameAllowOverlayScanout
	FrameAllowCursorPlane

	FrameDefault = FrameAllowPrimaryScanout | FrameAllowOverlayScanout | FrameAllowCursorPlane
)

// Result describes a rendered frame.
type Result struct {
	// Empty is true if the frame did not differ from what is already on
	// screen, so nothing was queued.
	Empty bool

	States States
}

// Renderer draws elements into CPU-accessible images.
type Renderer interface {
	// Node is the render node the renderer is bound to.
	Node() drm.Node

	// DmabufFormats are the formats of client buffers the renderer can
	// read from.
	DmabufFormats() format.Set

	// RenderFormats are the formats the renderer can draw into.
	RenderFormats() format.Set

	// Render fills dst with clear and then draws elements, the first of
	// which is the topmost.
	Render(dst draw.Image, elements []Element, clear Color) error
}

// UnsupportedFormatError is returned by renderers asked to render into
// a format they cannot produce.
type UnsupportedFormatError struct {
	Node   drm.Node
	Format format.Fourcc
}

func (err *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("renderer on %v cannot render %v", err.Node, err.Format)
}

// Damage returns the union of the geometry of elements, clipped to
// bounds.
func Damage(bounds image.Rectangle, elements []Element) image.Rectangle {
	var r image.Rectangle
	for _, e := range elements {
		r = r.Union(e.Geometry().Intersect(bounds))
	}
	return r
}
