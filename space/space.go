// Package space describes the logical desktop that outputs look at.
//
// Window management is not this module's concern, so Space is an
// interface. Tiling is a minimal implementation that places windows
// where it is told to, which is enough to drive outputs.
package space

import (
	"fmt"
	"image"
	"math"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/render"
)

type ClientID uint64

type Mode struct {
	Size    image.Point
	Refresh int // mHz
}

func ModeFromDRM(m drm.Mode) Mode {
	return Mode{Size: m.Size(), Refresh: m.Refresh()}
}

func (m Mode) String() string {
	return fmt.Sprintf("%vx%v@%.3f", m.Size.X, m.Size.Y, float64(m.Refresh)/1000)
}

// Output is the logical side of a display. ID refers back to the output
// surface that drives it.
type Output struct {
	Name         string
	Make         string
	Model        string
	PhysicalSize image.Point
	Subpixel     drm.Subpixel
	ID           drm.OutputID

	Scale float64

	mode      Mode
	preferred Mode
	hasMode   bool
}

// SetMode sets the current mode. The first mode set also becomes the
// preferred one.
func (o *Output) SetMode(m Mode) {
	if !o.hasMode {
		o.preferred = m
	}
	o.mode = m
	o.hasMode = true
}

func (o *Output) CurrentMode() (Mode, bool) {
	return o.mode, o.hasMode
}

func (o *Output) PreferredMode() (Mode, bool) {
	return o.preferred, o.hasMode
}

// FractionalScale returns Scale, defaulting to 1.
func (o *Output) FractionalScale() float64 {
	if o.Scale <= 0 {
		return 1
	}
	return o.Scale
}

// LogicalSize is the size of the output in desktop coordinates.
func (o *Output) LogicalSize() image.Point {
	s := o.FractionalScale()
	return image.Pt(
		int(math.Round(float64(o.mode.Size.X)/s)),
		int(math.Round(float64(o.mode.Size.Y)/s)),
	)
}

func (o *Output) String() string {
	return o.Name
}

// Surface is a client surface.
type Surface interface {
	Client() ClientID
	Alive() bool
}

// Window is a toplevel or layer surface along with its subsurfaces.
type Window interface {
	// Surfaces returns the surface tree, root first.
	Surfaces() []Surface

	// Size is the logical size of the window.
	Size() image.Point

	// Elements returns the render elements of the window placed at loc,
	// in physical coordinates, for an output with the given scale. The
	// first element is the topmost.
	Elements(loc image.Point, scale float64) []render.Element
}

type Space interface {
	Outputs() []*Output
	OutputGeometry(*Output) (image.Rectangle, bool)
	MapOutput(o *Output, loc image.Point)
	UnmapOutput(*Output)

	// Windows returns the mapped windows, topmost first.
	Windows() []Window

	// OutputsFor returns the outputs that a window overlaps.
	OutputsFor(Window) []*Output

	// Layers returns the layer-shell surfaces on an output.
	Layers(*Output) []Window

	// Fullscreen returns the window covering an output, if any.
	Fullscreen(*Output) Window

	// Elements returns everything visible on an output except for the
	// pointer, topmost first.
	Elements(*Output) []render.Element

	// BlockerCleared is called after a client's commit blockers may have
	// been released.
	BlockerCleared(ClientID)
}

// FindOutput returns the output in s that refers to id.
func FindOutput(s Space, id drm.OutputID) (*Output, bool) {
	for _, o := range s.Outputs() {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}
