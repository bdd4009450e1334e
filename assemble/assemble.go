// Package assemble builds the list of elements drawn onto an output.
package assemble

import (
	"image"
	"math"

	"github.com/hepp3n/luxo/cursor"
	"github.com/hepp3n/luxo/pointer"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/space"
)

var (
	// ClearColor is the background of the desktop.
	ClearColor = render.Color{R: 0.8, G: 0.8, B: 0.9, A: 1}

	// ClearColorFullscreen is used behind fullscreen windows, which are
	// expected to cover the output.
	ClearColorFullscreen = render.Color{}
)

type Assembler struct {
	theme *cursor.Theme
}

func New(theme *cursor.Theme) *Assembler {
	return &Assembler{theme: theme}
}

// Elements returns the elements of o, topmost first, and the color to
// clear the output with.
func (a *Assembler) Elements(sp space.Space, o *space.Output, ptr *pointer.State) ([]render.Element, render.Color) {
	elems := a.Cursor(sp, o, ptr)

	if fs := sp.Fullscreen(o); fs != nil {
		elems = append(elems, fs.Elements(image.Point{}, o.FractionalScale())...)
		return elems, ClearColorFullscreen
	}

	elems = append(elems, sp.Elements(o)...)
	return elems, ClearColor
}

// Cursor returns the pointer's elements on o, if the pointer is there.
func (a *Assembler) Cursor(sp space.Space, o *space.Output, ptr *pointer.State) []render.Element {
	if ptr == nil {
		return nil
	}

	geo, ok := sp.OutputGeometry(o)
	if !ok || !ptr.Location.In(geo) {
		return nil
	}

	ptr.Validate()

	scale := o.FractionalScale()
	rel := ptr.Location.Sub(geo.Min)

	switch ptr.Status.Kind() {
	case pointer.KindNamed:
		img := a.theme.Get(ptr.Status.Name(), int(math.Ceil(scale)))
		// The image is rendered at an integer scale and shown at the
		// output's scale.
		imgScale := scale / float64(img.Scale)
		loc := physical(rel, scale).Sub(physical(img.Hot, imgScale))
		return []render.Element{
			render.NewImageElement(img.ID, 0, img.Image, loc, imgScale, render.KindCursor),
		}

	case pointer.KindSurface:
		s := ptr.Status.Surface()
		loc := physical(rel.Sub(s.Hotspot()), scale)
		return ptr.Status.Elements(loc, scale)

	default:
		return nil
	}
}

func physical(p image.Point, scale float64) image.Point {
	return image.Pt(
		int(math.Round(float64(p.X)*scale)),
		int(math.Round(float64(p.Y)*scale)),
	)
}
