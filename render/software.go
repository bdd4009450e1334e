package render

import (
	"image"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/internal/debug"
	"golang.org/x/image/draw"
)

// Software renders on the CPU. It is bound to a render node only so
// that it can be told apart from the renderers of other GPUs.
type Software struct {
	node    drm.Node
	formats format.Set
}

// NewSoftware returns a renderer for node that reads and writes the
// given formats.
func NewSoftware(node drm.Node, formats format.Set) *Software {
	return &Software{node: node, formats: formats}
}

func (s *Software) Node() drm.Node {
	return s.node
}

func (s *Software) DmabufFormats() format.Set {
	return s.formats
}

func (s *Software) RenderFormats() format.Set {
	return s.formats
}

func (s *Software) Render(dst draw.Image, elements []Element, clear Color) error {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.NewUniform(clear), image.Point{}, draw.Src)

	for i := len(elements) - 1; i >= 0; i-- {
		e := elements[i]
		if !e.Geometry().Overlaps(bounds) {
			continue
		}
		e.Draw(dst)
	}

	debug.Printf("render: %v: drew %v elements into %v", s.node, len(elements), bounds)
	return nil
}
