// Package cursor provides themed cursor images.
package cursor

import (
	"image"
	"image/color"

	"deedles.dev/ximage"
	"deedles.dev/ximage/xcursor"
	"github.com/hepp3n/luxo/render"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// aliases maps CSS cursor names to the legacy X names that older themes
// still use.
var aliases = map[string][]string{
	"default": {"left_ptr", "arrow"},
	"text":    {"xterm", "ibeam"},
	"pointer": {"hand2", "hand1"},
	"wait":    {"watch"},
}

// Image is a cursor image at a particular scale. Images are cached, so
// the same cursor keeps the same element ID and does not cause damage.
type Image struct {
	ID    render.ElementID
	Image image.Image
	Hot   image.Point
	Scale int
}

type key struct {
	name  string
	scale int
}

// Theme loads cursors from an XCursor theme. Missing themes and cursors
// fall back to a built-in arrow.
type Theme struct {
	name  string
	size  int
	load  func(name string, size int) (image.Image, image.Point, bool)
	cache map[key]*Image
}

// Load prepares a theme. Nothing is read until a cursor is needed.
func Load(name string, size int) *Theme {
	if size <= 0 {
		size = 24
	}

	t := Theme{
		name:  name,
		size:  size,
		cache: make(map[key]*Image),
	}

	theme, err := xcursor.LoadTheme(name)
	if err != nil {
		logrus.WithField("theme", name).Warnf("cursor: load theme: %v", err)
		t.load = func(string, int) (image.Image, image.Point, bool) { return nil, image.Point{}, false }
		return &t
	}

	t.load = func(name string, size int) (image.Image, image.Point, bool) {
		cursors, ok := theme.Cursors[name]
		if !ok {
			return nil, image.Point{}, false
		}
		imgs := cursors.Images[cursors.BestSize(size)]
		if len(imgs) == 0 {
			return nil, image.Point{}, false
		}

		cimg := imgs[0]
		rect := cimg.Image.Rect
		stride := cimg.Image.Stride()
		pix := make([]byte, rect.Dx()*rect.Dy()*4)
		for y := 0; y < rect.Dy(); y++ {
			copy(pix[y*rect.Dx()*4:(y+1)*rect.Dx()*4], cimg.Image.Pix[y*stride:])
		}

		return &ximage.FormatImage{
			Format: ximage.ARGB8888,
			Rect:   image.Rect(0, 0, rect.Dx(), rect.Dy()),
			Pix:    pix,
		}, cimg.Hot, true
	}
	return &t
}

// NewTheme returns a theme that loads cursors with the given function.
// It is meant for tests.
func NewTheme(size int, load func(name string, size int) (image.Image, image.Point, bool)) *Theme {
	return &Theme{
		size:  size,
		load:  load,
		cache: make(map[key]*Image),
	}
}

func (t *Theme) Size() int {
	return t.size
}

// Get returns the named cursor rendered for an integer output scale.
func (t *Theme) Get(name string, scale int) *Image {
	if scale < 1 {
		scale = 1
	}

	k := key{name: name, scale: scale}
	if img, ok := t.cache[k]; ok {
		return img
	}

	img := t.find(name, scale)
	t.cache[k] = img
	return img
}

func (t *Theme) find(name string, scale int) *Image {
	size := t.size * scale
	for _, n := range append([]string{name}, aliases[name]...) {
		src, hot, ok := t.load(n, size)
		if !ok {
			continue
		}
		return &Image{
			ID:    render.NewElementID(),
			Image: src,
			Hot:   hot,
			Scale: scale,
		}
	}

	logrus.WithField("cursor", name).Debug("cursor: not in theme, using fallback")
	return fallback(size, scale)
}

// fallback draws a plain arrow.
func fallback(size, scale int) *Image {
	const base = 16
	arrow := image.NewRGBA(image.Rect(0, 0, base, base))
	for y := 0; y < base; y++ {
		for x := 0; x <= y*2/3; x++ {
			c := color.RGBA{A: 0xff}
			if x > 0 && x < y*2/3 && y < base-1 {
				c = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			}
			arrow.SetRGBA(x, y, c)
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), arrow, arrow.Bounds(), draw.Src, nil)
	return &Image{
		ID:    render.NewElementID(),
		Image: dst,
		Scale: scale,
	}
}
