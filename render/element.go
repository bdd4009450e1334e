package render

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ImageElement draws an image at a fixed location. The image is scaled
// by Scale, which is the ratio of output pixels to image pixels.
type ImageElement struct {
	id     ElementID
	commit uint64
	kind   Kind

	img   image.Image
	loc   image.Point
	scale float64
}

func NewImageElement(id ElementID, commit uint64, img image.Image, loc image.Point, scale float64, kind Kind) *ImageElement {
	if scale <= 0 {
		scale = 1
	}
	return &ImageElement{
		id:     id,
		commit: commit,
		kind:   kind,
		img:    img,
		loc:    loc,
		scale:  scale,
	}
}

func (e *ImageElement) ID() ElementID  { return e.id }
func (e *ImageElement) Commit() uint64 { return e.commit }
func (e *ImageElement) Kind() Kind     { return e.kind }

func (e *ImageElement) Image() image.Image {
	return e.img
}

func (e *ImageElement) Geometry() image.Rectangle {
	size := e.img.Bounds().Size()
	w := int(math.Round(float64(size.X) * e.scale))
	h := int(math.Round(float64(size.Y) * e.scale))
	return image.Rectangle{Min: e.loc, Max: e.loc.Add(image.Pt(w, h))}
}

func (e *ImageElement) Draw(dst draw.Image) {
	r := e.Geometry()
	src := e.img.Bounds()
	if r.Size() == src.Size() {
		draw.Draw(dst, r, e.img, src.Min, draw.Over)
		return
	}
	draw.ApproxBiLinear.Scale(dst, r, e.img, src, draw.Over, nil)
}

// SolidElement fills a rectangle with a single color.
type SolidElement struct {
	id     ElementID
	commit uint64
	rect   image.Rectangle
	color  Color
}

func NewSolidElement(id ElementID, commit uint64, r image.Rectangle, c Color) *SolidElement {
	return &SolidElement{id: id, commit: commit, rect: r, color: c}
}

func (e *SolidElement) ID() ElementID             { return e.id }
func (e *SolidElement) Commit() uint64            { return e.commit }
func (e *SolidElement) Kind() Kind                { return KindUnspecified }
func (e *SolidElement) Geometry() image.Rectangle { return e.rect }

func (e *SolidElement) Draw(dst draw.Image) {
	draw.Draw(dst, e.rect, image.NewUniform(e.color), image.Point{}, draw.Over)
}
