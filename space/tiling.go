package space

import (
	"image"
	"math"

	"github.com/hepp3n/luxo/render"
	"golang.org/x/exp/slices"
)

type placedOutput struct {
	output *Output
	loc    image.Point
}

type placedWindow struct {
	window Window
	loc    image.Point
}

// Tiling is a Space that keeps windows exactly where they are put.
type Tiling struct {
	outputs    []placedOutput
	windows    []placedWindow
	layers     map[*Output][]Window
	fullscreen map[*Output]Window

	// OnBlockerCleared, if set, is called by BlockerCleared.
	OnBlockerCleared func(ClientID)
}

func NewTiling() *Tiling {
	return &Tiling{
		layers:     make(map[*Output][]Window),
		fullscreen: make(map[*Output]Window),
	}
}

func (t *Tiling) Outputs() []*Output {
	r := make([]*Output, 0, len(t.outputs))
	for _, p := range t.outputs {
		r = append(r, p.output)
	}
	return r
}

func (t *Tiling) outputIndex(o *Output) int {
	return slices.IndexFunc(t.outputs, func(p placedOutput) bool { return p.output == o })
}

func (t *Tiling) OutputGeometry(o *Output) (image.Rectangle, bool) {
	i := t.outputIndex(o)
	if i < 0 {
		return image.Rectangle{}, false
	}
	p := t.outputs[i]
	return image.Rectangle{Min: p.loc, Max: p.loc.Add(o.LogicalSize())}, true
}

func (t *Tiling) MapOutput(o *Output, loc image.Point) {
	if i := t.outputIndex(o); i >= 0 {
		t.outputs[i].loc = loc
		return
	}
	t.outputs = append(t.outputs, placedOutput{output: o, loc: loc})
}

func (t *Tiling) UnmapOutput(o *Output) {
	if i := t.outputIndex(o); i >= 0 {
		t.outputs = slices.Delete(t.outputs, i, i+1)
	}
	delete(t.layers, o)
	delete(t.fullscreen, o)
}

// MapWindow places w on top of all other windows.
func (t *Tiling) MapWindow(w Window, loc image.Point) {
	t.UnmapWindow(w)
	t.windows = slices.Insert(t.windows, 0, placedWindow{window: w, loc: loc})
}

func (t *Tiling) UnmapWindow(w Window) {
	i := slices.IndexFunc(t.windows, func(p placedWindow) bool { return p.window == w })
	if i >= 0 {
		t.windows = slices.Delete(t.windows, i, i+1)
	}
	for o, fw := range t.fullscreen {
		if fw == w {
			delete(t.fullscreen, o)
		}
	}
}

func (t *Tiling) Windows() []Window {
	r := make([]Window, 0, len(t.windows))
	for _, p := range t.windows {
		r = append(r, p.window)
	}
	return r
}

func (t *Tiling) windowGeometry(p placedWindow) image.Rectangle {
	return image.Rectangle{Min: p.loc, Max: p.loc.Add(p.window.Size())}
}

func (t *Tiling) OutputsFor(w Window) []*Output {
	i := slices.IndexFunc(t.windows, func(p placedWindow) bool { return p.window == w })
	if i < 0 {
		return nil
	}
	geo := t.windowGeometry(t.windows[i])

	var r []*Output
	for _, p := range t.outputs {
		og, _ := t.OutputGeometry(p.output)
		if og.Overlaps(geo) {
			r = append(r, p.output)
		}
	}
	return r
}

func (t *Tiling) AddLayer(o *Output, w Window) {
	t.layers[o] = append(t.layers[o], w)
}

func (t *Tiling) Layers(o *Output) []Window {
	return t.layers[o]
}

func (t *Tiling) SetFullscreen(o *Output, w Window) {
	if w == nil {
		delete(t.fullscreen, o)
		return
	}
	t.fullscreen[o] = w
}

func (t *Tiling) Fullscreen(o *Output) Window {
	return t.fullscreen[o]
}

func (t *Tiling) Elements(o *Output) []render.Element {
	og, ok := t.OutputGeometry(o)
	if !ok {
		return nil
	}
	scale := o.FractionalScale()
	physical := func(p image.Point) image.Point {
		p = p.Sub(og.Min)
		return image.Pt(int(math.Round(float64(p.X)*scale)), int(math.Round(float64(p.Y)*scale)))
	}

	if w := t.fullscreen[o]; w != nil {
		return w.Elements(image.Point{}, scale)
	}

	var elems []render.Element
	for _, l := range t.layers[o] {
		elems = append(elems, l.Elements(image.Point{}, scale)...)
	}
	for _, p := range t.windows {
		if !t.windowGeometry(p).Overlaps(og) {
			continue
		}
		elems = append(elems, p.window.Elements(physical(p.loc), scale)...)
	}
	return elems
}

func (t *Tiling) BlockerCleared(c ClientID) {
	if t.OnBlockerCleared != nil {
		t.OnBlockerCleared(c)
	}
}
