package space_test

import (
	"image"
	"testing"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/space"
	"github.com/hepp3n/luxo/space/spacetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func output(name string, w, h int, scale float64) *space.Output {
	o := &space.Output{Name: name, Scale: scale}
	o.SetMode(space.Mode{Size: image.Pt(w, h), Refresh: 60000})
	return o
}

func TestOutputGeometry(t *testing.T) {
	sp := space.NewTiling()
	a := output("A", 1920, 1080, 1)
	b := output("B", 2560, 1440, 2)
	sp.MapOutput(a, image.Point{})
	sp.MapOutput(b, image.Pt(1920, 0))

	geo, ok := sp.OutputGeometry(b)
	require.True(t, ok)
	assert.Equal(t, image.Rect(1920, 0, 1920+1280, 720), geo)

	sp.UnmapOutput(a)
	_, ok = sp.OutputGeometry(a)
	assert.False(t, ok)
	assert.Equal(t, []*space.Output{b}, sp.Outputs())
}

func TestElementsStacking(t *testing.T) {
	sp := space.NewTiling()
	o := output("A", 800, 600, 2)
	sp.MapOutput(o, image.Pt(100, 0))

	bottom := spacetest.NewWindow(1, image.Pt(50, 50))
	top := spacetest.NewWindow(2, image.Pt(50, 50))
	away := spacetest.NewWindow(3, image.Pt(50, 50))
	sp.MapWindow(bottom, image.Pt(100, 0))
	sp.MapWindow(top, image.Pt(110, 10))
	sp.MapWindow(away, image.Pt(0, 0))

	elems := sp.Elements(o)
	require.Len(t, elems, 2)
	assert.Equal(t, top.ID(), elems[0].ID())
	assert.Equal(t, image.Rect(20, 20, 120, 120), elems[0].Geometry())
	assert.Equal(t, bottom.ID(), elems[1].ID())

	assert.Equal(t, []*space.Output{o}, sp.OutputsFor(top))
	assert.Empty(t, sp.OutputsFor(away))

	sp.SetFullscreen(o, bottom)
	elems = sp.Elements(o)
	require.Len(t, elems, 1)
	assert.Equal(t, image.Pt(0, 0), elems[0].Geometry().Min)
}

func TestFindOutput(t *testing.T) {
	sp := space.NewTiling()
	o := output("A", 10, 10, 1)
	o.ID = drm.OutputID{Crtc: 7}
	sp.MapOutput(o, image.Point{})

	found, ok := space.FindOutput(sp, drm.OutputID{Crtc: 7})
	assert.True(t, ok)
	assert.Same(t, o, found)

	_, ok = space.FindOutput(sp, drm.OutputID{Crtc: 8})
	assert.False(t, ok)
}
