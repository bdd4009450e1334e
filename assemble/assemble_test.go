package assemble_test

import (
	"image"
	"testing"

	"github.com/hepp3n/luxo/assemble"
	"github.com/hepp3n/luxo/cursor"
	"github.com/hepp3n/luxo/pointer"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/space"
	"github.com/hepp3n/luxo/space/spacetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func theme() *cursor.Theme {
	return cursor.NewTheme(16, func(name string, size int) (image.Image, image.Point, bool) {
		return image.NewRGBA(image.Rect(0, 0, size, size)), image.Pt(size/8, size/8), true
	})
}

func setup(scale float64) (*space.Tiling, *space.Output) {
	sp := space.NewTiling()
	left := &space.Output{Name: "A", Scale: 1}
	left.SetMode(space.Mode{Size: image.Pt(100, 100)})
	o := &space.Output{Name: "B", Scale: scale}
	o.SetMode(space.Mode{Size: image.Pt(400, 400)})
	sp.MapOutput(left, image.Point{})
	sp.MapOutput(o, image.Pt(100, 0))
	return sp, o
}

func TestDesktop(t *testing.T) {
	sp, o := setup(1)
	w := spacetest.NewWindow(1, image.Pt(50, 50))
	sp.MapWindow(w, image.Pt(120, 0))

	ptr := pointer.NewState()
	ptr.Location = image.Pt(150, 20)

	a := assemble.New(theme())
	elems, clear := a.Elements(sp, o, ptr)
	assert.Equal(t, assemble.ClearColor, clear)
	require.Len(t, elems, 2)
	assert.Equal(t, render.KindCursor, elems[0].Kind())
	assert.Equal(t, image.Rect(48, 18, 64, 34), elems[0].Geometry())
	assert.Equal(t, w.ID(), elems[1].ID())

	again, _ := a.Elements(sp, o, ptr)
	assert.Equal(t, elems[0].ID(), again[0].ID(), "cached cursor keeps its identity")
}

func TestCursorScale(t *testing.T) {
	sp, o := setup(1.5)
	ptr := pointer.NewState()
	ptr.Location = image.Pt(110, 10)

	elems := assemble.New(theme()).Cursor(sp, o, ptr)
	require.Len(t, elems, 1)
	// Rendered at scale 2 (32px, hotspot 4), shown at 1.5: 24px, hotspot 3.
	assert.Equal(t, image.Rect(12, 12, 36, 36), elems[0].Geometry())
}

func TestCursorOutside(t *testing.T) {
	sp, o := setup(1)
	ptr := pointer.NewState()
	ptr.Location = image.Pt(50, 50)
	assert.Empty(t, assemble.New(theme()).Cursor(sp, o, ptr))

	ptr.Location = image.Pt(150, 50)
	ptr.Status = pointer.Hidden()
	assert.Empty(t, assemble.New(theme()).Cursor(sp, o, ptr))
}

func TestCursorSurface(t *testing.T) {
	sp, o := setup(2)
	cur := spacetest.NewWindow(1, image.Pt(8, 8))
	cur.Hot = image.Pt(1, 1)

	ptr := pointer.NewState()
	ptr.Location = image.Pt(110, 10)
	ptr.Status = pointer.FromSurface(cur)

	elems := assemble.New(theme()).Cursor(sp, o, ptr)
	require.Len(t, elems, 1)
	assert.Equal(t, image.Rect(18, 18, 34, 34), elems[0].Geometry())

	cur.Surface.Dead = true
	elems = assemble.New(theme()).Cursor(sp, o, ptr)
	assert.Equal(t, pointer.KindNamed, ptr.Status.Kind())
	require.Len(t, elems, 1)
	assert.Equal(t, render.KindCursor, elems[0].Kind())
}

func TestFullscreen(t *testing.T) {
	sp, o := setup(1)
	w := spacetest.NewWindow(1, image.Pt(400, 400))
	bg := spacetest.NewWindow(2, image.Pt(10, 10))
	sp.MapWindow(bg, image.Pt(100, 0))
	sp.MapWindow(w, image.Pt(300, 300))
	sp.SetFullscreen(o, w)

	ptr := pointer.NewState()
	ptr.Status = pointer.Hidden()

	elems, clear := assemble.New(theme()).Elements(sp, o, ptr)
	assert.Equal(t, assemble.ClearColorFullscreen, clear)
	require.Len(t, elems, 1)
	assert.Equal(t, w.ID(), elems[0].ID())
	assert.Equal(t, image.Point{}, elems[0].Geometry().Min)
}
