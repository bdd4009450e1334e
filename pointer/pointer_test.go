package pointer_test

import (
	"image"
	"testing"

	"github.com/hepp3n/luxo/pointer"
	"github.com/hepp3n/luxo/space/spacetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	s := pointer.NewState()
	assert.Equal(t, pointer.KindNamed, s.Status.Kind())
	assert.Equal(t, pointer.DefaultName, s.Status.Name())
	assert.False(t, s.Validate())

	s.Status = pointer.Hidden()
	assert.False(t, s.Validate())
	assert.Equal(t, pointer.KindHidden, s.Status.Kind())

	w := spacetest.NewWindow(1, image.Pt(16, 16))
	s.Status = pointer.FromSurface(w)
	assert.False(t, s.Validate())
	assert.Equal(t, pointer.KindSurface, s.Status.Kind())

	w.Surface.Dead = true
	assert.True(t, s.Validate())
	assert.Equal(t, pointer.Default(), s.Status)
}

func TestElements(t *testing.T) {
	assert.Empty(t, pointer.Named("text").Elements(image.Point{}, 1))

	w := spacetest.NewWindow(1, image.Pt(16, 8))
	elems := pointer.FromSurface(w).Elements(image.Pt(5, 5), 2)
	require.Len(t, elems, 1)
	assert.Equal(t, image.Rect(5, 5, 37, 21), elems[0].Geometry())
}
