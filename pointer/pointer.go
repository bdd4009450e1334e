// Package pointer tracks what the pointer looks like and where it is.
package pointer

import (
	"image"

	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/space"
)

// DefaultName is the cursor shown when no client has set one.
const DefaultName = "default"

type Kind int

const (
	KindHidden Kind = iota
	KindNamed
	KindSurface
)

func (k Kind) String() string {
	switch k {
	case KindHidden:
		return "hidden"
	case KindNamed:
		return "named"
	case KindSurface:
		return "surface"
	}

	return "unknown"
}

// Surface is a client-provided cursor.
type Surface interface {
	space.Window

	// Hotspot is the point of the surface, in logical coordinates, that
	// sits at the pointer location.
	Hotspot() image.Point
}

// Status is the current cursor image.
type Status struct {
	kind    Kind
	name    string
	surface Surface
}

func Hidden() Status {
	return Status{kind: KindHidden}
}

func Named(name string) Status {
	return Status{kind: KindNamed, name: name}
}

func FromSurface(s Surface) Status {
	return Status{kind: KindSurface, surface: s}
}

func Default() Status {
	return Named(DefaultName)
}

func (s Status) Kind() Kind {
	return s.kind
}

func (s Status) Name() string {
	return s.name
}

func (s Status) Surface() Surface {
	return s.surface
}

// State is the pointer as far as rendering is concerned.
type State struct {
	// Location is in desktop coordinates.
	Location image.Point

	Status Status
}

func NewState() *State {
	return &State{Status: Default()}
}

// Validate resets the status to the default cursor if the surface it
// refers to is gone. It reports whether it changed anything.
func (s *State) Validate() bool {
	if s.Status.kind != KindSurface {
		return false
	}

	surfaces := s.Status.surface.Surfaces()
	if len(surfaces) > 0 && surfaces[0].Alive() {
		return false
	}

	s.Status = Default()
	return true
}

// Elements returns the render elements of a surface cursor at loc,
// which must already account for the hotspot.
func (s Status) Elements(loc image.Point, scale float64) []render.Element {
	if s.kind != KindSurface {
		return nil
	}
	return s.surface.Elements(loc, scale)
}
