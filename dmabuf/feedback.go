// Package dmabuf computes the buffer-format preferences advertised to
// clients so that they can allocate buffers which the compositor can
// either sample from or put directly on a display plane.
package dmabuf

import (
	"errors"
	"fmt"

	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/internal/set"
)

// ErrNoFormats is returned when a feedback would advertise nothing.
var ErrNoFormats = errors.New("feedback has no formats")

type TrancheFlags uint32

const (
	// TrancheScanout marks formats that a display plane can scan out.
	TrancheScanout TrancheFlags = 1 << iota
)

// Tranche is a group of formats that a particular device prefers. Earlier
// tranches in a Feedback are preferred over later ones.
type Tranche struct {
	Device  uint64
	Flags   TrancheFlags
	Formats format.Set
}

type Feedback struct {
	MainDevice uint64
	Formats    format.Set
	Tranches   []Tranche
}

// ScanoutTranche returns the first tranche flagged for scanout.
func (f *Feedback) ScanoutTranche() (Tranche, bool) {
	for _, t := range f.Tranches {
		if t.Flags&TrancheScanout != 0 {
			return t, true
		}
	}
	return Tranche{}, false
}

// Builder accumulates preference tranches in front of the main device's
// format table. Builders are values, so a partially built feedback can
// be copied and extended in two different directions.
type Builder struct {
	main     uint64
	formats  format.Set
	tranches []Tranche
}

func NewBuilder(main uint64, formats format.Set) Builder {
	return Builder{main: main, formats: formats}
}

// Add returns a builder with an extra tranche. Formats that an earlier
// tranche already lists are dropped from it.
func (b Builder) Add(device uint64, flags TrancheFlags, formats format.Set) Builder {
	seen := make(format.Set)
	for _, t := range b.tranches {
		seen = set.Union(seen, t.Formats)
	}

	tranches := make([]Tranche, len(b.tranches), len(b.tranches)+1)
	copy(tranches, b.tranches)

	rest := set.Difference(formats, seen)
	if rest.Len() > 0 {
		tranches = append(tranches, Tranche{Device: device, Flags: flags, Formats: rest})
	}

	b.tranches = tranches
	return b
}

// Build finalizes the feedback. Formats of the main device that no
// preference tranche covers end up in a trailing tranche.
func (b Builder) Build() (*Feedback, error) {
	if b.formats.Len() == 0 {
		return nil, ErrNoFormats
	}

	b = b.Add(b.main, 0, b.formats)
	all := make(format.Set)
	for _, t := range b.tranches {
		all = set.Union(all, t.Formats)
	}

	return &Feedback{
		MainDevice: b.main,
		Formats:    all,
		Tranches:   b.tranches,
	}, nil
}

// SurfaceFeedback is the pair of feedbacks an output hands to surfaces
// depending on whether they are currently being scanned out directly.
type SurfaceFeedback struct {
	Render  *Feedback
	Scanout *Feedback
}

// Select picks the feedback matching a surface's presentation state.
func (f *SurfaceFeedback) Select(zeroCopy bool) *Feedback {
	if zeroCopy {
		return f.Scanout
	}
	return f.Render
}

// GPU names a device along with the formats its renderer can import.
type GPU struct {
	Device  uint64
	Formats format.Set
}

// Compute builds the render and scanout feedback for an output that is
// composited on primary, rendered for display by render and driven by
// the display device whose planes support planeFormats.
//
// The render feedback prefers the render device's formats. The scanout
// feedback puts the plane-supported subset of everything importable in
// front of that, flagged for scanout.
func Compute(primary, render GPU, display uint64, planeFormats format.Set) (*SurfaceFeedback, error) {
	base := NewBuilder(primary.Device, primary.Formats)

	rf, err := base.Add(render.Device, 0, render.Formats).Build()
	if err != nil {
		return nil, fmt.Errorf("build render feedback: %w", err)
	}

	scanout := set.Intersect(planeFormats, set.Union(primary.Formats, render.Formats))
	sf, err := base.
		Add(display, TrancheScanout, scanout).
		Add(render.Device, 0, render.Formats).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build scanout feedback: %w", err)
	}

	return &SurfaceFeedback{Render: rf, Scanout: sf}, nil
}
