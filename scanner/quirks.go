package scanner

import (
	"strings"

	"github.com/hepp3n/luxo/drm"
	"github.com/sirupsen/logrus"
)

// Quirk adjusts the planes offered to an output for drivers that are
// known to misbehave.
type Quirk struct {
	Name  string
	Match func(drm.Driver) bool
	Apply func(drm.Planes) drm.Planes
}

// Quirks are applied in order.
type Quirks []Quirk

// DefaultQuirks returns the built in table.
func DefaultQuirks() Quirks {
	return Quirks{NvidiaOverlays}
}

// NvidiaOverlays drops overlay planes on the proprietary nvidia driver,
// where scanning out on them is unreliable.
var NvidiaOverlays = Quirk{
	Name:  "nvidia-overlays",
	Match: DriverContains("nvidia"),
	Apply: func(p drm.Planes) drm.Planes {
		p.Overlay = nil
		return p
	},
}

// DriverContains matches drivers whose name or description contains
// substr, ignoring case.
func DriverContains(substr string) func(drm.Driver) bool {
	substr = strings.ToLower(substr)
	return func(d drm.Driver) bool {
		return strings.Contains(strings.ToLower(d.Name), substr) ||
			strings.Contains(strings.ToLower(d.Description), substr)
	}
}

func (q Quirks) Apply(d drm.Driver, planes drm.Planes) drm.Planes {
	for _, quirk := range q {
		if quirk.Match(d) {
			logrus.WithField("driver", d.Name).Debugf("scanner: applying quirk %v", quirk.Name)
			planes = quirk.Apply(planes)
		}
	}
	return planes
}
