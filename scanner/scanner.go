// Package scanner tracks which connectors are lit by which CRTCs.
//
// A Scanner remembers what it saw last time and reports only the
// differences, so it can be run after every hotplug notification
// without disturbing outputs that did not change.
package scanner

import (
	"fmt"
	"image"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/internal/xslices"
	"github.com/hepp3n/luxo/space"
	"github.com/sirupsen/logrus"
)

type EventKind int

const (
	Connected EventKind = iota
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a change of a connector and CRTC pair.
type Event struct {
	Kind      EventKind
	Connector drm.ConnectorInfo
	Crtc      drm.CrtcHandle
}

type pair struct {
	conn drm.ConnectorInfo
	crtc drm.CrtcHandle
}

type Scanner struct {
	pairs map[drm.ConnectorHandle]pair
	order []drm.ConnectorHandle
}

func New() *Scanner {
	return &Scanner{pairs: make(map[drm.ConnectorHandle]pair)}
}

// Scan reads the connector state of dev and returns what changed since
// the previous scan. Disconnections come before connections.
func (s *Scanner) Scan(dev drm.Device) ([]Event, error) {
	res, err := dev.Resources()
	if err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}

	var conns []drm.ConnectorInfo
	for _, h := range res.Connectors {
		info, err := dev.Connector(h)
		if err != nil {
			logrus.WithField("connector", h).Warnf("scanner: %v", err)
			continue
		}
		if info.State == drm.Connected {
			conns = append(conns, info)
		}
	}

	next := s.assign(conns)

	var events []Event
	for _, h := range s.order {
		old := s.pairs[h]
		cur, ok := next[h]
		if !ok || cur.crtc != old.crtc {
			events = append(events, Event{Kind: Disconnected, Connector: old.conn, Crtc: old.crtc})
		}
	}

	order := make([]drm.ConnectorHandle, 0, len(next))
	for _, c := range conns {
		cur, ok := next[c.Handle]
		if !ok {
			continue
		}
		order = append(order, c.Handle)

		old, ok := s.pairs[c.Handle]
		if !ok || old.crtc != cur.crtc {
			events = append(events, Event{Kind: Connected, Connector: cur.conn, Crtc: cur.crtc})
		}
	}

	s.pairs = next
	s.order = order
	return events, nil
}

// assign pairs each connector with a CRTC. Connectors keep the CRTC
// they had before if they can, then take whatever the kernel has them
// on, then the first possible CRTC nobody else took.
func (s *Scanner) assign(conns []drm.ConnectorInfo) map[drm.ConnectorHandle]pair {
	taken := make(map[drm.CrtcHandle]struct{})
	next := make(map[drm.ConnectorHandle]pair, len(conns))

	claim := func(c drm.ConnectorInfo, crtc drm.CrtcHandle) bool {
		if crtc == 0 {
			return false
		}
		if _, ok := taken[crtc]; ok {
			return false
		}
		if _, ok := xslices.Find(c.PossibleCrtcs, func(p drm.CrtcHandle) bool { return p == crtc }); !ok {
			return false
		}
		taken[crtc] = struct{}{}
		next[c.Handle] = pair{conn: c, crtc: crtc}
		return true
	}

	var rest []drm.ConnectorInfo
	for _, c := range conns {
		if old, ok := s.pairs[c.Handle]; ok && claim(c, old.crtc) {
			continue
		}
		rest = append(rest, c)
	}

	var last []drm.ConnectorInfo
	for _, c := range rest {
		if !claim(c, c.Crtc) {
			last = append(last, c)
		}
	}

	for _, c := range last {
		for _, crtc := range c.PossibleCrtcs {
			if claim(c, crtc) {
				break
			}
		}
	}

	return next
}

// Pairs returns the connectors that currently have a CRTC, in resource
// order.
func (s *Scanner) Pairs() []Event {
	events := make([]Event, 0, len(s.order))
	for _, h := range s.order {
		p := s.pairs[h]
		events = append(events, Event{Kind: Connected, Connector: p.conn, Crtc: p.crtc})
	}
	return events
}

// Crtcs returns the CRTCs that are in use.
func (s *Scanner) Crtcs() []drm.CrtcHandle {
	return xslices.Map(s.order, func(h drm.ConnectorHandle) drm.CrtcHandle { return s.pairs[h].crtc })
}

// PreferredMode picks the mode the kernel marks as preferred, or else
// the first one.
func PreferredMode(modes []drm.Mode) (drm.Mode, bool) {
	if m, ok := xslices.Find(modes, drm.Mode.Preferred); ok {
		return m, true
	}
	if len(modes) == 0 {
		return drm.Mode{}, false
	}
	return modes[0], true
}

// Description names a connected display.
type Description struct {
	Name  string
	Make  string
	Model string
}

func Describe(conn drm.ConnectorInfo, di drm.DisplayInfo) Description {
	d := Description{
		Name:  conn.Name(),
		Make:  di.Make,
		Model: di.Model,
	}
	if d.Make == "" {
		d.Make = "Unknown"
	}
	if d.Model == "" {
		d.Model = "Unknown"
	}
	return d
}

// NewOutput builds the logical output for a connector driven by the
// output surface id.
func NewOutput(id drm.OutputID, conn drm.ConnectorInfo, di drm.DisplayInfo, mode drm.Mode) *space.Output {
	d := Describe(conn, di)
	o := &space.Output{
		Name:         d.Name,
		Make:         d.Make,
		Model:        d.Model,
		PhysicalSize: conn.Size,
		Subpixel:     conn.Subpixel,
		ID:           id,
		Scale:        1,
	}
	o.SetMode(space.ModeFromDRM(mode))
	return o
}

// Place returns the location for a new output: to the right of every
// output already in sp.
func Place(sp space.Space) image.Point {
	var x int
	for _, o := range sp.Outputs() {
		geo, ok := sp.OutputGeometry(o)
		if ok {
			x += geo.Dx()
		}
	}
	return image.Pt(x, 0)
}
