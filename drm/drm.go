// Package drm talks to the kernel's mode-setting interface.
//
// Card is the real implementation, built directly on ioctls. The rest
// of the compositor depends on the Device interface instead, so that
// hotplug and output handling can be exercised without hardware.
package drm

import (
	"fmt"
	"image"
	"time"

	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/internal/set"
)

type (
	ConnectorHandle   uint32
	CrtcHandle        uint32
	EncoderHandle     uint32
	PlaneHandle       uint32
	PropertyHandle    uint32
	FramebufferHandle uint32
	BlobHandle        uint32
)

// OutputID identifies an output surface: a CRTC on a particular device.
type OutputID struct {
	Device Node
	Crtc   CrtcHandle
}

func (id OutputID) String() string {
	return fmt.Sprintf("%v/crtc-%d", id.Device, id.Crtc)
}

type ConnectorState uint32

const (
	Connected    ConnectorState = 1
	Disconnected ConnectorState = 2
	UnknownState ConnectorState = 3
)

func (s ConnectorState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type ConnectorType uint32

var connectorTypeNames = [...]string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO",
	"LVDS", "Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP",
	"Virtual", "DSI", "DPI", "Writeback", "SPI", "USB",
}

func (t ConnectorType) String() string {
	if int(t) < len(connectorTypeNames) {
		return connectorTypeNames[t]
	}
	return "Unknown"
}

type Subpixel uint32

const (
	SubpixelUnknown Subpixel = iota + 1
	SubpixelHorizontalRGB
	SubpixelHorizontalBGR
	SubpixelVerticalRGB
	SubpixelVerticalBGR
	SubpixelNone
)

type ModeType uint32

const (
	ModeTypePreferred ModeType = 1 << 3
	ModeTypeDriver    ModeType = 1 << 6
)

const (
	modeFlagInterlace = 1 << 4
	modeFlagDblScan   = 1 << 5
)

// Mode is a display timing.
type Mode struct {
	Name          string
	Clock         uint32
	Width, Height uint16
	HTotal        uint16
	VTotal        uint16
	VScan         uint16
	VRefresh      uint32
	Flags         uint32
	Type          ModeType

	raw *modeInfo
}

func (m Mode) Size() image.Point {
	return image.Pt(int(m.Width), int(m.Height))
}

func (m Mode) Preferred() bool {
	return m.Type&ModeTypePreferred != 0
}

// Refresh returns the refresh rate in millihertz. It is derived from
// the pixel clock when the timings are known, which is more precise
// than the integer rate the kernel reports.
func (m Mode) Refresh() int {
	if m.HTotal == 0 || m.VTotal == 0 {
		return int(m.VRefresh) * 1000
	}

	num := uint64(m.Clock) * 1000000 / uint64(m.HTotal)
	refresh := (num + uint64(m.VTotal)/2) / uint64(m.VTotal)
	if m.Flags&modeFlagInterlace != 0 {
		refresh *= 2
	}
	if m.Flags&modeFlagDblScan != 0 {
		refresh /= 2
	}
	if m.VScan > 1 {
		refresh /= uint64(m.VScan)
	}
	return int(refresh)
}

// FrameDuration is the time one refresh cycle takes.
func (m Mode) FrameDuration() time.Duration {
	refresh := m.Refresh()
	if refresh <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) * 1000 / float64(refresh))
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.3f", m.Width, m.Height, float64(m.Refresh())/1000)
}

type ConnectorInfo struct {
	Handle   ConnectorHandle
	Type     ConnectorType
	TypeID   uint32
	State    ConnectorState
	Modes    []Mode
	Size     image.Point // millimeters
	Subpixel Subpixel

	// PossibleCrtcs lists the CRTCs any of the connector's encoders can
	// drive, in resource order.
	PossibleCrtcs []CrtcHandle

	// Crtc is the CRTC currently driving the connector, or zero.
	Crtc CrtcHandle
}

// Name returns the conventional connector name, such as "HDMI-A-1".
func (c ConnectorInfo) Name() string {
	return fmt.Sprintf("%v-%d", c.Type, c.TypeID)
}

type PlaneType uint32

const (
	PlaneOverlay PlaneType = iota
	PlanePrimary
	PlaneCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlanePrimary:
		return "primary"
	case PlaneCursor:
		return "cursor"
	default:
		return "overlay"
	}
}

type PlaneInfo struct {
	Handle  PlaneHandle
	Type    PlaneType
	Formats format.Set
}

// Planes are the planes usable with a CRTC, grouped by type.
type Planes struct {
	Primary []PlaneInfo
	Cursor  []PlaneInfo
	Overlay []PlaneInfo
}

func (p Planes) All() []PlaneInfo {
	all := make([]PlaneInfo, 0, len(p.Primary)+len(p.Cursor)+len(p.Overlay))
	all = append(all, p.Primary...)
	all = append(all, p.Cursor...)
	return append(all, p.Overlay...)
}

// ScanoutFormats returns the formats the primary and overlay planes
// can scan out directly.
func (p Planes) ScanoutFormats() format.Set {
	r := make(format.Set)
	for _, pl := range p.Primary {
		r = set.Union(r, pl.Formats)
	}
	for _, pl := range p.Overlay {
		r = set.Union(r, pl.Formats)
	}
	return r
}

type Driver struct {
	Name        string
	Description string
	Date        string

	Major, Minor, Patch int32
}

type DisplayInfo struct {
	Make   string
	Model  string
	Serial string
}

type Resources struct {
	Connectors []ConnectorHandle
	Crtcs      []CrtcHandle
	Encoders   []EncoderHandle
}

// Device is the read side of a mode-setting device.
type Device interface {
	Node() Node
	Resources() (Resources, error)
	Connector(ConnectorHandle) (ConnectorInfo, error)
	Planes(CrtcHandle) (Planes, error)
	Driver() (Driver, error)
	NonDesktop(ConnectorHandle) (bool, error)
	DisplayInfo(ConnectorHandle) (DisplayInfo, error)
}

func modeFromInfo(info *modeInfo) Mode {
	raw := *info
	return Mode{
		Name:     cstring(info.Name[:]),
		Clock:    info.Clock,
		Width:    info.Hdisplay,
		Height:   info.Vdisplay,
		HTotal:   info.Htotal,
		VTotal:   info.Vtotal,
		VScan:    info.Vscan,
		VRefresh: info.Vrefresh,
		Flags:    info.Flags,
		Type:     ModeType(info.Type),
		raw:      &raw,
	}
}

// info returns the kernel representation of m. Modes that did not come
// from the kernel only carry the fields that Mode exposes.
func (m Mode) info() modeInfo {
	if m.raw != nil {
		return *m.raw
	}

	info := modeInfo{
		Clock:    m.Clock,
		Hdisplay: m.Width,
		Htotal:   m.HTotal,
		Vdisplay: m.Height,
		Vtotal:   m.VTotal,
		Vscan:    m.VScan,
		Vrefresh: m.VRefresh,
		Flags:    m.Flags,
		Type:     uint32(m.Type),
	}
	copy(info.Name[:len(info.Name)-1], m.Name)
	return info
}
