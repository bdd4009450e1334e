// Package drmtest provides an in-memory drm.Device.
package drmtest

import (
	"fmt"
	"os"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
)

// Mode60 is a 1920x1080 mode refreshing at exactly 60 Hz.
var Mode60 = drm.Mode{
	Name:     "1920x1080",
	Clock:    148500,
	Width:    1920,
	Height:   1080,
	HTotal:   2200,
	VTotal:   1125,
	VRefresh: 60,
	Type:     drm.ModeTypePreferred | drm.ModeTypeDriver,
}

// Device is a fake mode-setting device. Tests mutate its fields between
// scans to simulate hotplug.
type Device struct {
	ID         drm.Node
	Drv        drm.Driver
	Crtcs      []drm.CrtcHandle
	Connectors []drm.ConnectorInfo
	PlaneSets  map[drm.CrtcHandle]drm.Planes
	NonDesk    map[drm.ConnectorHandle]bool
	Displays   map[drm.ConnectorHandle]drm.DisplayInfo

	Leases  map[uint32][]uint32
	Revoked []uint32
	next    uint32
}

func NewDevice(minor uint32) *Device {
	return &Device{
		ID:        drm.NodeFromDevID(uint64(226<<8 | minor)),
		Drv:       drm.Driver{Name: "fake", Description: "fake driver"},
		PlaneSets: make(map[drm.CrtcHandle]drm.Planes),
		NonDesk:   make(map[drm.ConnectorHandle]bool),
		Displays:  make(map[drm.ConnectorHandle]drm.DisplayInfo),
		Leases:    make(map[uint32][]uint32),
	}
}

// AddCrtc adds a CRTC with one primary and one cursor plane.
func (d *Device) AddCrtc(h drm.CrtcHandle) {
	d.Crtcs = append(d.Crtcs, h)
	formats := format.With([]format.Fourcc{format.Argb8888, format.Xrgb8888}, format.ModifierLinear)
	d.PlaneSets[h] = drm.Planes{
		Primary: []drm.PlaneInfo{{Handle: drm.PlaneHandle(100 + h), Type: drm.PlanePrimary, Formats: formats}},
		Cursor:  []drm.PlaneInfo{{Handle: drm.PlaneHandle(200 + h), Type: drm.PlaneCursor, Formats: formats}},
	}
}

// Plug connects a connector that can be driven by every CRTC.
func (d *Device) Plug(h drm.ConnectorHandle, typ drm.ConnectorType) {
	d.Unplug(h)
	d.Connectors = append(d.Connectors, drm.ConnectorInfo{
		Handle:        h,
		Type:          typ,
		TypeID:        uint32(h),
		State:         drm.Connected,
		Modes:         []drm.Mode{Mode60},
		PossibleCrtcs: append([]drm.CrtcHandle(nil), d.Crtcs...),
	})
}

func (d *Device) Unplug(h drm.ConnectorHandle) {
	for i := range d.Connectors {
		if d.Connectors[i].Handle == h {
			d.Connectors[i].State = drm.Disconnected
		}
	}
}

func (d *Device) Node() drm.Node { return d.ID }

func (d *Device) Resources() (drm.Resources, error) {
	res := drm.Resources{Crtcs: d.Crtcs}
	for _, c := range d.Connectors {
		res.Connectors = append(res.Connectors, c.Handle)
	}
	return res, nil
}

func (d *Device) Connector(h drm.ConnectorHandle) (drm.ConnectorInfo, error) {
	var found *drm.ConnectorInfo
	for i := range d.Connectors {
		if d.Connectors[i].Handle == h {
			found = &d.Connectors[i]
		}
	}
	if found == nil {
		return drm.ConnectorInfo{}, fmt.Errorf("no connector %v", h)
	}
	return *found, nil
}

func (d *Device) Planes(crtc drm.CrtcHandle) (drm.Planes, error) {
	p, ok := d.PlaneSets[crtc]
	if !ok {
		return drm.Planes{}, fmt.Errorf("no crtc %v", crtc)
	}
	return p, nil
}

func (d *Device) Driver() (drm.Driver, error) { return d.Drv, nil }

func (d *Device) NonDesktop(h drm.ConnectorHandle) (bool, error) {
	return d.NonDesk[h], nil
}

func (d *Device) DisplayInfo(h drm.ConnectorHandle) (drm.DisplayInfo, error) {
	return d.Displays[h], nil
}

// CreateLease records the leased objects and returns a pipe end as the
// lessee's file.
func (d *Device) CreateLease(objects []uint32) (*os.File, uint32, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, 0, err
	}
	w.Close()

	d.next++
	d.Leases[d.next] = objects
	return r, d.next, nil
}

func (d *Device) RevokeLease(lessee uint32) error {
	if _, ok := d.Leases[lessee]; !ok {
		return fmt.Errorf("no lease %v", lessee)
	}
	delete(d.Leases, lessee)
	d.Revoked = append(d.Revoked, lessee)
	return nil
}
