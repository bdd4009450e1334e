// Package lease hands non-desktop displays, such as VR headsets, to
// other processes.
package lease

import (
	"errors"
	"fmt"
	"os"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/internal/xslices"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var (
	ErrNotLeasable    = errors.New("connector is not available for leasing")
	ErrInUse          = errors.New("connector is already leased")
	ErrNoPrimaryPlane = errors.New("no primary plane available")
	ErrSuspended      = errors.New("leasing is suspended")
	ErrDisabled       = errors.New("leasing is disabled")
	ErrEmpty          = errors.New("no connectors requested")
)

// Device is the part of a DRM device that leasing needs.
type Device interface {
	Node() drm.Node
	Planes(drm.CrtcHandle) (drm.Planes, error)
	CreateLease(objects []uint32) (*os.File, uint32, error)
	RevokeLease(lessee uint32) error
}

// Claimer reserves hardware so that the compositor does not try to use
// it while it is leased.
type Claimer interface {
	Claim(crtc drm.CrtcHandle, planes []drm.PlaneHandle) bool
	Release(crtc drm.CrtcHandle)
}

// Connector is a lease-eligible connector and the CRTC that drives it.
type Connector struct {
	Info drm.ConnectorInfo
	Crtc drm.CrtcHandle
}

// Lease is a set of objects handed to a lessee.
type Lease struct {
	Lessee     uint32
	File       *os.File
	Connectors []drm.ConnectorHandle
	Crtcs      []drm.CrtcHandle
	Planes     []drm.PlaneHandle
}

// Objects returns the kernel object IDs in the lease.
func (l *Lease) Objects() []uint32 {
	objs := make([]uint32, 0, len(l.Connectors)+len(l.Crtcs)+len(l.Planes))
	for _, c := range l.Connectors {
		objs = append(objs, uint32(c))
	}
	for _, c := range l.Crtcs {
		objs = append(objs, uint32(c))
	}
	for _, p := range l.Planes {
		objs = append(objs, uint32(p))
	}
	return objs
}

func (l *Lease) has(c drm.ConnectorHandle) bool {
	return slices.Contains(l.Connectors, c)
}

// State is the leasing state of one device.
type State struct {
	dev     Device
	claimer Claimer

	connectors []Connector
	leases     []*Lease

	suspended bool
	disabled  bool
}

func New(dev Device, claimer Claimer) *State {
	return &State{dev: dev, claimer: claimer}
}

// AddConnector makes a connector available for leasing. Adding one that
// is already known updates its CRTC.
func (s *State) AddConnector(info drm.ConnectorInfo, crtc drm.CrtcHandle) {
	for i, c := range s.connectors {
		if c.Info.Handle == info.Handle {
			s.connectors[i] = Connector{Info: info, Crtc: crtc}
			return
		}
	}
	s.connectors = append(s.connectors, Connector{Info: info, Crtc: crtc})
	logrus.WithFields(logrus.Fields{"device": s.dev.Node(), "connector": info.Name()}).Info("lease: connector available")
}

// WithdrawConnector makes a connector unavailable, revoking any lease
// that includes it.
func (s *State) WithdrawConnector(h drm.ConnectorHandle) {
	i := slices.IndexFunc(s.connectors, func(c Connector) bool { return c.Info.Handle == h })
	if i < 0 {
		return
	}
	s.connectors = slices.Delete(s.connectors, i, i+1)

	for _, l := range s.leases {
		if l.has(h) {
			s.Release(l)
			break
		}
	}
}

// Connectors returns the connectors that can be leased.
func (s *State) Connectors() []Connector {
	return slices.Clone(s.connectors)
}

// Leasable reports whether h can be requested.
func (s *State) Leasable(h drm.ConnectorHandle) bool {
	_, ok := s.connector(h)
	return ok
}

func (s *State) connector(h drm.ConnectorHandle) (Connector, bool) {
	return xslices.Find(s.connectors, func(c Connector) bool { return c.Info.Handle == h })
}

// Request leases the given connectors, along with the CRTC and planes
// needed to drive each of them.
func (s *State) Request(handles []drm.ConnectorHandle) (*Lease, error) {
	switch {
	case s.disabled:
		return nil, ErrDisabled
	case s.suspended:
		return nil, ErrSuspended
	case len(handles) == 0:
		return nil, ErrEmpty
	}

	l := Lease{Connectors: slices.Clone(handles)}
	var claimed []drm.CrtcHandle
	fail := func(err error) (*Lease, error) {
		for _, crtc := range claimed {
			s.claimer.Release(crtc)
		}
		return nil, err
	}

	for _, h := range handles {
		c, ok := s.connector(h)
		if !ok {
			return fail(fmt.Errorf("connector %v: %w", h, ErrNotLeasable))
		}
		if slices.ContainsFunc(s.leases, func(l *Lease) bool { return l.has(h) }) {
			return fail(fmt.Errorf("connector %v: %w", c.Info.Name(), ErrInUse))
		}

		planes, err := s.dev.Planes(c.Crtc)
		if err != nil {
			return fail(fmt.Errorf("get planes: %w", err))
		}
		if len(planes.Primary) == 0 {
			return fail(fmt.Errorf("crtc %v: %w", c.Crtc, ErrNoPrimaryPlane))
		}
		lp := []drm.PlaneHandle{planes.Primary[0].Handle}
		if len(planes.Cursor) > 0 {
			lp = append(lp, planes.Cursor[0].Handle)
		}

		if !s.claimer.Claim(c.Crtc, lp) {
			return fail(fmt.Errorf("crtc %v: %w", c.Crtc, ErrInUse))
		}
		claimed = append(claimed, c.Crtc)
		l.Crtcs = append(l.Crtcs, c.Crtc)
		l.Planes = append(l.Planes, lp...)
	}

	file, lessee, err := s.dev.CreateLease(l.Objects())
	if err != nil {
		return fail(fmt.Errorf("create lease: %w", err))
	}
	l.File = file
	l.Lessee = lessee

	s.leases = append(s.leases, &l)
	logrus.WithFields(logrus.Fields{"device": s.dev.Node(), "lessee": lessee}).Info("lease: granted")
	return &l, nil
}

// Release revokes a lease and gives its hardware back to the
// compositor.
func (s *State) Release(l *Lease) {
	i := slices.Index(s.leases, l)
	if i < 0 {
		return
	}
	s.leases = slices.Delete(s.leases, i, i+1)

	err := s.dev.RevokeLease(l.Lessee)
	if err != nil {
		logrus.WithField("lessee", l.Lessee).Warnf("lease: revoke: %v", err)
	}
	if l.File != nil {
		l.File.Close()
	}
	for _, crtc := range l.Crtcs {
		s.claimer.Release(crtc)
	}
	logrus.WithFields(logrus.Fields{"device": s.dev.Node(), "lessee": l.Lessee}).Info("lease: revoked")
}

// Active returns the leases currently granted.
func (s *State) Active() []*Lease {
	return slices.Clone(s.leases)
}

func (s *State) releaseAll() {
	for len(s.leases) > 0 {
		s.Release(s.leases[0])
	}
}

// Suspend revokes every lease and rejects requests until Resume.
func (s *State) Suspend() {
	s.releaseAll()
	s.suspended = true
}

func (s *State) Resume() {
	s.suspended = false
}

func (s *State) Suspended() bool {
	return s.suspended
}

// Disable revokes every lease and forgets all connectors. The state is
// unusable afterwards.
func (s *State) Disable() {
	s.releaseAll()
	s.connectors = nil
	s.disabled = true
}
