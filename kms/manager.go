package kms

import (
	"errors"
	"fmt"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/internal/objstore"
	"github.com/hepp3n/luxo/internal/set"
	"github.com/hepp3n/luxo/internal/xslices"
	"github.com/hepp3n/luxo/output"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var (
	ErrNoPrimaryPlane = errors.New("no primary plane")
	ErrNoFormat       = errors.New("no usable color format")
	ErrCrtcInUse      = errors.New("crtc is in use")
)

// Manager owns the outputs of one device.
type Manager struct {
	card    Card
	alloc   *Allocator
	formats []format.Fourcc
	active  bool

	outputs *objstore.Store[drm.CrtcHandle, *Compositor]
	claims  map[drm.CrtcHandle][]drm.PlaneHandle
}

// NewManager returns a manager that prefers the given color formats, in
// order.
func NewManager(card Card, alloc *Allocator, formats []format.Fourcc) *Manager {
	return &Manager{
		card:    card,
		alloc:   alloc,
		formats: formats,
		active:  true,
		outputs: objstore.New[drm.CrtcHandle, *Compositor](),
		claims:  make(map[drm.CrtcHandle][]drm.PlaneHandle),
	}
}

func (m *Manager) Card() Card {
	return m.card
}

func (m *Manager) Active() bool {
	return m.active
}

// Compositor returns the compositor driving crtc.
func (m *Manager) Compositor(crtc drm.CrtcHandle) (*Compositor, bool) {
	return m.outputs.Get(crtc)
}

func (m *Manager) request() *request {
	return &request{card: m.card}
}

func (m *Manager) claimed() set.Set[drm.PlaneHandle] {
	s := set.New[drm.PlaneHandle]()
	for _, planes := range m.claims {
		for _, p := range planes {
			s.Add(p)
		}
	}
	return s
}

// InitializeOutput lights conns with crtc. Planes claimed by leases are
// not used.
func (m *Manager) InitializeOutput(crtc drm.CrtcHandle, mode drm.Mode, conns []drm.ConnectorHandle, planes drm.Planes) (output.Compositor, error) {
	if _, ok := m.claims[crtc]; ok {
		return nil, fmt.Errorf("crtc %v is leased: %w", crtc, ErrCrtcInUse)
	}
	if _, ok := m.outputs.Get(crtc); ok {
		return nil, fmt.Errorf("crtc %v: %w", crtc, ErrCrtcInUse)
	}

	claimed := m.claimed()
	free := func(p drm.PlaneInfo) bool { return !claimed.Has(p.Handle) }
	planes = drm.Planes{
		Primary: xslices.Filter(planes.Primary, free),
		Cursor:  xslices.Filter(planes.Cursor, free),
		Overlay: xslices.Filter(planes.Overlay, free),
	}
	if len(planes.Primary) == 0 {
		return nil, fmt.Errorf("crtc %v: %w", crtc, ErrNoPrimaryPlane)
	}

	f, err := m.pickFormat(planes.Primary[0].Formats)
	if err != nil {
		return nil, fmt.Errorf("crtc %v: %w", crtc, err)
	}

	c, err := newCompositor(m, crtc, mode, conns, planes, f)
	if err != nil {
		return nil, err
	}
	m.outputs.Add(crtc, c)

	logrus.WithFields(logrus.Fields{
		"device":  m.card.Node(),
		"crtc":    crtc,
		"format":  f,
		"cursor":  len(planes.Cursor) > 0,
		"overlay": len(planes.Overlay),
	}).Debug("kms: output initialized")
	return c, nil
}

// pickFormat chooses the first preferred format the allocator and the
// primary plane agree on. The opaque variant of each format is tried
// first.
func (m *Manager) pickFormat(supported format.Set) (format.Format, error) {
	for _, code := range m.formats {
		codes := []format.Fourcc{code}
		if o, ok := code.Opaque(); ok {
			codes = []format.Fourcc{o, code}
		}

		for _, c := range codes {
			f := format.Format{Code: c, Modifier: format.ModifierLinear}
			if !m.alloc.Formats().Has(f) {
				continue
			}
			if supported.Len() == 0 || supported.Has(f) || supported.Has(format.Format{Code: c, Modifier: format.ModifierInvalid}) {
				return f, nil
			}
		}
	}
	return format.Format{}, ErrNoFormat
}

func (m *Manager) remove(crtc drm.CrtcHandle) {
	m.outputs.Delete(crtc)
}

// Claim reserves crtc and planes for a lease.
func (m *Manager) Claim(crtc drm.CrtcHandle, planes []drm.PlaneHandle) bool {
	if _, ok := m.outputs.Get(crtc); ok {
		return false
	}
	if _, ok := m.claims[crtc]; ok {
		return false
	}

	claimed := m.claimed()
	if slices.ContainsFunc(planes, claimed.Has) {
		return false
	}
	m.claims[crtc] = slices.Clone(planes)
	return true
}

func (m *Manager) Release(crtc drm.CrtcHandle) {
	delete(m.claims, crtc)
}

// Pause stops all output while the session is inactive.
func (m *Manager) Pause() {
	m.active = false
	err := m.card.DropMaster()
	if err != nil {
		logrus.WithField("device", m.card.Node()).Debugf("kms: drop master: %v", err)
	}
}

// Activate resumes output. Every CRTC gets a full modeset on its next
// frame. If disable is true the whole device is reset first.
func (m *Manager) Activate(disable bool) error {
	err := m.card.SetMaster()
	if err != nil {
		logrus.WithField("device", m.card.Node()).Debugf("kms: set master: %v", err)
	}
	m.active = true

	for _, c := range m.outputs.Values() {
		c.restore()
	}

	if disable {
		return m.ResetState()
	}
	return nil
}

// ResetState turns off every CRTC, connector and plane of the device.
// Outputs modeset again on their next frame.
func (m *Manager) ResetState() error {
	if !m.active {
		return drm.ErrDeviceInactive
	}

	res, err := m.card.Resources()
	if err != nil {
		return fmt.Errorf("get resources: %w", err)
	}

	req := m.request()
	for _, conn := range res.Connectors {
		req.connector(conn, 0)
	}

	seen := set.New[drm.PlaneHandle]()
	for _, crtc := range res.Crtcs {
		req.crtc(crtc, false, 0)

		planes, err := m.card.Planes(crtc)
		if err != nil {
			return fmt.Errorf("get planes of crtc %v: %w", crtc, err)
		}
		for _, p := range planes.All() {
			if !seen.Has(p.Handle) {
				seen.Add(p.Handle)
				req.disablePlane(p.Handle)
			}
		}
	}

	err = req.commit(drm.AtomicAllowModeset, 0)
	if err != nil {
		return fmt.Errorf("reset device state: %w", err)
	}

	for _, c := range m.outputs.Values() {
		c.restore()
	}
	logrus.WithField("device", m.card.Node()).Info("kms: device state reset")
	return nil
}
