package device_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/hepp3n/luxo/device"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/drm/drmtest"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/loop"
	"github.com/hepp3n/luxo/output"
	"github.com/hepp3n/luxo/output/outputtest"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/scanner"
	"github.com/hepp3n/luxo/space"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeSession struct {
	fail   error
	opened []string
}

func (s *fakeSession) Open(path string) (*os.File, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	fd, err := unix.Open(os.DevNull, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	s.opened = append(s.opened, path)
	return os.NewFile(uintptr(fd), path), nil
}

func (s *fakeSession) Close(f *os.File) error { return f.Close() }
func (s *fakeSession) Seat() string           { return "seat0" }
func (s *fakeSession) Active() bool           { return true }

type fakeCard struct {
	*drmtest.Device
	file   *os.File
	closed bool
}

func (c *fakeCard) ReadEvents(ctx context.Context, handle func(drm.Event)) {}

func (c *fakeCard) Close() error {
	c.closed = true
	return c.file.Close()
}

type fakeManager struct {
	*outputtest.Manager
	claims    map[drm.CrtcHandle][]drm.PlaneHandle
	paused    bool
	activated int
	resets    int
}

func (m *fakeManager) Claim(crtc drm.CrtcHandle, planes []drm.PlaneHandle) bool {
	if c, ok := m.Compositors[crtc]; ok && !c.Closed {
		return false
	}
	m.claims[crtc] = planes
	return true
}

func (m *fakeManager) Release(crtc drm.CrtcHandle) { delete(m.claims, crtc) }
func (m *fakeManager) Pause()                      { m.paused = true }

func (m *fakeManager) Activate(disable bool) error {
	m.paused = false
	m.activated++
	return nil
}

func (m *fakeManager) ResetState() error {
	m.resets++
	return nil
}

type fakeBackend struct {
	devices  map[string]*drmtest.Device
	cards    map[drm.Node]*fakeCard
	managers map[drm.Node]*fakeManager

	failCard, failManager, failRenderer error
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		devices:  make(map[string]*drmtest.Device),
		cards:    make(map[drm.Node]*fakeCard),
		managers: make(map[drm.Node]*fakeManager),
	}
}

func (b *fakeBackend) OpenCard(file *os.File) (device.Card, error) {
	if b.failCard != nil {
		return nil, b.failCard
	}
	dev, ok := b.devices[file.Name()]
	if !ok {
		return nil, errors.New("no such device")
	}
	c := &fakeCard{Device: dev, file: file}
	b.cards[dev.Node()] = c
	return c, nil
}

func (b *fakeBackend) NewOutputManager(card device.Card) (device.OutputManager, error) {
	if b.failManager != nil {
		return nil, b.failManager
	}
	m := &fakeManager{Manager: outputtest.NewManager(), claims: make(map[drm.CrtcHandle][]drm.PlaneHandle)}
	b.managers[card.Node()] = m
	return m, nil
}

func (b *fakeBackend) Renderer(card device.Card) (render.Renderer, error) {
	if b.failRenderer != nil {
		return nil, b.failRenderer
	}
	formats := format.With([]format.Fourcc{format.Argb8888, format.Xrgb8888}, format.ModifierLinear)
	return render.NewSoftware(card.Node().Sibling(drm.NodeRender), formats), nil
}

type token struct{ cancelled *bool }

func (t token) Cancel() { *t.cancelled = true }

type fakeSources struct {
	names     []string
	cancelled map[string]*bool
}

func (s *fakeSources) Source(name string, fn func(context.Context, func(func() error))) loop.Token {
	s.names = append(s.names, name)
	c := new(bool)
	s.cancelled[name] = c
	return token{c}
}

type harness struct {
	session *fakeSession
	backend *fakeBackend
	sources *fakeSources
	pool    *render.Pool
	space   *space.Tiling
	reg     *device.Registry

	added   []drm.OutputID
	removed []drm.OutputID
}

func newHarness(quirks scanner.Quirks) *harness {
	h := harness{
		session: &fakeSession{},
		backend: newBackend(),
		sources: &fakeSources{cancelled: make(map[string]*bool)},
		pool:    render.NewPool(),
		space:   space.NewTiling(),
	}
	h.reg = device.NewRegistry(device.Config{
		Session:        h.session,
		Backend:        h.backend,
		Sources:        h.sources,
		Pool:           h.pool,
		Space:          h.space,
		Quirks:         quirks,
		SurfaceAdded:   func(s *output.Surface) { h.added = append(h.added, s.ID()) },
		SurfaceRemoved: func(id drm.OutputID) { h.removed = append(h.removed, id) },
	})
	return &h
}

func (h *harness) device(minor uint32, crtcs ...drm.CrtcHandle) (*drmtest.Device, string) {
	dev := drmtest.NewDevice(minor)
	for _, c := range crtcs {
		dev.AddCrtc(c)
	}
	path := dev.Node().Path()
	h.backend.devices[path] = dev
	return dev, path
}

// connectedDesktop counts connected, non-leased, CRTC-bound desktop
// connectors of the registered devices.
func (h *harness) connectedDesktop() int {
	var n int
	for _, node := range h.reg.Devices() {
		dev := h.backend.cards[node].Device
		connected := 0
		for _, c := range dev.Connectors {
			if c.State == drm.Connected && !dev.NonDesk[c.Handle] {
				connected++
			}
		}
		n += min(connected, len(dev.Crtcs))
	}
	return n
}

func TestAddDevice(t *testing.T) {
	h := newHarness(nil)
	dev, path := h.device(0, 40, 41)
	dev.Plug(1, 11)

	require.NoError(t, h.reg.AddDevice(dev.Node(), path))
	assert.Equal(t, []string{path}, h.session.opened)
	assert.Equal(t, []string{"card0"}, h.sources.names)
	assert.Equal(t, dev.Node(), h.reg.Primary())
	assert.Equal(t, dev.Node().Sibling(drm.NodeRender), h.reg.PrimaryRenderNode())

	id := drm.OutputID{Device: dev.Node(), Crtc: 40}
	assert.Equal(t, []drm.OutputID{id}, h.added)
	s, ok := h.reg.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, output.StateActive, s.State())
	assert.NotNil(t, s.Feedback())

	o, ok := space.FindOutput(h.space, id)
	require.True(t, ok)
	assert.Equal(t, "HDMI-A-1", o.Name)
	assert.Equal(t, "Unknown", o.Make)
}

func TestAddDeviceTwice(t *testing.T) {
	h := newHarness(nil)
	dev, path := h.device(0, 40)
	dev.Plug(1, 11)
	require.NoError(t, h.reg.AddDevice(dev.Node(), path))

	err := h.reg.AddDevice(dev.Node(), path)
	assert.ErrorIs(t, err, device.ErrExists)
	assert.Len(t, h.session.opened, 1)
	assert.Len(t, h.added, 1)
	assert.Len(t, h.reg.Surfaces(), 1)
}

func TestAddDeviceErrors(t *testing.T) {
	cause := errors.New("cause")

	t.Run("Open", func(t *testing.T) {
		h := newHarness(nil)
		dev, path := h.device(0, 40)
		h.session.fail = cause
		err := h.reg.AddDevice(dev.Node(), path)
		var target *device.DeviceOpenError
		require.ErrorAs(t, err, &target)
		assert.ErrorIs(t, err, cause)
		assert.Empty(t, h.reg.Devices())
	})

	t.Run("DRM", func(t *testing.T) {
		h := newHarness(nil)
		dev, path := h.device(0, 40)
		h.backend.failCard = cause
		err := h.reg.AddDevice(dev.Node(), path)
		var target *device.DrmInitError
		require.ErrorAs(t, err, &target)
		assert.Empty(t, h.sources.names)
	})

	t.Run("Allocator", func(t *testing.T) {
		h := newHarness(nil)
		dev, path := h.device(0, 40)
		h.backend.failManager = cause
		err := h.reg.AddDevice(dev.Node(), path)
		var target *device.AllocatorInitError
		require.ErrorAs(t, err, &target)
		assert.True(t, *h.sources.cancelled["card0"])
		assert.True(t, h.backend.cards[dev.Node()].closed)
	})

	t.Run("RenderNode", func(t *testing.T) {
		h := newHarness(nil)
		dev, path := h.device(0, 40)
		h.backend.failRenderer = cause
		err := h.reg.AddDevice(dev.Node(), path)
		var target *device.RenderNodeBindError
		require.ErrorAs(t, err, &target)
		assert.Empty(t, h.pool.Nodes())
		assert.Empty(t, h.reg.Devices())
	})

	t.Run("DuplicateRenderNode", func(t *testing.T) {
		h := newHarness(nil)
		dev, path := h.device(0, 40)
		require.NoError(t, h.pool.Add(render.NewSoftware(dev.Node().Sibling(drm.NodeRender), nil)))
		err := h.reg.AddDevice(dev.Node(), path)
		var target *device.RenderNodeBindError
		require.ErrorAs(t, err, &target)
		assert.ErrorIs(t, err, render.ErrDuplicate)
	})
}

func TestDesktopAndNonDesktop(t *testing.T) {
	h := newHarness(nil)
	dev, path := h.device(0, 40, 41)
	dev.Plug(1, 11)
	dev.Plug(2, 11)
	dev.NonDesk[2] = true

	require.NoError(t, h.reg.AddDevice(dev.Node(), path))
	assert.Len(t, h.reg.Surfaces(), 1)
	assert.Len(t, h.space.Outputs(), 1)

	leases, ok := h.reg.Leases(dev.Node())
	require.True(t, ok)
	conns := leases.Connectors()
	require.Len(t, conns, 1)
	assert.Equal(t, drm.ConnectorHandle(2), conns[0].Info.Handle)
	assert.Equal(t, drm.CrtcHandle(41), conns[0].Crtc)

	l, err := leases.Request([]drm.ConnectorHandle{2})
	require.NoError(t, err)
	assert.Contains(t, h.backend.managers[dev.Node()].claims, drm.CrtcHandle(41))

	dev.Unplug(2)
	h.reg.ChangeDevice(dev.Node())
	assert.Empty(t, leases.Connectors())
	assert.Equal(t, []uint32{l.Lessee}, dev.Revoked)
	assert.Len(t, h.reg.Surfaces(), 1)
}

func TestNvidiaPlanes(t *testing.T) {
	h := newHarness(scanner.DefaultQuirks())
	dev, path := h.device(0, 40)
	dev.Drv = drm.Driver{Name: "nvidia-drm", Description: "NVIDIA DRM driver"}
	planes := dev.PlaneSets[40]
	planes.Overlay = []drm.PlaneInfo{{Handle: 301}, {Handle: 302}, {Handle: 303}}
	dev.PlaneSets[40] = planes
	dev.Plug(1, 11)

	require.NoError(t, h.reg.AddDevice(dev.Node(), path))
	comp := h.backend.managers[dev.Node()].Compositors[40]
	require.NotNil(t, comp)

	var claimed []drm.PlaneHandle
	for _, p := range comp.PlaneSet.All() {
		claimed = append(claimed, p.Handle)
	}
	assert.Equal(t, []drm.PlaneHandle{140, 240}, claimed)
	assert.Empty(t, comp.PlaneSet.Overlay)
}

func TestOverlaysKeptWithoutQuirk(t *testing.T) {
	h := newHarness(scanner.DefaultQuirks())
	dev, path := h.device(0, 40)
	planes := dev.PlaneSets[40]
	planes.Overlay = []drm.PlaneInfo{{Handle: 301}}
	dev.PlaneSets[40] = planes
	dev.Plug(1, 11)

	require.NoError(t, h.reg.AddDevice(dev.Node(), path))
	assert.Len(t, h.backend.managers[dev.Node()].Compositors[40].PlaneSet.Overlay, 1)
}

func TestHotplugSequence(t *testing.T) {
	h := newHarness(nil)
	dev0, path0 := h.device(0, 40, 41)
	dev1, path1 := h.device(1, 50)

	check := func() {
		t.Helper()
		assert.Equal(t, h.connectedDesktop(), len(h.reg.Surfaces()))
		assert.Equal(t, len(h.reg.Surfaces()), len(h.space.Outputs()))
	}

	require.NoError(t, h.reg.AddDevice(dev0.Node(), path0))
	check()

	dev0.Plug(1, 11)
	h.reg.ChangeDevice(dev0.Node())
	check()

	dev0.Plug(2, 10)
	dev0.Plug(3, 10)
	h.reg.ChangeDevice(dev0.Node())
	check()

	dev1.Plug(7, 14)
	require.NoError(t, h.reg.AddDevice(dev1.Node(), path1))
	check()
	assert.Len(t, h.reg.Surfaces(), 3)

	dev0.Unplug(1)
	h.reg.ChangeDevice(dev0.Node())
	check()

	h.reg.ChangeDevice(dev0.Node())
	check()

	h.reg.RemoveDevice(dev0.Node())
	check()
	assert.Len(t, h.reg.Surfaces(), 1)
	assert.Equal(t, dev1.Node(), h.reg.Primary())

	h.reg.RemoveDevice(dev1.Node())
	check()
	assert.Empty(t, h.reg.Surfaces())
	assert.Equal(t, len(h.added), len(h.removed))
}

func TestRemoveDevice(t *testing.T) {
	h := newHarness(nil)
	dev, path := h.device(0, 40, 41)
	dev.Plug(1, 11)
	dev.Plug(2, 11)
	dev.NonDesk[2] = true
	require.NoError(t, h.reg.AddDevice(dev.Node(), path))

	leases, _ := h.reg.Leases(dev.Node())
	_, err := leases.Request([]drm.ConnectorHandle{2})
	require.NoError(t, err)

	h.reg.RemoveDevice(dev.Node())
	id := drm.OutputID{Device: dev.Node(), Crtc: 40}
	assert.Equal(t, []drm.OutputID{id}, h.removed)
	assert.True(t, h.backend.managers[dev.Node()].Compositors[40].Closed)
	assert.Len(t, dev.Revoked, 1)
	assert.Empty(t, h.pool.Nodes())
	assert.True(t, *h.sources.cancelled["card0"])
	assert.True(t, h.backend.cards[dev.Node()].closed)
	assert.Empty(t, h.space.Outputs())

	_, ok := h.reg.Lookup(id)
	assert.False(t, ok)
	_, err = leases.Request([]drm.ConnectorHandle{2})
	assert.Error(t, err)
}

func TestPauseActivate(t *testing.T) {
	h := newHarness(nil)
	dev, path := h.device(0, 40, 41)
	dev.Plug(1, 11)
	dev.Plug(2, 11)
	require.NoError(t, h.reg.AddDevice(dev.Node(), path))

	h.reg.Pause()
	m := h.backend.managers[dev.Node()]
	assert.True(t, m.paused)
	leases, _ := h.reg.Leases(dev.Node())
	assert.True(t, leases.Suspended())

	ids := h.reg.Activate()
	assert.False(t, m.paused)
	assert.False(t, leases.Suspended())
	assert.ElementsMatch(t, []drm.OutputID{
		{Device: dev.Node(), Crtc: 40},
		{Device: dev.Node(), Crtc: 41},
	}, ids)

	require.NoError(t, h.reg.ResetState(dev.Node()))
	assert.Equal(t, 1, m.resets)
}

func TestResetBuffers(t *testing.T) {
	h := newHarness(nil)
	dev, path := h.device(0, 40)
	dev.Plug(1, 11)
	require.NoError(t, h.reg.AddDevice(dev.Node(), path))

	h.reg.ResetBuffers(drm.OutputID{Device: dev.Node(), Crtc: 40})
	h.reg.ResetBuffers(drm.OutputID{Device: dev.Node(), Crtc: 99})
	assert.Equal(t, 1, h.backend.managers[dev.Node()].Compositors[40].Resets)
}

func TestCrossGPUFeedback(t *testing.T) {
	h := newHarness(nil)
	dev0, path0 := h.device(0, 40)
	dev1, path1 := h.device(1, 50)
	dev1.Plug(1, 11)

	require.NoError(t, h.reg.AddDevice(dev0.Node(), path0))
	require.NoError(t, h.reg.AddDevice(dev1.Node(), path1))

	s, ok := h.reg.Lookup(drm.OutputID{Device: dev1.Node(), Crtc: 50})
	require.True(t, ok)
	assert.Equal(t, dev1.Node().Sibling(drm.NodeRender), s.RenderNode())
	assert.NotEqual(t, h.reg.PrimaryRenderNode(), s.RenderNode())

	fb := s.Feedback()
	require.NotNil(t, fb)
	assert.Equal(t, dev0.Node().Sibling(drm.NodeRender).DevID(), fb.Render.MainDevice)
}
