package compositor_test

import (
	"context"
	"errors"
	"image"
	"os"
	"testing"
	"time"

	"github.com/hepp3n/luxo/compositor"
	"github.com/hepp3n/luxo/cursor"
	"github.com/hepp3n/luxo/device"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/drm/drmtest"
	"github.com/hepp3n/luxo/feedback"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/internal/monotonic"
	"github.com/hepp3n/luxo/loop"
	"github.com/hepp3n/luxo/output/outputtest"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/schedule"
	"github.com/hepp3n/luxo/session"
	"github.com/hepp3n/luxo/space"
	"github.com/hepp3n/luxo/space/spacetest"
	"github.com/hepp3n/luxo/udev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type timer struct {
	immediate bool
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (t *timer) Cancel() { t.cancelled = true }

type fakeLoop struct {
	timers  []*timer
	sources int
}

func (l *fakeLoop) Idle(fn func()) loop.Token {
	t := &timer{immediate: true, fn: fn}
	l.timers = append(l.timers, t)
	return t
}

func (l *fakeLoop) After(d time.Duration, fn func()) loop.Token {
	t := &timer{delay: d, fn: fn}
	l.timers = append(l.timers, t)
	return t
}

func (l *fakeLoop) Source(name string, fn func(context.Context, func(func() error))) loop.Token {
	l.sources++
	return &timer{}
}

func (l *fakeLoop) fire() {
	timers := l.timers
	l.timers = nil
	for _, t := range timers {
		if !t.cancelled {
			t.fn()
		}
	}
}

type fakeSession struct{}

func (fakeSession) Open(path string) (*os.File, error) {
	fd, err := unix.Open(os.DevNull, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

func (fakeSession) Close(f *os.File) error { return f.Close() }
func (fakeSession) Seat() string           { return "seat0" }
func (fakeSession) Active() bool           { return true }

type fakeCard struct {
	*drmtest.Device
	file *os.File
}

func (c *fakeCard) ReadEvents(ctx context.Context, handle func(drm.Event)) {}
func (c *fakeCard) Close() error                                           { return c.file.Close() }

type fakeManager struct {
	*outputtest.Manager
	paused bool
	resets int
}

func (m *fakeManager) Claim(drm.CrtcHandle, []drm.PlaneHandle) bool { return true }
func (m *fakeManager) Release(drm.CrtcHandle)                       {}
func (m *fakeManager) Pause()                                       { m.paused = true }

func (m *fakeManager) Activate(bool) error {
	m.paused = false
	return nil
}

func (m *fakeManager) ResetState() error {
	m.resets++
	return nil
}

type fakeBackend struct {
	devices  map[string]*drmtest.Device
	managers map[drm.Node]*fakeManager
}

func (b *fakeBackend) OpenCard(file *os.File) (device.Card, error) {
	dev, ok := b.devices[file.Name()]
	if !ok {
		return nil, errors.New("no such device")
	}
	return &fakeCard{Device: dev, file: file}, nil
}

func (b *fakeBackend) NewOutputManager(card device.Card) (device.OutputManager, error) {
	m := &fakeManager{Manager: outputtest.NewManager()}
	b.managers[card.Node()] = m
	return m, nil
}

func (b *fakeBackend) Renderer(card device.Card) (render.Renderer, error) {
	formats := format.With([]format.Fourcc{format.Argb8888, format.Xrgb8888}, format.ModifierLinear)
	return render.NewSoftware(card.Node().Sibling(drm.NodeRender), formats), nil
}

type harness struct {
	loop    *fakeLoop
	clock   *monotonic.Manual
	backend *fakeBackend
	space   *space.Tiling
	fatal   []error
	state   *compositor.State
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := harness{
		loop:  &fakeLoop{},
		clock: &monotonic.Manual{T: time.Second},
		backend: &fakeBackend{
			devices:  make(map[string]*drmtest.Device),
			managers: make(map[drm.Node]*fakeManager),
		},
		space: space.NewTiling(),
	}
	theme := cursor.NewTheme(24, func(string, int) (image.Image, image.Point, bool) {
		return nil, image.Point{}, false
	})
	h.state = compositor.New(compositor.Config{
		Loop:    h.loop,
		Clock:   h.clock,
		Session: fakeSession{},
		Backend: h.backend,
		Space:   h.space,
		Theme:   theme,
		Fatal:   func(err error) { h.fatal = append(h.fatal, err) },
	})
	t.Cleanup(h.state.Close)
	return &h
}

// plug adds a device with one connected output on CRTC 40.
func (h *harness) plug(minor uint32) (udev.Device, drm.OutputID) {
	dev := drmtest.NewDevice(minor)
	dev.AddCrtc(40)
	dev.Plug(1, 11)
	path := dev.Node().Path()
	h.backend.devices[path] = dev
	return udev.Device{Node: dev.Node(), Path: path}, drm.OutputID{Device: dev.Node(), Crtc: 40}
}

func (h *harness) comp(id drm.OutputID) *outputtest.Compositor {
	return h.backend.managers[id.Device].Compositors[id.Crtc]
}

var frame = drmtest.Mode60.FrameDuration()

func TestFrameCycle(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)
	h.state.AddDevices([]udev.Device{dev})

	require.Len(t, h.state.Devices().Surfaces(), 1)
	assert.Equal(t, 1, h.loop.sources)
	assert.Equal(t, schedule.PendingImmediate, h.state.Scheduler().Pending(id).Kind)

	w := spacetest.NewWindow(1, image.Pt(100, 100))
	var p spacetest.Presentation
	w.Surface.Pending = []feedback.Presentation{&p}
	h.space.MapWindow(w, image.Pt(10, 10))

	h.loop.fire()
	c := h.comp(id)
	assert.Equal(t, 1, c.Rendered)
	assert.Equal(t, 1, c.Queued)
	assert.True(t, c.Pending())
	assert.Equal(t, schedule.Idle, h.state.Scheduler().Pending(id).Kind)
	assert.Len(t, w.Surface.Frames, 1)

	meta := drm.EventMetadata{Sequence: 7, Time: 2 * time.Second, Monotonic: true}
	h.state.OnFrameSubmitted(id, &meta)
	assert.True(t, p.Done)
	assert.Equal(t, 2*time.Second, p.Clock)
	assert.Equal(t, uint64(7), p.Seq)
	assert.Equal(t, feedback.KindVsync|feedback.KindHwClock|feedback.KindHwCompletion, p.Flags)

	pending := h.state.Scheduler().Pending(id)
	assert.Equal(t, schedule.Pending{Kind: schedule.PendingDelayed, Target: 2*time.Second + frame}, pending)
	require.Len(t, h.loop.timers, 1)
	assert.Equal(t, time.Duration(float64(frame)*schedule.RepaintDelay), h.loop.timers[0].delay)

	// A second completion for the same flip is already handled and only
	// leads to the regular schedule.
	h.state.OnFrameSubmitted(id, &meta)
	assert.Equal(t, schedule.PendingDelayed, h.state.Scheduler().Pending(id).Kind)
	assert.Empty(t, h.fatal)

	// Frame callbacks carry the targeted presentation time, not the
	// time the repaint happened to run.
	h.clock.Advance(time.Duration(float64(frame) * schedule.RepaintDelay))
	h.loop.fire()
	require.Len(t, w.Surface.Frames, 2)
	assert.Equal(t, time.Second, w.Surface.Frames[0])
	assert.Equal(t, 2*time.Second+frame, w.Surface.Frames[1])
}

func TestNoDamage(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)
	h.state.AddDevices([]udev.Device{dev})
	h.comp(id).Empty = true

	h.loop.fire()
	assert.Zero(t, h.comp(id).Queued)

	require.Len(t, h.loop.timers, 1)
	assert.False(t, h.loop.timers[0].immediate)
	assert.Equal(t, frame, h.loop.timers[0].delay)
	assert.Equal(t, time.Second+frame, h.state.Scheduler().Pending(id).Target)
}

func TestSessionPauseResume(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)
	h.state.AddDevices([]udev.Device{dev})

	h.state.HandleSession(session.Pause)
	assert.True(t, h.backend.managers[id.Device].paused)
	assert.Equal(t, schedule.Idle, h.state.Scheduler().Pending(id).Kind)

	h.loop.fire()
	assert.Zero(t, h.comp(id).Rendered)

	h.state.HandleSession(session.Activate)
	assert.False(t, h.backend.managers[id.Device].paused)
	assert.Equal(t, schedule.PendingImmediate, h.state.Scheduler().Pending(id).Kind)

	h.loop.fire()
	assert.Equal(t, 1, h.comp(id).Rendered)
}

func TestTestFailedResetsDevice(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)
	h.state.AddDevices([]udev.Device{dev})
	h.comp(id).QueueErr = &drm.TestFailedError{Crtc: 40, Err: unix.EINVAL}

	h.loop.fire()
	assert.Equal(t, 1, h.backend.managers[id.Device].resets)
	assert.Equal(t, schedule.PendingDelayed, h.state.Scheduler().Pending(id).Kind)
	assert.Empty(t, h.fatal)
}

func TestContextLostIsFatal(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)
	h.state.AddDevices([]udev.Device{dev})
	h.comp(id).RenderErr = &drm.ContextLostError{Err: unix.ENODEV}

	h.loop.fire()
	require.Len(t, h.fatal, 1)
	assert.ErrorIs(t, h.fatal[0], unix.ENODEV)
}

func TestDeviceLossIsFatal(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)
	h.state.AddDevices([]udev.Device{dev})
	h.comp(id).QueueErr = &drm.AccessError{Op: "atomic commit", Dev: "card0", Err: unix.ENODEV}

	h.loop.fire()
	require.Len(t, h.fatal, 1)
	assert.ErrorIs(t, h.fatal[0], unix.ENODEV)
	assert.Equal(t, schedule.Idle, h.state.Scheduler().Pending(id).Kind)
}

func TestHotplug(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)

	h.state.HandleDevice(udev.Event{Action: udev.Added, Node: dev.Node, Path: dev.Path})
	require.Len(t, h.state.Devices().Surfaces(), 1)
	_, ok := space.FindOutput(h.space, id)
	assert.True(t, ok)

	h.backend.devices[dev.Path].Unplug(1)
	h.state.HandleDevice(udev.Event{Action: udev.Changed, Node: dev.Node, Path: dev.Path})
	assert.Empty(t, h.state.Devices().Surfaces())
	assert.Equal(t, schedule.Idle, h.state.Scheduler().Pending(id).Kind)

	h.backend.devices[dev.Path].Plug(1, 11)
	h.state.HandleDevice(udev.Event{Action: udev.Changed, Node: dev.Node, Path: dev.Path})
	require.Len(t, h.state.Devices().Surfaces(), 1)

	h.state.HandleDevice(udev.Event{Action: udev.Removed, Node: dev.Node, Path: dev.Path})
	assert.Empty(t, h.state.Devices().Surfaces())
	assert.Empty(t, h.state.Devices().Devices())
	_, ok = space.FindOutput(h.space, id)
	assert.False(t, ok)

	h.loop.fire()
	assert.Empty(t, h.fatal)
}

func TestCrossGPU(t *testing.T) {
	h := newHarness(t)
	dev0, id0 := h.plug(0)
	dev1, id1 := h.plug(1)
	h.state.AddDevices([]udev.Device{dev0, dev1})

	h.loop.fire()
	require.NotNil(t, h.comp(id1).Renderer)
	assert.Equal(t, dev1.Node.Sibling(drm.NodeRender), h.comp(id1).Renderer.Node())

	meta := drm.EventMetadata{Time: 2 * time.Second, Monotonic: true}
	h.state.OnFrameSubmitted(id0, &meta)
	h.state.OnFrameSubmitted(id1, &meta)
	assert.Equal(t, schedule.PendingDelayed, h.state.Scheduler().Pending(id0).Kind)
	assert.Equal(t, schedule.PendingImmediate, h.state.Scheduler().Pending(id1).Kind)
}

func TestResetBuffers(t *testing.T) {
	h := newHarness(t)
	dev, id := h.plug(0)
	h.state.AddDevices([]udev.Device{dev})

	h.state.ResetBuffers(id)
	assert.Equal(t, 1, h.comp(id).Resets)
}
