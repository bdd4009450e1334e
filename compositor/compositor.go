// Package compositor ties the device registry, the frame scheduler and
// the rendering pipeline together into the state that every event loop
// callback operates on.
package compositor

import (
	"time"

	"github.com/hepp3n/luxo/assemble"
	"github.com/hepp3n/luxo/cursor"
	"github.com/hepp3n/luxo/device"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/feedback"
	"github.com/hepp3n/luxo/internal/debug"
	"github.com/hepp3n/luxo/internal/monotonic"
	"github.com/hepp3n/luxo/output"
	"github.com/hepp3n/luxo/pointer"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/scanner"
	"github.com/hepp3n/luxo/schedule"
	"github.com/hepp3n/luxo/session"
	"github.com/hepp3n/luxo/space"
	"github.com/hepp3n/luxo/udev"
	"github.com/sirupsen/logrus"
)

// Loop is the event loop the state runs on. *loop.Loop implements it.
type Loop interface {
	schedule.Timers
	device.Sources
}

type Config struct {
	Loop    Loop
	Clock   monotonic.Clock
	Session session.Session
	Backend device.Backend
	Space   space.Space
	Theme   *cursor.Theme

	// Primary is the device that composites. The first device added is
	// used if it is zero.
	Primary drm.Node

	Quirks               scanner.Quirks
	DisableDirectScanout bool

	// Fatal is called with errors that the compositor cannot recover
	// from. It defaults to logging the error and exiting.
	Fatal func(error)
}

// State is the compositor. It must only be used from the event loop.
type State struct {
	cfg Config

	pool     *render.Pool
	pointer  *pointer.State
	devices  *device.Registry
	sched    *schedule.Scheduler
	assemble *assemble.Assembler
	dispatch *feedback.Dispatcher
}

func New(cfg Config) *State {
	if cfg.Clock == nil {
		cfg.Clock = monotonic.System{}
	}
	if cfg.Fatal == nil {
		cfg.Fatal = func(err error) { logrus.Fatalf("compositor: %v", err) }
	}

	s := State{
		cfg:      cfg,
		pool:     render.NewPool(),
		pointer:  pointer.NewState(),
		assemble: assemble.New(cfg.Theme),
	}
	s.dispatch = feedback.NewDispatcher(cfg.Space, s.pointer)

	s.sched = schedule.New(schedule.Config{
		Timers: cfg.Loop,
		Clock:  cfg.Clock,
		Render: s.render,
		Reset:  func(id drm.OutputID) error { return s.devices.ResetState(id.Device) },
		Fatal:  cfg.Fatal,
	})

	s.devices = device.NewRegistry(device.Config{
		Session:              cfg.Session,
		Backend:              cfg.Backend,
		Sources:              cfg.Loop,
		Pool:                 s.pool,
		Space:                cfg.Space,
		Primary:              cfg.Primary,
		Quirks:               cfg.Quirks,
		DisableDirectScanout: cfg.DisableDirectScanout,
		SurfaceAdded:         func(o *output.Surface) { s.sched.Now(o.ID()) },
		SurfaceRemoved:       s.sched.Cancel,
		VBlank:               s.OnFrameSubmitted,
	})

	return &s
}

func (s *State) Devices() *device.Registry      { return s.devices }
func (s *State) Scheduler() *schedule.Scheduler { return s.sched }
func (s *State) Pointer() *pointer.State        { return s.pointer }
func (s *State) Pool() *render.Pool             { return s.pool }

// AddDevices registers the devices found at startup. Devices that fail
// to initialize are logged and skipped.
func (s *State) AddDevices(devs []udev.Device) {
	for _, dev := range devs {
		s.addDevice(dev.Node, dev.Path)
	}
}

func (s *State) addDevice(node drm.Node, path string) {
	err := s.devices.AddDevice(node, path)
	if err != nil {
		logrus.WithField("device", node).Errorf("compositor: skipping device: %v", err)
	}
}

// HandleDevice applies a hotplug event.
func (s *State) HandleDevice(ev udev.Event) {
	debug.Printf("compositor: udev %v %v", ev.Action, ev.Path)

	switch ev.Action {
	case udev.Added:
		s.addDevice(ev.Node, ev.Path)
	case udev.Changed:
		s.devices.ChangeDevice(ev.Node)
	case udev.Removed:
		s.devices.RemoveDevice(ev.Node)
	}
}

// HandleSession pauses or resumes all output.
func (s *State) HandleSession(ev session.Event) {
	logrus.WithField("event", ev).Info("compositor: session")

	switch ev {
	case session.Pause:
		s.sched.Pause()
		s.devices.Pause()
	case session.Activate:
		ids := s.devices.Activate()
		s.sched.Resume(ids)
	}
}

// ResetBuffers makes the next frame of id a full repaint, for example
// after a window left fullscreen.
func (s *State) ResetBuffers(id drm.OutputID) {
	s.devices.ResetBuffers(id)
}

func (s *State) crossGPU(surf *output.Surface) bool {
	primary := s.devices.PrimaryRenderNode()
	return !primary.IsZero() && primary != surf.RenderNode()
}

// OnFrameSubmitted handles the completion of a page flip on id. It
// resolves the presentation feedback of the frame and schedules the
// next repaint.
func (s *State) OnFrameSubmitted(id drm.OutputID, meta *drm.EventMetadata) {
	surf, ok := s.devices.Lookup(id)
	if !ok {
		return
	}
	if _, ok := space.FindOutput(s.cfg.Space, id); !ok {
		return
	}

	clock, flags := feedback.Timing(meta, s.cfg.Clock.Now())
	frame := surf.Mode().FrameDuration()

	fb, err := surf.FrameSubmitted()
	if err == nil && fb != nil {
		var seq uint64
		if meta != nil {
			seq = uint64(meta.Sequence)
		}
		fb.Presented(clock, frame, seq, flags)
	}

	s.sched.Completed(id, schedule.Completion{
		Err:      err,
		Time:     clock,
		Frame:    frame,
		CrossGPU: s.crossGPU(surf),
	})
}

func (s *State) render(id drm.OutputID, target time.Duration) {
	surf, ok := s.devices.Lookup(id)
	if !ok {
		logrus.WithField("output", id).Error("compositor: render on missing output")
		return
	}
	o, ok := space.FindOutput(s.cfg.Space, id)
	if !ok {
		return
	}

	s.dispatch.PreRepaint(o, target)

	primary := s.devices.PrimaryRenderNode()
	if primary.IsZero() {
		primary = surf.RenderNode()
	}

	start := time.Now()
	var rendered bool
	var states render.States
	err := s.pool.Borrow(primary, surf.RenderNode(), surf.Format(), func(r render.Renderer, path render.Path) error {
		elems, bg := s.assemble.Elements(s.cfg.Space, o, s.pointer)
		take := func(states render.States) *feedback.OutputFeedback {
			return s.dispatch.Take(o, states)
		}

		var err error
		rendered, states, err = surf.Render(r, elems, bg, take)
		debug.Printf("compositor: %v: %v elements via %v", id, len(elems), path)
		return err
	})
	if err == nil {
		s.dispatch.PostRepaint(o, target, surf.Feedback(), states)
		if rendered {
			debug.Printf("compositor: %v: rendered in %v", id, time.Since(start))
		}
	}

	s.sched.Rendered(id, target, rendered, err, surf.Mode().FrameDuration())
}

// Close removes every device and releases rendering resources.
func (s *State) Close() {
	for _, node := range s.devices.Devices() {
		s.devices.RemoveDevice(node)
	}
	s.pool.Close()
}
