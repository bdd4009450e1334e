// Package device keeps track of the GPUs in the system and the outputs
// lit by each of them.
package device

import (
	"context"
	"fmt"
	"os"

	"github.com/hepp3n/luxo/dmabuf"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/internal/objstore"
	"github.com/hepp3n/luxo/lease"
	"github.com/hepp3n/luxo/loop"
	"github.com/hepp3n/luxo/output"
	"github.com/hepp3n/luxo/render"
	"github.com/hepp3n/luxo/scanner"
	"github.com/hepp3n/luxo/session"
	"github.com/hepp3n/luxo/space"
	"github.com/sirupsen/logrus"
)

// Card is an opened mode-setting device.
type Card interface {
	drm.Device
	CreateLease(objects []uint32) (*os.File, uint32, error)
	RevokeLease(lessee uint32) error

	// ReadEvents delivers kernel events until ctx is done or the card is
	// closed.
	ReadEvents(ctx context.Context, handle func(drm.Event))

	Close() error
}

// OutputManager lights outputs on a device.
type OutputManager interface {
	output.Manager
	lease.Claimer

	Pause()
	Activate(disableConnectors bool) error
	ResetState() error
}

// Backend performs the hardware specific steps of adding a device.
type Backend interface {
	OpenCard(*os.File) (Card, error)
	NewOutputManager(Card) (OutputManager, error)
	Renderer(Card) (render.Renderer, error)
}

// Sources registers event sources. *loop.Loop implements it.
type Sources interface {
	Source(name string, fn func(ctx context.Context, post func(func() error))) loop.Token
}

// Device is a registered GPU.
type Device struct {
	node       drm.Node
	renderNode drm.Node
	card       Card
	mgr        OutputManager
	scanner    *scanner.Scanner
	leases     *lease.State
	surfaces   *objstore.Store[drm.CrtcHandle, *output.Surface]
	events     loop.Token
}

func (d *Device) Node() drm.Node       { return d.node }
func (d *Device) RenderNode() drm.Node { return d.renderNode }
func (d *Device) Card() Card           { return d.card }

type Config struct {
	Session session.Session
	Backend Backend
	Sources Sources
	Pool    *render.Pool
	Space   space.Space

	// Primary is the device that composites. If it is zero, the first
	// device added becomes primary.
	Primary drm.Node

	Quirks               scanner.Quirks
	DisableDirectScanout bool

	SurfaceAdded   func(*output.Surface)
	SurfaceRemoved func(drm.OutputID)
	VBlank         func(drm.OutputID, *drm.EventMetadata)
}

// Registry owns every device. It must only be used from the event loop.
type Registry struct {
	cfg     Config
	primary drm.Node
	devices *objstore.Store[drm.Node, *Device]
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		primary: cfg.Primary,
		devices: objstore.New[drm.Node, *Device](),
	}
}

// Primary returns the primary device.
func (r *Registry) Primary() drm.Node {
	return r.primary
}

// PrimaryRenderNode returns the render node of the primary device, or
// the zero node if it is not registered.
func (r *Registry) PrimaryRenderNode() drm.Node {
	d, ok := r.devices.Get(r.primary)
	if !ok {
		return drm.Node{}
	}
	return d.renderNode
}

func (r *Registry) Devices() []drm.Node {
	return r.devices.Keys()
}

func (r *Registry) Device(node drm.Node) (*Device, bool) {
	return r.devices.Get(node)
}

// AddDevice opens the device at path and lights its connected outputs.
func (r *Registry) AddDevice(node drm.Node, path string) error {
	if _, ok := r.devices.Get(node); ok {
		return fmt.Errorf("%v: %w", node, ErrExists)
	}

	file, err := r.cfg.Session.Open(path)
	if err != nil {
		return &DeviceOpenError{Path: path, Err: err}
	}

	card, err := r.cfg.Backend.OpenCard(file)
	if err != nil {
		r.cfg.Session.Close(file)
		return &DrmInitError{Node: node, Err: err}
	}

	d := Device{
		node:     node,
		card:     card,
		scanner:  scanner.New(),
		surfaces: objstore.New[drm.CrtcHandle, *output.Surface](),
	}
	d.events = r.cfg.Sources.Source(node.String(), func(ctx context.Context, post func(func() error)) {
		card.ReadEvents(ctx, func(ev drm.Event) {
			post(func() error {
				r.handleEvent(node, ev)
				return nil
			})
		})
	})
	fail := func(err error) error {
		d.events.Cancel()
		card.Close()
		return err
	}

	d.mgr, err = r.cfg.Backend.NewOutputManager(card)
	if err != nil {
		return fail(&AllocatorInitError{Node: node, Err: err})
	}

	renderer, err := r.cfg.Backend.Renderer(card)
	if err != nil {
		return fail(&RenderNodeBindError{Node: node, Err: err})
	}
	err = r.cfg.Pool.Add(renderer)
	if err != nil {
		return fail(&RenderNodeBindError{Node: node, Err: err})
	}
	d.renderNode = renderer.Node()
	d.leases = lease.New(card, d.mgr)

	r.devices.Add(node, &d)
	if r.primary.IsZero() {
		r.primary = node
	}

	logrus.WithFields(logrus.Fields{
		"device": node,
		"render": d.renderNode,
		"path":   path,
	}).Info("device: added")

	r.scan(&d)
	r.UpdateFeedback()
	return nil
}

// ChangeDevice rescans a device after a hotplug notification.
func (r *Registry) ChangeDevice(node drm.Node) {
	d, ok := r.devices.Get(node)
	if !ok {
		return
	}
	r.scan(d)
}

// RemoveDevice drops a device along with all of its outputs and leases.
func (r *Registry) RemoveDevice(node drm.Node) {
	d, ok := r.devices.Get(node)
	if !ok {
		return
	}

	for _, crtc := range d.surfaces.Keys() {
		r.removeSurface(d, crtc, output.StateDeviceRemoved)
	}
	d.leases.Disable()
	r.cfg.Pool.Remove(d.renderNode)
	d.events.Cancel()

	r.devices.Delete(node)
	err := d.card.Close()
	if err != nil {
		logrus.WithField("device", node).Debugf("device: close: %v", err)
	}

	if node == r.primary {
		r.primary = drm.Node{}
		if nodes := r.devices.Keys(); len(nodes) > 0 {
			r.primary = nodes[0]
			logrus.WithField("device", r.primary).Info("device: new primary")
		}
	}

	logrus.WithField("device", node).Info("device: removed")
	r.UpdateFeedback()
}

func (r *Registry) scan(d *Device) {
	events, err := d.scanner.Scan(d.card)
	if err != nil {
		logrus.WithField("device", d.node).Errorf("device: scan: %v", err)
		return
	}

	for _, ev := range events {
		conn := ev.Connector
		switch ev.Kind {
		case scanner.Disconnected:
			if d.leases.Leasable(conn.Handle) {
				d.leases.WithdrawConnector(conn.Handle)
				continue
			}
			r.removeSurface(d, ev.Crtc, output.StateDisconnected)

		case scanner.Connected:
			nonDesktop, err := d.card.NonDesktop(conn.Handle)
			if err != nil {
				logrus.WithField("connector", conn.Name()).Debugf("device: non-desktop: %v", err)
			}
			if nonDesktop {
				d.leases.AddConnector(conn, ev.Crtc)
				continue
			}
			r.addSurface(d, conn, ev.Crtc)
		}
	}
}

func (r *Registry) addSurface(d *Device, conn drm.ConnectorInfo, crtc drm.CrtcHandle) {
	log := logrus.WithFields(logrus.Fields{"device": d.node, "connector": conn.Name(), "crtc": crtc})

	mode, ok := scanner.PreferredMode(conn.Modes)
	if !ok {
		log.Warn("device: connector has no modes")
		return
	}

	planes, err := d.card.Planes(crtc)
	if err != nil {
		log.Errorf("device: get planes: %v", err)
		return
	}
	drv, err := d.card.Driver()
	if err != nil {
		log.Debugf("device: get driver: %v", err)
	}
	planes = r.cfg.Quirks.Apply(drv, planes)

	id := drm.OutputID{Device: d.node, Crtc: crtc}
	s, err := output.New(d.mgr, output.Config{
		ID:                   id,
		Connector:            conn,
		Mode:                 mode,
		Planes:               planes,
		RenderNode:           d.renderNode,
		DisableDirectScanout: r.cfg.DisableDirectScanout,
	})
	if err != nil {
		log.Errorf("device: %v", err)
		return
	}
	d.surfaces.Add(crtc, s)
	r.updateFeedback(d, s)

	di, err := d.card.DisplayInfo(conn.Handle)
	if err != nil {
		log.Debugf("device: display info: %v", err)
	}
	o := scanner.NewOutput(id, conn, di, mode)
	r.cfg.Space.MapOutput(o, scanner.Place(r.cfg.Space))

	log.WithField("mode", mode).Info("device: output connected")
	if r.cfg.SurfaceAdded != nil {
		r.cfg.SurfaceAdded(s)
	}
}

func (r *Registry) removeSurface(d *Device, crtc drm.CrtcHandle, state output.State) {
	s, ok := d.surfaces.Delete(crtc)
	if !ok {
		return
	}

	id := s.ID()
	if o, ok := space.FindOutput(r.cfg.Space, id); ok {
		r.cfg.Space.UnmapOutput(o)
	}

	err := s.Close(state)
	if err != nil {
		logrus.WithField("output", id).Warnf("device: close output: %v", err)
	}

	logrus.WithFields(logrus.Fields{"output": id, "connector": s.Connector().Name()}).Info("device: output disconnected")
	if r.cfg.SurfaceRemoved != nil {
		r.cfg.SurfaceRemoved(id)
	}
}

func (r *Registry) handleEvent(node drm.Node, ev drm.Event) {
	switch ev.Kind {
	case drm.EventVBlank:
		id := drm.OutputID{Device: node, Crtc: ev.Crtc}
		if r.cfg.VBlank != nil {
			r.cfg.VBlank(id, ev.Meta)
		}
	case drm.EventError:
		logrus.WithField("device", node).Errorf("device: %v", ev.Err)
	}
}

// Lookup returns the output surface with the given ID.
func (r *Registry) Lookup(id drm.OutputID) (*output.Surface, bool) {
	d, ok := r.devices.Get(id.Device)
	if !ok {
		return nil, false
	}
	return d.surfaces.Get(id.Crtc)
}

// Surfaces returns every output surface of every device.
func (r *Registry) Surfaces() []*output.Surface {
	var all []*output.Surface
	for _, d := range r.devices.Values() {
		all = append(all, d.surfaces.Values()...)
	}
	return all
}

// Leases returns the lease state of a device.
func (r *Registry) Leases(node drm.Node) (*lease.State, bool) {
	d, ok := r.devices.Get(node)
	if !ok {
		return nil, false
	}
	return d.leases, true
}

// Pause stops all devices when the session goes inactive.
func (r *Registry) Pause() {
	for _, d := range r.devices.Values() {
		d.mgr.Pause()
		d.leases.Suspend()
	}
	logrus.Info("device: paused")
}

// Activate resumes all devices and returns the outputs that need to be
// redrawn.
func (r *Registry) Activate() []drm.OutputID {
	var ids []drm.OutputID
	for _, d := range r.devices.Values() {
		err := d.mgr.Activate(false)
		if err != nil {
			logrus.WithField("device", d.node).Errorf("device: activate: %v", err)
		}
		d.leases.Resume()
		for _, s := range d.surfaces.Values() {
			ids = append(ids, s.ID())
		}
	}
	logrus.Info("device: activated")
	return ids
}

// ResetState turns off all outputs of a device so that they modeset
// from scratch.
func (r *Registry) ResetState(node drm.Node) error {
	d, ok := r.devices.Get(node)
	if !ok {
		return nil
	}
	return d.mgr.ResetState()
}

// ResetBuffers forces the next frame of an output to be a full repaint.
func (r *Registry) ResetBuffers(id drm.OutputID) {
	s, ok := r.Lookup(id)
	if !ok {
		return
	}
	err := s.ResetBuffers()
	if err != nil {
		logrus.WithField("output", id).Debugf("device: reset buffers: %v", err)
	}
}

// UpdateFeedback recomputes the dmabuf feedback of every output.
func (r *Registry) UpdateFeedback() {
	for _, d := range r.devices.Values() {
		for _, s := range d.surfaces.Values() {
			r.updateFeedback(d, s)
		}
	}
}

func (r *Registry) gpu(node drm.Node) (dmabuf.GPU, bool) {
	renderer, err := r.cfg.Pool.Single(node)
	if err != nil {
		return dmabuf.GPU{}, false
	}
	return dmabuf.GPU{Device: node.DevID(), Formats: renderer.DmabufFormats()}, true
}

func (r *Registry) updateFeedback(d *Device, s *output.Surface) {
	rgpu, ok := r.gpu(d.renderNode)
	if !ok {
		return
	}
	pgpu, ok := r.gpu(r.PrimaryRenderNode())
	if !ok {
		pgpu = rgpu
	}

	err := s.UpdateFeedback(pgpu, rgpu)
	if err != nil {
		logrus.WithField("output", s.ID()).Warnf("device: %v", err)
	}
}
