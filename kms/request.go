package kms

import (
	"fmt"
	"image"

	"github.com/hepp3n/luxo/drm"
)

// request builds an atomic commit by property name. The first failed
// property lookup sticks and is returned by commit.
type request struct {
	card Card
	req  drm.AtomicRequest
	err  error
}

func (r *request) set(obj uint32, typ drm.ObjectType, name string, value uint64) {
	if r.err != nil {
		return
	}

	prop, err := r.card.Property(obj, typ, name)
	if err != nil {
		r.err = fmt.Errorf("look up %v of object %v: %w", name, obj, err)
		return
	}
	r.req.Set(obj, prop, value)
}

func (r *request) crtc(crtc drm.CrtcHandle, active bool, mode drm.BlobHandle) {
	var a uint64
	if active {
		a = 1
	}
	r.set(uint32(crtc), drm.ObjectCrtc, "ACTIVE", a)
	r.set(uint32(crtc), drm.ObjectCrtc, "MODE_ID", uint64(mode))
}

func (r *request) connector(conn drm.ConnectorHandle, crtc drm.CrtcHandle) {
	r.set(uint32(conn), drm.ObjectConnector, "CRTC_ID", uint64(crtc))
}

// plane shows the whole of fb, which is src pixels large, at dst.
func (r *request) plane(p drm.PlaneHandle, crtc drm.CrtcHandle, fb drm.FramebufferHandle, src image.Point, dst image.Rectangle) {
	obj := uint32(p)
	r.set(obj, drm.ObjectPlane, "FB_ID", uint64(fb))
	r.set(obj, drm.ObjectPlane, "CRTC_ID", uint64(crtc))
	r.set(obj, drm.ObjectPlane, "SRC_X", 0)
	r.set(obj, drm.ObjectPlane, "SRC_Y", 0)
	r.set(obj, drm.ObjectPlane, "SRC_W", uint64(src.X)<<16)
	r.set(obj, drm.ObjectPlane, "SRC_H", uint64(src.Y)<<16)
	r.set(obj, drm.ObjectPlane, "CRTC_X", uint64(int64(dst.Min.X)))
	r.set(obj, drm.ObjectPlane, "CRTC_Y", uint64(int64(dst.Min.Y)))
	r.set(obj, drm.ObjectPlane, "CRTC_W", uint64(dst.Dx()))
	r.set(obj, drm.ObjectPlane, "CRTC_H", uint64(dst.Dy()))
}

func (r *request) disablePlane(p drm.PlaneHandle) {
	r.set(uint32(p), drm.ObjectPlane, "FB_ID", 0)
	r.set(uint32(p), drm.ObjectPlane, "CRTC_ID", 0)
}

func (r *request) commit(flags drm.AtomicFlags, crtc drm.CrtcHandle) error {
	if r.err != nil {
		return r.err
	}
	return r.card.Commit(&r.req, flags, uint64(crtc))
}
