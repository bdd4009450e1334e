// Package kms drives displays with atomic mode-setting.
//
// A Manager owns the outputs of one device and hands out a Compositor
// per lit CRTC. Frames are rendered on the CPU into dumb buffers, which
// every KMS driver supports, unless an element can be scanned out as
// is.
package kms

import (
	"os"

	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
)

// Card is what this package needs from a DRM device. *drm.Card
// implements it.
type Card interface {
	drm.Device

	File() *os.File
	SetMaster() error
	DropMaster() error

	DumbBuffers() bool
	CreateDumb(width, height, bpp uint32) (drm.DumbBuffer, error)
	MapDumb(drm.DumbBuffer) (int64, error)
	DestroyDumb(drm.DumbBuffer) error
	AddFramebuffer(width, height uint32, f format.Format, handle, pitch uint32) (drm.FramebufferHandle, error)
	RemoveFramebuffer(drm.FramebufferHandle) error

	Property(obj uint32, typ drm.ObjectType, name string) (drm.PropertyHandle, error)
	ModeBlob(drm.Mode) (drm.BlobHandle, error)
	DestroyBlob(drm.BlobHandle) error
	Commit(req *drm.AtomicRequest, flags drm.AtomicFlags, userData uint64) error
}

var _ Card = (*drm.Card)(nil)
