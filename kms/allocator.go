package kms

import (
	"errors"
	"fmt"
	"image"

	"deedles.dev/ximage"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/shm"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrNoDumbBuffers is returned for devices that cannot allocate
// CPU-accessible buffers.
var ErrNoDumbBuffers = errors.New("device does not support dumb buffers")

// Buffer is a mapped dumb buffer with a framebuffer attached.
type Buffer struct {
	Format format.Format
	Size   image.Point

	// Image draws directly into the buffer's memory. It can be wider
	// than Size.
	Image *ximage.FormatImage

	dumb drm.DumbBuffer
	fb   drm.FramebufferHandle
	mmap shm.Mmap
}

func (b *Buffer) Framebuffer() drm.FramebufferHandle {
	return b.fb
}

// Allocator creates scanout buffers on a device.
type Allocator struct {
	card    Card
	formats format.Set
}

func NewAllocator(card Card) (*Allocator, error) {
	if !card.DumbBuffers() {
		return nil, fmt.Errorf("%v: %w", card.Node(), ErrNoDumbBuffers)
	}

	return &Allocator{
		card:    card,
		formats: format.With([]format.Fourcc{format.Argb8888, format.Xrgb8888}, format.ModifierLinear),
	}, nil
}

// Formats returns the formats buffers can be created in.
func (a *Allocator) Formats() format.Set {
	return a.formats
}

func (a *Allocator) Create(size image.Point, code format.Fourcc) (*Buffer, error) {
	f := format.Format{Code: code, Modifier: format.ModifierLinear}
	if !a.formats.Has(f) {
		return nil, fmt.Errorf("allocate %v: unsupported format", code)
	}

	dumb, err := a.card.CreateDumb(uint32(size.X), uint32(size.Y), uint32(code.Bpp()))
	if err != nil {
		return nil, fmt.Errorf("create dumb buffer: %w", err)
	}

	b := Buffer{Format: f, Size: size, dumb: dumb}
	ok := false
	defer func() {
		if !ok {
			a.Destroy(&b)
		}
	}()

	off, err := a.card.MapDumb(dumb)
	if err != nil {
		return nil, fmt.Errorf("map dumb buffer: %w", err)
	}
	b.mmap, err = shm.Map(a.card.File(), off, int(dumb.Size), unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, fmt.Errorf("mmap dumb buffer: %w", err)
	}

	b.fb, err = a.card.AddFramebuffer(uint32(size.X), uint32(size.Y), f, dumb.Handle, dumb.Pitch)
	if err != nil {
		return nil, fmt.Errorf("add framebuffer: %w", err)
	}

	// Both 8888 formats share a memory layout. Scanout ignores the alpha
	// byte of Xrgb8888. Rows may be padded, so the image spans the whole
	// pitch and the framebuffer only shows the first size.X columns.
	b.Image = &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   image.Rect(0, 0, int(dumb.Pitch)/4, size.Y),
		Pix:    b.mmap,
	}

	ok = true
	return &b, nil
}

// Destroy releases everything b holds. It is safe to call on partially
// created buffers.
func (a *Allocator) Destroy(b *Buffer) error {
	var errs []error
	if b.fb != 0 {
		errs = append(errs, a.card.RemoveFramebuffer(b.fb))
		b.fb = 0
	}
	if b.mmap != nil {
		errs = append(errs, b.mmap.Unmap())
		b.mmap = nil
	}
	if b.dumb.Handle != 0 {
		errs = append(errs, a.card.DestroyDumb(b.dumb))
		b.dumb = drm.DumbBuffer{}
	}

	err := errors.Join(errs...)
	if err != nil {
		logrus.WithField("device", a.card.Node()).Warnf("kms: destroy buffer: %v", err)
	}
	return err
}
