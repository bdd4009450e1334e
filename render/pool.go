package render

import (
	"errors"
	"fmt"
	"image"

	"deedles.dev/ximage"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/internal/objstore"
	"github.com/hepp3n/luxo/shm"
	"golang.org/x/image/draw"
	"golang.org/x/sys/unix"
)

var (
	ErrNoRenderer = errors.New("no renderer for node")
	ErrDuplicate  = errors.New("renderer already registered for node")
)

// Path says how a frame gets from the GPU that composites it to the GPU
// that displays it.
type Path struct {
	copy   bool
	format format.Fourcc
}

// SameGPU renders directly into the display device's buffers.
func SameGPU() Path {
	return Path{}
}

// CrossGPUCopy renders on another GPU into a staging buffer of the
// given format and copies the result over.
func CrossGPUCopy(f format.Fourcc) Path {
	return Path{copy: true, format: f}
}

// CrossGPU returns the staging format if p involves a copy.
func (p Path) CrossGPU() (format.Fourcc, bool) {
	return p.format, p.copy
}

func (p Path) String() string {
	if p.copy {
		return fmt.Sprintf("cross-gpu(%v)", p.format)
	}
	return "same-gpu"
}

// Pool holds one renderer per render node.
type Pool struct {
	renderers *objstore.Store[drm.Node, Renderer]
	staging   *objstore.Store[gpuPair, *staging]
}

type gpuPair struct {
	src, dst drm.Node
}

func NewPool() *Pool {
	return &Pool{
		renderers: objstore.New[drm.Node, Renderer](),
		staging:   objstore.New[gpuPair, *staging](),
	}
}

func (p *Pool) Add(r Renderer) error {
	if !p.renderers.Add(r.Node(), r) {
		return fmt.Errorf("%v: %w", r.Node(), ErrDuplicate)
	}
	return nil
}

// Remove drops the renderer of node along with any staging buffers
// used to copy to or from it.
func (p *Pool) Remove(node drm.Node) {
	p.renderers.Delete(node)
	for _, pair := range p.staging.Keys() {
		if pair.src == node || pair.dst == node {
			p.releaseStaging(pair)
		}
	}
}

// Close releases all staging buffers.
func (p *Pool) Close() {
	for _, pair := range p.staging.Keys() {
		p.releaseStaging(pair)
	}
}

func (p *Pool) releaseStaging(pair gpuPair) {
	s, ok := p.staging.Delete(pair)
	if ok {
		s.mmap.Unmap()
	}
}

// stagingFor returns the staging image for copies from pair.src to
// pair.dst, replacing the cached one if the size changed.
func (p *Pool) stagingFor(pair gpuPair, bounds image.Rectangle) (*ximage.FormatImage, error) {
	if s, ok := p.staging.Get(pair); ok {
		if s.img.Rect == bounds {
			return s.img, nil
		}
		p.releaseStaging(pair)
	}

	s, err := newStaging(bounds)
	if err != nil {
		return nil, err
	}
	p.staging.Add(pair, s)
	return s.img, nil
}

func (p *Pool) Nodes() []drm.Node {
	return p.renderers.Keys()
}

// Single returns the renderer of node.
func (p *Pool) Single(node drm.Node) (Renderer, error) {
	r, ok := p.renderers.Get(node)
	if !ok {
		return nil, fmt.Errorf("%v: %w", node, ErrNoRenderer)
	}
	return r, nil
}

// Borrow calls fn with a renderer that composites on primary and
// produces frames for target. If the two differ, the renderer copies
// through a staging buffer of format f. The renderer must not be
// retained after fn returns.
func (p *Pool) Borrow(primary, target drm.Node, f format.Fourcc, fn func(Renderer, Path) error) error {
	if primary == target {
		r, err := p.Single(target)
		if err != nil {
			return err
		}
		return fn(r, SameGPU())
	}

	src, err := p.Single(primary)
	if err != nil {
		return err
	}
	dst, err := p.Single(target)
	if err != nil {
		return err
	}
	if !format.Codes(src.RenderFormats()).Has(f) {
		return &UnsupportedFormatError{Node: primary, Format: f}
	}

	return fn(&copyRenderer{pool: p, src: src, dst: dst, format: f}, CrossGPUCopy(f))
}

// staging is shared memory that a renderer on one GPU draws into for
// another GPU to copy from.
type staging struct {
	mmap shm.Mmap
	img  *ximage.FormatImage
}

func newStaging(bounds image.Rectangle) (*staging, error) {
	size := bounds.Dx() * bounds.Dy() * 4

	file, err := shm.Create("staging", size)
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer file.Close()

	mmap, err := shm.Map(file, 0, size, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}

	return &staging{
		mmap: mmap,
		img: &ximage.FormatImage{
			Format: ximage.ARGB8888,
			Rect:   bounds,
			Pix:    mmap,
		},
	}, nil
}

// copyRenderer renders with src into shared memory and then copies the
// result into the target image, which belongs to dst.
type copyRenderer struct {
	pool     *Pool
	src, dst Renderer
	format   format.Fourcc
}

func (r *copyRenderer) Node() drm.Node            { return r.dst.Node() }
func (r *copyRenderer) DmabufFormats() format.Set { return r.src.DmabufFormats() }
func (r *copyRenderer) RenderFormats() format.Set { return r.dst.RenderFormats() }

func (r *copyRenderer) Render(dst draw.Image, elements []Element, clear Color) error {
	bounds := dst.Bounds()
	staging, err := r.pool.stagingFor(gpuPair{src: r.src.Node(), dst: r.dst.Node()}, bounds)
	if err != nil {
		return err
	}

	err = r.src.Render(staging, elements, clear)
	if err != nil {
		return err
	}

	draw.Draw(dst, bounds, staging, bounds.Min, draw.Src)
	return nil
}
