package drm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"unsafe"

	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/internal/bin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	capDumbBuffer         = 0x1
	capTimestampMonotonic = 0x6

	clientCapUniversalPlanes = 2
	clientCapAtomic          = 3

	propBlob = 1 << 4
)

type ObjectType uint32

const (
	ObjectCrtc      ObjectType = 0xcccccccc
	ObjectConnector ObjectType = 0xc0c0c0c0
	ObjectPlane     ObjectType = 0xeeeeeeee
)

// Card is an open DRM primary node with atomic mode-setting enabled.
type Card struct {
	file      *os.File
	node      Node
	monotonic bool

	props map[uint32]map[string]property
}

type property struct {
	id    PropertyHandle
	flags uint32
	value uint64
}

// OpenCard takes ownership of file, which must be a DRM primary node.
func OpenCard(file *os.File) (*Card, error) {
	node, err := NodeFromFile(file)
	if err != nil {
		return nil, err
	}

	c := Card{
		file:  file,
		node:  node,
		props: make(map[uint32]map[string]property),
	}

	err = c.setClientCap(clientCapUniversalPlanes, 1)
	if err != nil {
		return nil, err
	}
	err = c.setClientCap(clientCapAtomic, 1)
	if err != nil {
		return nil, fmt.Errorf("atomic mode-setting unsupported: %w", err)
	}

	mono, err := c.getCap(capTimestampMonotonic)
	c.monotonic = err == nil && mono != 0

	return &c, nil
}

func (c *Card) Close() error {
	return c.file.Close()
}

func (c *Card) Node() Node {
	return c.node
}

func (c *Card) Fd() uintptr {
	return c.file.Fd()
}

// File returns the card's file. Dumb buffers are mapped through it.
func (c *Card) File() *os.File {
	return c.file
}

func (c *Card) access(op string, err error) error {
	return access(op, c.node, err)
}

func (c *Card) getCap(capability uint64) (uint64, error) {
	arg := drmCap{Capability: capability}
	err := ioctl(c.Fd(), ioctlGetCap, &arg)
	return arg.Value, c.access("get cap", err)
}

func (c *Card) setClientCap(capability, value uint64) error {
	arg := drmCap{Capability: capability, Value: value}
	return c.access("set client cap", ioctl(c.Fd(), ioctlSetClientCap, &arg))
}

// DumbBuffers reports whether the driver supports CPU-mapped buffers.
func (c *Card) DumbBuffers() bool {
	v, err := c.getCap(capDumbBuffer)
	return err == nil && v != 0
}

func (c *Card) SetMaster() error {
	var arg struct{}
	return c.access("set master", ioctl(c.Fd(), ioctlSetMaster, &arg))
}

func (c *Card) DropMaster() error {
	var arg struct{}
	return c.access("drop master", ioctl(c.Fd(), ioctlDropMaster, &arg))
}

func (c *Card) Driver() (Driver, error) {
	var v drmVersion
	err := ioctl(c.Fd(), ioctlVersion, &v)
	if err != nil {
		return Driver{}, c.access("get version", err)
	}

	name := make([]byte, v.NameLen+1)
	date := make([]byte, v.DateLen+1)
	desc := make([]byte, v.DescLen+1)
	v.Name = uintptr(slicePtr(name))
	v.Date = uintptr(slicePtr(date))
	v.Desc = uintptr(slicePtr(desc))
	err = ioctl(c.Fd(), ioctlVersion, &v)
	keepAlive(name, date, desc)
	if err != nil {
		return Driver{}, c.access("get version", err)
	}

	return Driver{
		Name:        cstring(name[:v.NameLen]),
		Date:        cstring(date[:v.DateLen]),
		Description: cstring(desc[:v.DescLen]),
		Major:       v.Major,
		Minor:       v.Minor,
		Patch:       v.Patch,
	}, nil
}

func (c *Card) Resources() (Resources, error) {
	for {
		var res modeCardRes
		err := ioctl(c.Fd(), ioctlModeGetResources, &res)
		if err != nil {
			return Resources{}, c.access("get resources", err)
		}

		fbs := make([]uint32, res.CountFbs)
		crtcs := make([]CrtcHandle, res.CountCrtcs)
		conns := make([]ConnectorHandle, res.CountConnectors)
		encs := make([]EncoderHandle, res.CountEncoders)
		counts := res

		res.FbIDPtr = slicePtr(fbs)
		res.CrtcIDPtr = slicePtr(crtcs)
		res.ConnectorIDPtr = slicePtr(conns)
		res.EncoderIDPtr = slicePtr(encs)
		err = ioctl(c.Fd(), ioctlModeGetResources, &res)
		keepAlive(fbs, crtcs, conns, encs)
		if err != nil {
			return Resources{}, c.access("get resources", err)
		}

		// Hotplug between the two calls can grow the lists.
		if res.CountFbs > counts.CountFbs || res.CountCrtcs > counts.CountCrtcs ||
			res.CountConnectors > counts.CountConnectors || res.CountEncoders > counts.CountEncoders {
			continue
		}

		return Resources{
			Connectors: conns[:res.CountConnectors],
			Crtcs:      crtcs[:res.CountCrtcs],
			Encoders:   encs[:res.CountEncoders],
		}, nil
	}
}

func (c *Card) encoder(h EncoderHandle) (modeGetEncoder, error) {
	arg := modeGetEncoder{EncoderID: uint32(h)}
	err := ioctl(c.Fd(), ioctlModeGetEncoder, &arg)
	return arg, c.access("get encoder", err)
}

func (c *Card) Connector(h ConnectorHandle) (ConnectorInfo, error) {
	res, err := c.Resources()
	if err != nil {
		return ConnectorInfo{}, err
	}

	var arg modeGetConnector
	var modes []modeInfo
	var encs []EncoderHandle
	for {
		arg = modeGetConnector{ConnectorID: uint32(h)}
		err = ioctl(c.Fd(), ioctlModeGetConnector, &arg)
		if err != nil {
			return ConnectorInfo{}, c.access("get connector", err)
		}

		counts := arg
		modes = make([]modeInfo, arg.CountModes)
		encs = make([]EncoderHandle, arg.CountEncoders)
		arg.ModesPtr = slicePtr(modes)
		arg.EncodersPtr = slicePtr(encs)
		arg.CountProps = 0
		err = ioctl(c.Fd(), ioctlModeGetConnector, &arg)
		keepAlive(modes, encs)
		if err != nil {
			return ConnectorInfo{}, c.access("get connector", err)
		}

		if arg.CountModes <= counts.CountModes && arg.CountEncoders <= counts.CountEncoders {
			break
		}
	}

	info := ConnectorInfo{
		Handle:   h,
		Type:     ConnectorType(arg.ConnectorType),
		TypeID:   arg.ConnectorTypeID,
		State:    ConnectorState(arg.Connection),
		Size:     image.Pt(int(arg.MmWidth), int(arg.MmHeight)),
		Subpixel: Subpixel(arg.Subpixel),
	}
	for i := range modes[:arg.CountModes] {
		info.Modes = append(info.Modes, modeFromInfo(&modes[i]))
	}

	var possible uint32
	for _, e := range encs[:arg.CountEncoders] {
		enc, err := c.encoder(e)
		if err != nil {
			return ConnectorInfo{}, err
		}
		possible |= enc.PossibleCrtcs
		if uint32(e) == arg.EncoderID {
			info.Crtc = CrtcHandle(enc.CrtcID)
		}
	}
	for i, crtc := range res.Crtcs {
		if possible&(1<<i) != 0 {
			info.PossibleCrtcs = append(info.PossibleCrtcs, crtc)
		}
	}

	return info, nil
}

func (c *Card) Planes(crtc CrtcHandle) (Planes, error) {
	res, err := c.Resources()
	if err != nil {
		return Planes{}, err
	}
	index := -1
	for i, h := range res.Crtcs {
		if h == crtc {
			index = i
		}
	}
	if index < 0 {
		return Planes{}, fmt.Errorf("unknown crtc %d", crtc)
	}

	var pres modeGetPlaneRes
	err = ioctl(c.Fd(), ioctlModeGetPlaneResources, &pres)
	if err != nil {
		return Planes{}, c.access("get plane resources", err)
	}
	ids := make([]PlaneHandle, pres.CountPlanes)
	pres.PlaneIDPtr = slicePtr(ids)
	err = ioctl(c.Fd(), ioctlModeGetPlaneResources, &pres)
	keepAlive(ids)
	if err != nil {
		return Planes{}, c.access("get plane resources", err)
	}

	var planes Planes
	for _, id := range ids[:min(int(pres.CountPlanes), len(ids))] {
		arg := modeGetPlane{PlaneID: uint32(id)}
		err := ioctl(c.Fd(), ioctlModeGetPlane, &arg)
		if err != nil {
			return Planes{}, c.access("get plane", err)
		}
		if arg.PossibleCrtcs&(1<<index) == 0 {
			continue
		}

		codes := make([]format.Fourcc, arg.CountFormatTypes)
		arg.FormatTypePtr = slicePtr(codes)
		err = ioctl(c.Fd(), ioctlModeGetPlane, &arg)
		keepAlive(codes)
		if err != nil {
			return Planes{}, c.access("get plane", err)
		}

		props, err := c.properties(uint32(id), ObjectPlane)
		if err != nil {
			return Planes{}, err
		}

		info := PlaneInfo{
			Handle:  id,
			Type:    PlaneType(props["type"].value),
			Formats: c.planeFormats(codes, props),
		}
		switch info.Type {
		case PlanePrimary:
			planes.Primary = append(planes.Primary, info)
		case PlaneCursor:
			planes.Cursor = append(planes.Cursor, info)
		default:
			planes.Overlay = append(planes.Overlay, info)
		}
	}

	return planes, nil
}

// planeFormats prefers the explicit modifier list and falls back to the
// plain format list with implicit modifiers.
func (c *Card) planeFormats(codes []format.Fourcc, props map[string]property) format.Set {
	if p, ok := props["IN_FORMATS"]; ok && p.value != 0 {
		blob, err := c.Blob(BlobHandle(p.value))
		if err != nil {
			logrus.Debugf("drm: %v: read IN_FORMATS: %v", c.node, err)
			return format.With(codes, format.ModifierInvalid)
		}
		if s, ok := parseInFormats(blob); ok {
			return s
		}
		logrus.Debugf("drm: %v: malformed IN_FORMATS blob", c.node)
	}
	return format.With(codes, format.ModifierInvalid)
}

func parseInFormats(blob []byte) (format.Set, bool) {
	hdrSize := int(unsafe.Sizeof(formatModifierBlob{}))
	modSize := int(unsafe.Sizeof(formatModifier{}))
	if len(blob) < hdrSize {
		return nil, false
	}

	count := int(bin.At[uint32](blob, 8))
	foff := int(bin.At[uint32](blob, 12))
	mcount := int(bin.At[uint32](blob, 16))
	moff := int(bin.At[uint32](blob, 20))
	if foff+4*count > len(blob) || moff+modSize*mcount > len(blob) {
		return nil, false
	}

	codes := make([]format.Fourcc, count)
	for i := range codes {
		codes[i] = bin.At[format.Fourcc](blob, foff+4*i)
	}

	s := make(format.Set)
	for i := 0; i < mcount; i++ {
		rec := moff + modSize*i
		mask := bin.At64[uint64](blob, rec)
		offset := int(bin.At[uint32](blob, rec+8))
		mod := format.Modifier(bin.At64[uint64](blob, rec+16))
		for b := 0; b < 64; b++ {
			if mask&(1<<b) == 0 || offset+b >= len(codes) {
				continue
			}
			s.Add(format.Format{Code: codes[offset+b], Modifier: mod})
		}
	}
	return s, true
}

func (c *Card) properties(obj uint32, typ ObjectType) (map[string]property, error) {
	arg := modeObjGetProperties{ObjID: obj, ObjType: uint32(typ)}
	err := ioctl(c.Fd(), ioctlModeObjGetProperties, &arg)
	if err != nil {
		return nil, c.access("get properties", err)
	}

	ids := make([]PropertyHandle, arg.CountProps)
	values := make([]uint64, arg.CountProps)
	arg.PropsPtr = slicePtr(ids)
	arg.PropValuesPtr = slicePtr(values)
	err = ioctl(c.Fd(), ioctlModeObjGetProperties, &arg)
	keepAlive(ids, values)
	if err != nil {
		return nil, c.access("get properties", err)
	}

	props := make(map[string]property, len(ids))
	for i, id := range ids[:min(int(arg.CountProps), len(ids))] {
		p := modeGetProperty{PropID: uint32(id)}
		err := ioctl(c.Fd(), ioctlModeGetProperty, &p)
		if err != nil {
			return nil, c.access("get property", err)
		}
		props[cstring(p.Name[:])] = property{id: id, flags: p.Flags, value: values[i]}
	}

	c.props[obj] = props
	return props, nil
}

// Property looks up the handle of the named property of an object.
func (c *Card) Property(obj uint32, typ ObjectType, name string) (PropertyHandle, error) {
	props, ok := c.props[obj]
	if !ok {
		var err error
		props, err = c.properties(obj, typ)
		if err != nil {
			return 0, err
		}
	}

	p, ok := props[name]
	if !ok {
		return 0, fmt.Errorf("object %d has no %q property", obj, name)
	}
	return p.id, nil
}

func (c *Card) NonDesktop(h ConnectorHandle) (bool, error) {
	props, err := c.properties(uint32(h), ObjectConnector)
	if err != nil {
		return false, err
	}
	return props["non-desktop"].value != 0, nil
}

func (c *Card) DisplayInfo(h ConnectorHandle) (DisplayInfo, error) {
	props, err := c.properties(uint32(h), ObjectConnector)
	if err != nil {
		return DisplayInfo{}, err
	}

	p, ok := props["EDID"]
	if !ok || p.flags&propBlob == 0 || p.value == 0 {
		return DisplayInfo{}, errors.New("no EDID")
	}

	blob, err := c.Blob(BlobHandle(p.value))
	if err != nil {
		return DisplayInfo{}, err
	}

	info, ok := ParseEDID(blob)
	if !ok {
		return DisplayInfo{}, errors.New("malformed EDID")
	}
	return info, nil
}

func (c *Card) Blob(h BlobHandle) ([]byte, error) {
	arg := modeGetBlob{BlobID: uint32(h)}
	err := ioctl(c.Fd(), ioctlModeGetPropBlob, &arg)
	if err != nil {
		return nil, c.access("get blob", err)
	}

	data := make([]byte, arg.Length)
	arg.Data = slicePtr(data)
	err = ioctl(c.Fd(), ioctlModeGetPropBlob, &arg)
	keepAlive(data)
	if err != nil {
		return nil, c.access("get blob", err)
	}
	return data[:min(int(arg.Length), len(data))], nil
}

// ModeBlob uploads a mode so that it can be assigned to a CRTC.
func (c *Card) ModeBlob(m Mode) (BlobHandle, error) {
	info := m.info()
	arg := modeCreateBlob{Data: ptr(&info), Length: uint32(unsafe.Sizeof(info))}
	err := ioctl(c.Fd(), ioctlModeCreatePropBlob, &arg)
	keepAlive(&info)
	return BlobHandle(arg.BlobID), c.access("create blob", err)
}

func (c *Card) DestroyBlob(h BlobHandle) error {
	arg := uint32(h)
	return c.access("destroy blob", ioctl(c.Fd(), ioctlModeDestroyPropBlob, &arg))
}

// DumbBuffer is a CPU-accessible buffer allocated by the kernel.
type DumbBuffer struct {
	Handle uint32
	Pitch  uint32
	Size   uint64
}

func (c *Card) CreateDumb(width, height, bpp uint32) (DumbBuffer, error) {
	arg := modeCreateDumb{Width: width, Height: height, Bpp: bpp}
	err := ioctl(c.Fd(), ioctlModeCreateDumb, &arg)
	if err != nil {
		return DumbBuffer{}, c.access("create dumb buffer", err)
	}
	return DumbBuffer{Handle: arg.Handle, Pitch: arg.Pitch, Size: arg.Size}, nil
}

// MapDumb returns the offset at which the buffer can be mapped from the
// card's file descriptor.
func (c *Card) MapDumb(b DumbBuffer) (int64, error) {
	arg := modeMapDumb{Handle: b.Handle}
	err := ioctl(c.Fd(), ioctlModeMapDumb, &arg)
	return int64(arg.Offset), c.access("map dumb buffer", err)
}

func (c *Card) DestroyDumb(b DumbBuffer) error {
	arg := b.Handle
	return c.access("destroy dumb buffer", ioctl(c.Fd(), ioctlModeDestroyDumb, &arg))
}

func (c *Card) AddFramebuffer(width, height uint32, f format.Format, handle, pitch uint32) (FramebufferHandle, error) {
	arg := modeFbCmd2{
		Width:       width,
		Height:      height,
		PixelFormat: uint32(f.Code),
	}
	arg.Handles[0] = handle
	arg.Pitches[0] = pitch
	if f.Modifier != format.ModifierInvalid {
		arg.Flags = 1 << 1
		arg.Modifier[0] = uint64(f.Modifier)
	}

	err := ioctl(c.Fd(), ioctlModeAddFB2, &arg)
	return FramebufferHandle(arg.FbID), c.access("add framebuffer", err)
}

func (c *Card) RemoveFramebuffer(fb FramebufferHandle) error {
	arg := uint32(fb)
	return c.access("remove framebuffer", ioctl(c.Fd(), ioctlModeRmFB, &arg))
}

// CreateLease hands the given objects to a new lessee and returns the
// lessee's file descriptor and ID.
func (c *Card) CreateLease(objects []uint32) (*os.File, uint32, error) {
	arg := modeCreateLease{
		ObjectIDs:   slicePtr(objects),
		ObjectCount: uint32(len(objects)),
		Flags:       unix.O_CLOEXEC,
	}
	err := ioctl(c.Fd(), ioctlModeCreateLease, &arg)
	keepAlive(objects)
	if err != nil {
		return nil, 0, c.access("create lease", err)
	}
	return os.NewFile(uintptr(arg.Fd), fmt.Sprintf("%v-lease-%d", c.node, arg.LesseeID)), arg.LesseeID, nil
}

func (c *Card) RevokeLease(lessee uint32) error {
	arg := lessee
	return c.access("revoke lease", ioctl(c.Fd(), ioctlModeRevokeLease, &arg))
}

// ReadEvents reads events from the card until ctx is cancelled or the
// card is closed, calling handle for each one. Read failures are
// reported as EventError before returning.
func (c *Card) ReadEvents(ctx context.Context, handle func(Event)) {
	buf := make([]byte, 1024)
	for {
		n, err := c.file.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			if errors.Is(err, unix.EAGAIN) {
				if !c.wait(ctx) {
					return
				}
				continue
			}
			handle(Event{Kind: EventError, Err: c.access("read events", err)})
			return
		}

		events, err := ParseEvents(buf[:n], c.monotonic)
		for _, ev := range events {
			handle(ev)
		}
		if err != nil {
			logrus.Warnf("drm: %v: %v", c.node, err)
		}
	}
}

// wait polls the card for readability. It is only needed if the file
// descriptor was not registered with the runtime poller.
func (c *Card) wait(ctx context.Context) bool {
	fds := []unix.PollFd{{Fd: int32(c.Fd()), Events: unix.POLLIN}}
	for ctx.Err() == nil {
		n, err := unix.Poll(fds, 100)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return false
		}
		if n > 0 {
			return true
		}
	}
	return false
}
