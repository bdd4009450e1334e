package drm

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	drmBase = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | drmBase<<8 | nr
}

func ion(nr uintptr) uintptr {
	return ioc(iocNone, nr, 0)
}

func iow(nr, size uintptr) uintptr {
	return ioc(iocWrite, nr, size)
}

func iowr(nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, nr, size)
}

func ptr[T any](v *T) uint64 {
	return uint64(uintptr(unsafe.Pointer(v)))
}

func slicePtr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

type drmVersion struct {
	Major, Minor, Patch int32
	NameLen             uintptr
	Name                uintptr
	DateLen             uintptr
	Date                uintptr
	DescLen             uintptr
	Desc                uintptr
}

type drmCap struct {
	Capability uint64
	Value      uint64
}

type modeCardRes struct {
	FbIDPtr, CrtcIDPtr, ConnectorIDPtr, EncoderIDPtr uint64

	CountFbs, CountCrtcs, CountConnectors, CountEncoders uint32

	MinWidth, MaxWidth, MinHeight, MaxHeight uint32
}

type modeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32
	Flags    uint32
	Type     uint32
	Name     [32]byte
}

type modeGetConnector struct {
	EncodersPtr, ModesPtr, PropsPtr, PropValuesPtr uint64

	CountModes, CountProps, CountEncoders uint32

	EncoderID, ConnectorID, ConnectorType, ConnectorTypeID uint32

	Connection, MmWidth, MmHeight, Subpixel uint32

	Pad uint32
}

type modeGetEncoder struct {
	EncoderID, EncoderType, CrtcID, PossibleCrtcs, PossibleClones uint32
}

type modeGetPlaneRes struct {
	PlaneIDPtr  uint64
	CountPlanes uint32
}

type modeGetPlane struct {
	PlaneID, CrtcID, FbID, PossibleCrtcs, GammaSize, CountFormatTypes uint32

	FormatTypePtr uint64
}

type modeObjGetProperties struct {
	PropsPtr, PropValuesPtr uint64

	CountProps, ObjID, ObjType uint32
}

type modeGetProperty struct {
	ValuesPtr, EnumBlobPtr uint64

	PropID, Flags uint32
	Name          [32]byte

	CountValues, CountEnumBlobs uint32
}

type modeGetBlob struct {
	BlobID, Length uint32
	Data           uint64
}

type modeCreateBlob struct {
	Data           uint64
	Length, BlobID uint32
}

type modeAtomic struct {
	Flags, CountObjs uint32

	ObjsPtr, CountPropsPtr, PropsPtr, PropValuesPtr, Reserved, UserData uint64
}

type modeCreateDumb struct {
	Height, Width, Bpp, Flags uint32
	Handle, Pitch             uint32
	Size                      uint64
}

type modeMapDumb struct {
	Handle, Pad uint32
	Offset      uint64
}

type modeFbCmd2 struct {
	FbID, Width, Height, PixelFormat, Flags uint32

	Handles, Pitches, Offsets [4]uint32
	Modifier                  [4]uint64
}

type modeCreateLease struct {
	ObjectIDs uint64

	ObjectCount, Flags, LesseeID, Fd uint32
}

type formatModifierBlob struct {
	Version, Flags, CountFormats, FormatsOffset, CountModifiers, ModifiersOffset uint32
}

type formatModifier struct {
	Formats  uint64
	Offset   uint32
	Pad      uint32
	Modifier uint64
}

var (
	ioctlVersion      = iowr(0x00, unsafe.Sizeof(drmVersion{}))
	ioctlGetCap       = iowr(0x0c, unsafe.Sizeof(drmCap{}))
	ioctlSetClientCap = iow(0x0d, unsafe.Sizeof(drmCap{}))
	ioctlSetMaster    = ion(0x1e)
	ioctlDropMaster   = ion(0x1f)

	ioctlModeGetResources      = iowr(0xa0, unsafe.Sizeof(modeCardRes{}))
	ioctlModeGetEncoder        = iowr(0xa6, unsafe.Sizeof(modeGetEncoder{}))
	ioctlModeGetConnector      = iowr(0xa7, unsafe.Sizeof(modeGetConnector{}))
	ioctlModeGetProperty       = iowr(0xaa, unsafe.Sizeof(modeGetProperty{}))
	ioctlModeGetPropBlob       = iowr(0xac, unsafe.Sizeof(modeGetBlob{}))
	ioctlModeRmFB              = iowr(0xaf, unsafe.Sizeof(uint32(0)))
	ioctlModeCreateDumb        = iowr(0xb2, unsafe.Sizeof(modeCreateDumb{}))
	ioctlModeMapDumb           = iowr(0xb3, unsafe.Sizeof(modeMapDumb{}))
	ioctlModeDestroyDumb       = iowr(0xb4, unsafe.Sizeof(uint32(0)))
	ioctlModeGetPlaneResources = iowr(0xb5, unsafe.Sizeof(modeGetPlaneRes{}))
	ioctlModeGetPlane          = iowr(0xb6, unsafe.Sizeof(modeGetPlane{}))
	ioctlModeAddFB2            = iowr(0xb8, unsafe.Sizeof(modeFbCmd2{}))
	ioctlModeObjGetProperties  = iowr(0xb9, unsafe.Sizeof(modeObjGetProperties{}))
	ioctlModeAtomic            = iowr(0xbc, unsafe.Sizeof(modeAtomic{}))
	ioctlModeCreatePropBlob    = iowr(0xbd, unsafe.Sizeof(modeCreateBlob{}))
	ioctlModeDestroyPropBlob   = iowr(0xbe, unsafe.Sizeof(uint32(0)))
	ioctlModeCreateLease       = iowr(0xc6, unsafe.Sizeof(modeCreateLease{}))
	ioctlModeRevokeLease       = iowr(0xc9, unsafe.Sizeof(uint32(0)))
)

// ioctl retries on EINTR and EAGAIN, the same as libdrm does.
func ioctl[T any](fd uintptr, req uintptr, arg *T) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(arg)))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

// keepAlive keeps buffers referenced by address inside ioctl arguments
// from being collected before the call returns.
func keepAlive(v ...any) {
	runtime.KeepAlive(v)
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
