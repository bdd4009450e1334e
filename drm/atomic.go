package drm

import (
	"errors"

	"golang.org/x/sys/unix"
)

type AtomicFlags uint32

const (
	AtomicPageFlipEvent AtomicFlags = 0x1
	AtomicTestOnly      AtomicFlags = 0x100
	AtomicNonblock      AtomicFlags = 0x200
	AtomicAllowModeset  AtomicFlags = 0x400
)

// AtomicRequest collects property changes to be applied together.
type AtomicRequest struct {
	objs  []uint32
	props map[uint32][]propValue
}

type propValue struct {
	prop  PropertyHandle
	value uint64
}

func (r *AtomicRequest) Set(obj uint32, prop PropertyHandle, value uint64) {
	if r.props == nil {
		r.props = make(map[uint32][]propValue)
	}
	if _, ok := r.props[obj]; !ok {
		r.objs = append(r.objs, obj)
	}
	r.props[obj] = append(r.props[obj], propValue{prop: prop, value: value})
}

// Get returns the last value set for prop on obj.
func (r *AtomicRequest) Get(obj uint32, prop PropertyHandle) (uint64, bool) {
	pv := r.props[obj]
	for i := len(pv) - 1; i >= 0; i-- {
		if pv[i].prop == prop {
			return pv[i].value, true
		}
	}
	return 0, false
}

func (r *AtomicRequest) Len() int {
	return len(r.objs)
}

// Commit submits req. userData is handed back in the page-flip event
// and should be the CRTC handle of the flip.
//
// A test-only commit that is rejected yields a *TestFailedError. A
// real commit that fails for any reason other than permissions or a
// busy device yields a *ContextLostError. Any other failure is an
// *AccessError.
func (c *Card) Commit(req *AtomicRequest, flags AtomicFlags, userData uint64) error {
	var objs, counts []uint32
	var props []PropertyHandle
	var values []uint64
	for _, obj := range req.objs {
		pv := req.props[obj]
		objs = append(objs, obj)
		counts = append(counts, uint32(len(pv)))
		for _, v := range pv {
			props = append(props, v.prop)
			values = append(values, v.value)
		}
	}

	arg := modeAtomic{
		Flags:         uint32(flags),
		CountObjs:     uint32(len(objs)),
		ObjsPtr:       slicePtr(objs),
		CountPropsPtr: slicePtr(counts),
		PropsPtr:      slicePtr(props),
		PropValuesPtr: slicePtr(values),
		UserData:      userData,
	}
	err := ioctl(c.Fd(), ioctlModeAtomic, &arg)
	keepAlive(objs, counts, props, values)
	if err == nil {
		return nil
	}

	return commitError(c.node, flags, userData, err)
}

func commitError(dev Node, flags AtomicFlags, userData uint64, err error) error {
	if flags&AtomicTestOnly != 0 && errors.Is(err, unix.EINVAL) {
		return &TestFailedError{Crtc: CrtcHandle(userData), Err: err}
	}

	aerr := &AccessError{Op: "atomic commit", Dev: dev.String(), Err: err}
	if flags&AtomicTestOnly == 0 && !aerr.IsPermission() && !aerr.IsTransient() {
		return &ContextLostError{Err: aerr}
	}
	return aerr
}
