package drm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadySwapped is returned when a frame is submitted, or
	// acknowledged, for which there is nothing left to do.
	ErrAlreadySwapped = errors.New("frame already swapped")

	// ErrDeviceInactive is returned while the session does not have
	// control over the device.
	ErrDeviceInactive = errors.New("device is inactive")
)

// AccessError is a failed ioctl.
type AccessError struct {
	Op  string
	Dev string
	Err error
}

func (err *AccessError) Error() string {
	return fmt.Sprintf("%v on %v: %v", err.Op, err.Dev, err.Err)
}

func (err *AccessError) Unwrap() error {
	return err.Err
}

// IsPermission reports whether the device refused the operation because
// the process lacks the right to do it, typically because it is no
// longer DRM master.
func (err *AccessError) IsPermission() bool {
	return errors.Is(err.Err, unix.EACCES) || errors.Is(err.Err, unix.EPERM) || errors.Is(err.Err, os.ErrPermission)
}

// IsTransient reports whether the operation may succeed if it is simply
// tried again later.
func (err *AccessError) IsTransient() bool {
	return errors.Is(err.Err, unix.EBUSY) || errors.Is(err.Err, unix.EINTR) || errors.Is(err.Err, unix.EAGAIN)
}

// TestFailedError is returned when the kernel rejects a test-only commit
// for a state that is expected to work. The hardware state has drifted
// from what the compositor thinks it is.
type TestFailedError struct {
	Crtc CrtcHandle
	Err  error
}

func (err *TestFailedError) Error() string {
	return fmt.Sprintf("test commit failed on crtc %d: %v", err.Crtc, err.Err)
}

func (err *TestFailedError) Unwrap() error {
	return err.Err
}

// ContextLostError means that the rendering or display context is gone
// and cannot be recovered.
type ContextLostError struct {
	Err error
}

func (err *ContextLostError) Error() string {
	return fmt.Sprintf("context lost: %v", err.Err)
}

func (err *ContextLostError) Unwrap() error {
	return err.Err
}

func access(op string, dev Node, err error) error {
	if err == nil {
		return nil
	}
	return &AccessError{Op: op, Dev: dev.String(), Err: err}
}
