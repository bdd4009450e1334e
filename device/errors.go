package device

import (
	"errors"
	"fmt"

	"github.com/hepp3n/luxo/drm"
)

// ErrExists is returned when adding a device that is already
// registered.
var ErrExists = errors.New("device already registered")

// DeviceOpenError is returned when the session refuses to open a
// device.
type DeviceOpenError struct {
	Path string
	Err  error
}

func (err *DeviceOpenError) Error() string {
	return fmt.Sprintf("open %v: %v", err.Path, err.Err)
}

func (err *DeviceOpenError) Unwrap() error {
	return err.Err
}

// DrmInitError is returned when an opened device cannot be used for
// mode-setting.
type DrmInitError struct {
	Node drm.Node
	Err  error
}

func (err *DrmInitError) Error() string {
	return fmt.Sprintf("initialize %v: %v", err.Node, err.Err)
}

func (err *DrmInitError) Unwrap() error {
	return err.Err
}

// AllocatorInitError is returned when no buffers can be allocated on a
// device.
type AllocatorInitError struct {
	Node drm.Node
	Err  error
}

func (err *AllocatorInitError) Error() string {
	return fmt.Sprintf("create allocator for %v: %v", err.Node, err.Err)
}

func (err *AllocatorInitError) Unwrap() error {
	return err.Err
}

// RenderNodeBindError is returned when a device's renderer cannot be
// set up or registered.
type RenderNodeBindError struct {
	Node drm.Node
	Err  error
}

func (err *RenderNodeBindError) Error() string {
	return fmt.Sprintf("bind render node of %v: %v", err.Node, err.Err)
}

func (err *RenderNodeBindError) Unwrap() error {
	return err.Err
}
