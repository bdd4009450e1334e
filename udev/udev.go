// Package udev watches for DRM devices coming and going.
//
// It listens to the kernel's uevent broadcasts directly instead of
// going through udevd, so it sees devices as soon as the kernel creates
// them.
package udev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hepp3n/luxo/drm"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type Action int

const (
	Added Action = iota
	Changed
	Removed
)

func (a Action) String() string {
	switch a {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	}

	return "unknown"
}

// Event is a change to a DRM primary node.
type Event struct {
	Action Action
	Node   drm.Node
	Path   string
}

// ParseUevent decodes a kernel uevent message. ok is false for messages
// that do not concern DRM card nodes.
func ParseUevent(msg []byte) (ev Event, ok bool) {
	fields := bytes.Split(msg, []byte{0})
	if len(fields) == 0 || !bytes.Contains(fields[0], []byte{'@'}) {
		// Messages rebroadcast by udevd start with "libudev".
		return ev, false
	}

	env := make(map[string]string, len(fields))
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(string(f), "=")
		if ok {
			env[k] = v
		}
	}

	if env["SUBSYSTEM"] != "drm" {
		return ev, false
	}
	devname := env["DEVNAME"]
	if !strings.HasPrefix(filepath.Base(devname), "card") {
		return ev, false
	}

	switch env["ACTION"] {
	case "add":
		ev.Action = Added
	case "change":
		ev.Action = Changed
	case "remove":
		ev.Action = Removed
	default:
		return ev, false
	}

	major, err := strconv.ParseUint(env["MAJOR"], 10, 32)
	if err != nil {
		return ev, false
	}
	minor, err := strconv.ParseUint(env["MINOR"], 10, 32)
	if err != nil {
		return ev, false
	}

	ev.Node = drm.NodeFromDevID(unix.Mkdev(uint32(major), uint32(minor)))
	ev.Path = filepath.Join("/dev", devname)
	return ev, true
}

// Monitor receives kernel uevents.
type Monitor struct {
	file *os.File
}

func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}

	err = unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1})
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind netlink socket: %w", err)
	}

	return &Monitor{file: os.NewFile(uintptr(fd), "uevent")}, nil
}

func (m *Monitor) Close() error {
	return m.file.Close()
}

// Run calls handle for every DRM event until ctx is done or the monitor
// is closed. The monitor is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, handle func(Event)) error {
	done := make(chan struct{})
	defer close(done)
	defer m.file.Close()

	go func() {
		select {
		case <-ctx.Done():
			m.file.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 8192)
	for {
		n, err := m.file.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read uevent: %w", err)
		}

		ev, ok := ParseUevent(buf[:n])
		if !ok {
			continue
		}
		logrus.WithField("node", ev.Node).Debugf("udev: %v", ev.Action)
		handle(ev)
	}
}

// Device is a DRM card found in sysfs.
type Device struct {
	Node    drm.Node
	Path    string
	BootVGA bool
}

// Devices lists the DRM cards under root, which is normally
// /sys/class/drm, ordered by name.
func Devices(root string) ([]Device, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devs []Device
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "card") || strings.Contains(name, "-") {
			continue
		}

		dev, err := os.ReadFile(filepath.Join(root, name, "dev"))
		if err != nil {
			logrus.WithField("card", name).Debugf("udev: %v", err)
			continue
		}
		majs, mins, ok := strings.Cut(strings.TrimSpace(string(dev)), ":")
		if !ok {
			continue
		}
		major, err1 := strconv.ParseUint(majs, 10, 32)
		minor, err2 := strconv.ParseUint(mins, 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}

		vga, _ := os.ReadFile(filepath.Join(root, name, "device", "boot_vga"))
		devs = append(devs, Device{
			Node:    drm.NodeFromDevID(unix.Mkdev(uint32(major), uint32(minor))),
			Path:    filepath.Join("/dev/dri", name),
			BootVGA: strings.TrimSpace(string(vga)) == "1",
		})
	}

	sort.Slice(devs, func(i, j int) bool { return devs[i].Node.Minor() < devs[j].Node.Minor() })
	return devs, nil
}

// PrimaryGPU picks the card the firmware booted with, or else the first
// card.
func PrimaryGPU(devs []Device) (Device, bool) {
	for _, d := range devs {
		if d.BootVGA {
			return d, true
		}
	}
	if len(devs) > 0 {
		return devs[0], true
	}
	return Device{}, false
}
