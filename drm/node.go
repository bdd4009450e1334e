package drm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const drmMajor = 226

type NodeType int

const (
	NodePrimary NodeType = iota
	NodeControl
	NodeRender
)

func (t NodeType) prefix() string {
	switch t {
	case NodeControl:
		return "controlD"
	case NodeRender:
		return "renderD"
	default:
		return "card"
	}
}

func (t NodeType) base() uint32 {
	switch t {
	case NodeControl:
		return 64
	case NodeRender:
		return 128
	default:
		return 0
	}
}

// ErrNotDRM is returned for device files that are not DRM nodes.
var ErrNotDRM = errors.New("not a DRM device node")

// Node identifies a DRM device file by its device number. Nodes are
// comparable and are used as keys throughout the compositor.
type Node struct {
	dev uint64
}

func NodeFromDevID(dev uint64) Node {
	return Node{dev: dev}
}

func NodeFromPath(path string) (Node, error) {
	var st unix.Stat_t
	err := unix.Stat(path, &st)
	if err != nil {
		return Node{}, fmt.Errorf("stat %q: %w", path, err)
	}
	return nodeFromStat(&st)
}

func NodeFromFile(file *os.File) (Node, error) {
	var st unix.Stat_t
	err := unix.Fstat(int(file.Fd()), &st)
	if err != nil {
		return Node{}, fmt.Errorf("stat %q: %w", file.Name(), err)
	}
	return nodeFromStat(&st)
}

func nodeFromStat(st *unix.Stat_t) (Node, error) {
	if st.Mode&unix.S_IFMT != unix.S_IFCHR || unix.Major(uint64(st.Rdev)) != drmMajor {
		return Node{}, ErrNotDRM
	}
	return Node{dev: uint64(st.Rdev)}, nil
}

func (n Node) DevID() uint64 { return n.dev }
func (n Node) Major() uint32 { return unix.Major(n.dev) }
func (n Node) Minor() uint32 { return unix.Minor(n.dev) }

func (n Node) IsZero() bool { return n.dev == 0 }

func (n Node) Type() NodeType {
	switch minor := n.Minor(); {
	case minor >= 128:
		return NodeRender
	case minor >= 64:
		return NodeControl
	default:
		return NodePrimary
	}
}

// Sibling returns the node of the given type belonging to the same
// device, without checking that it exists.
func (n Node) Sibling(t NodeType) Node {
	minor := n.Minor()&0x3f | t.base()
	return Node{dev: unix.Mkdev(n.Major(), minor)}
}

// WithType returns the node of the given type belonging to the same
// device. It fails if the device does not expose such a node.
func (n Node) WithType(t NodeType) (Node, error) {
	s := n.Sibling(t)
	_, err := os.Stat(s.sysfsPath())
	if err != nil {
		return Node{}, fmt.Errorf("no %v node for %v: %w", t.prefix(), n, err)
	}
	return s, nil
}

// Path returns the conventional device file path of n.
func (n Node) Path() string {
	return filepath.Join("/dev/dri", n.String())
}

func (n Node) sysfsPath() string {
	return fmt.Sprintf("/sys/dev/char/%d:%d", n.Major(), n.Minor())
}

func (n Node) String() string {
	return fmt.Sprintf("%v%d", n.Type().prefix(), n.Minor())
}
