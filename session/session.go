// Package session controls access to the seat's devices.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type Event int

const (
	// Pause means that the session lost access to its devices, for
	// example because of a VT switch.
	Pause Event = iota
	Activate
)

func (ev Event) String() string {
	switch ev {
	case Pause:
		return "pause"
	case Activate:
		return "activate"
	}

	return "unknown"
}

// Session opens devices on behalf of the compositor.
type Session interface {
	Open(path string) (*os.File, error)
	Close(*os.File) error
	Seat() string
	Active() bool
}

// Direct opens devices itself. It requires the process to have access
// to them already, and maps the VT release and acquire signals to pause
// and resume.
type Direct struct {
	seat string

	m      sync.Mutex
	active bool
	files  map[*os.File]struct{}
}

func NewDirect(seat string) *Direct {
	if seat == "" {
		seat = "seat0"
	}
	return &Direct{
		seat:   seat,
		active: true,
		files:  make(map[*os.File]struct{}),
	}
}

func (d *Direct) Seat() string {
	return d.seat
}

func (d *Direct) Active() bool {
	d.m.Lock()
	defer d.m.Unlock()
	return d.active
}

func (d *Direct) Open(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	file := os.NewFile(uintptr(fd), path)

	d.m.Lock()
	defer d.m.Unlock()
	d.files[file] = struct{}{}
	return file, nil
}

func (d *Direct) Close(file *os.File) error {
	d.m.Lock()
	_, ok := d.files[file]
	delete(d.files, file)
	d.m.Unlock()

	if !ok {
		return fmt.Errorf("%v: %w", file.Name(), os.ErrInvalid)
	}
	err := file.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Listen delivers pause and activate events until ctx is done.
func (d *Direct) Listen(ctx context.Context, handle func(Event)) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			ev := Activate
			if sig == syscall.SIGUSR1 {
				ev = Pause
			}
			if !d.setActive(ev == Activate) {
				continue
			}
			logrus.WithField("seat", d.seat).Infof("session: %v", ev)
			handle(ev)
		}
	}
}

// setActive reports whether the state changed.
func (d *Direct) setActive(active bool) bool {
	d.m.Lock()
	defer d.m.Unlock()
	if d.active == active {
		return false
	}
	d.active = active
	return true
}
