// Command luxo drives the displays attached to the seat's GPUs.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hepp3n/luxo/compositor"
	"github.com/hepp3n/luxo/config"
	"github.com/hepp3n/luxo/cursor"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/internal/debug"
	"github.com/hepp3n/luxo/internal/monotonic"
	"github.com/hepp3n/luxo/kms"
	"github.com/hepp3n/luxo/loop"
	"github.com/hepp3n/luxo/scanner"
	"github.com/hepp3n/luxo/session"
	"github.com/hepp3n/luxo/space"
	"github.com/hepp3n/luxo/udev"
	"github.com/sirupsen/logrus"
)

const sysfsDRM = "/sys/class/drm"

// devices returns the cards to start with and the primary one.
func devices(path string) ([]udev.Device, drm.Node) {
	devs, err := udev.Devices(sysfsDRM)
	if err != nil {
		logrus.Errorf("enumerate devices: %v", err)
	}

	if path == "" {
		primary, ok := udev.PrimaryGPU(devs)
		if !ok {
			return devs, drm.Node{}
		}
		return devs, primary.Node
	}

	node, err := drm.NodeFromPath(path)
	if err != nil {
		logrus.Fatalf("primary device %q: %v", path, err)
	}
	for _, d := range devs {
		if d.Node == node {
			return devs, node
		}
	}
	return append(devs, udev.Device{Node: node, Path: path}), node
}

func main() {
	cfg := config.FromEnv()
	flag.StringVar(&cfg.DevicePath, "device", cfg.DevicePath, "primary DRM device path")
	flag.BoolVar(&cfg.Disable10Bit, "8bit", cfg.Disable10Bit, "only use 8-bit color formats")
	flag.BoolVar(&cfg.DisableDirectScanout, "no-scanout", cfg.DisableDirectScanout, "never scan out client buffers directly")
	flag.StringVar(&cfg.Seat, "seat", cfg.Seat, "seat name")
	flag.IntVar(&cfg.Debug, "debug", cfg.Debug, "log verbosity (1 debug, 2 trace)")
	flag.Parse()

	if cfg.Debug > 0 {
		debug.SetLevel(cfg.Debug)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	devs, primary := devices(cfg.DevicePath)
	if len(devs) == 0 {
		logrus.Warn("no DRM devices found, waiting for hotplug")
	}

	l := loop.New()
	sess := session.NewDirect(cfg.Seat)
	state := compositor.New(compositor.Config{
		Loop:                 l,
		Clock:                monotonic.System{},
		Session:              sess,
		Backend:              &kms.Backend{Formats: cfg.ColorFormats()},
		Space:                space.NewTiling(),
		Theme:                cursor.Load(cfg.CursorTheme, cfg.CursorSize),
		Primary:              primary,
		Quirks:               scanner.DefaultQuirks(),
		DisableDirectScanout: cfg.DisableDirectScanout,
	})

	l.Post(func() error {
		state.AddDevices(devs)
		return nil
	})

	mon, err := udev.NewMonitor()
	if err != nil {
		logrus.Warnf("hotplug disabled: %v", err)
	} else {
		l.Source("udev", func(ctx context.Context, post func(func() error)) {
			err := mon.Run(ctx, func(ev udev.Event) {
				post(func() error {
					state.HandleDevice(ev)
					return nil
				})
			})
			if err != nil {
				logrus.Errorf("udev: %v", err)
			}
		})
	}

	l.Source("session", func(ctx context.Context, post func(func() error)) {
		sess.Listen(ctx, func(ev session.Event) {
			post(func() error {
				state.HandleSession(ev)
				return nil
			})
		})
	})

	logrus.WithFields(logrus.Fields{
		"seat":    cfg.Seat,
		"primary": primary,
		"formats": cfg.ColorFormats(),
	}).Info("starting")

	err = l.Run(ctx)
	state.Close()
	if err != nil {
		logrus.Fatalf("event loop: %v", err)
	}
}
