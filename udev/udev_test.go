package udev_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hepp3n/luxo/udev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uevent(fields ...string) []byte {
	return []byte(strings.Join(fields, "\x00") + "\x00")
}

func TestParseUevent(t *testing.T) {
	ev, ok := udev.ParseUevent(uevent(
		"change@/devices/pci0000:00/0000:00:02.0/drm/card1",
		"ACTION=change",
		"DEVPATH=/devices/pci0000:00/0000:00:02.0/drm/card1",
		"SUBSYSTEM=drm",
		"HOTPLUG=1",
		"DEVNAME=dri/card1",
		"DEVTYPE=drm_minor",
		"MAJOR=226",
		"MINOR=1",
	))
	require.True(t, ok)
	assert.Equal(t, udev.Changed, ev.Action)
	assert.Equal(t, "card1", ev.Node.String())
	assert.Equal(t, "/dev/dri/card1", ev.Path)

	for _, action := range []string{"add", "remove"} {
		ev, ok := udev.ParseUevent(uevent(action+"@/x", "ACTION="+action, "SUBSYSTEM=drm", "DEVNAME=dri/card0", "MAJOR=226", "MINOR=0"))
		require.True(t, ok)
		assert.Equal(t, map[string]udev.Action{"add": udev.Added, "remove": udev.Removed}[action], ev.Action)
	}
}

func TestParseUeventIgnores(t *testing.T) {
	cases := [][]byte{
		uevent("add@/x", "ACTION=add", "SUBSYSTEM=input", "DEVNAME=input/event3", "MAJOR=13", "MINOR=67"),
		uevent("add@/x", "ACTION=add", "SUBSYSTEM=drm", "DEVNAME=dri/renderD128", "MAJOR=226", "MINOR=128"),
		uevent("add@/x", "ACTION=bind", "SUBSYSTEM=drm", "DEVNAME=dri/card0", "MAJOR=226", "MINOR=0"),
		uevent("libudev", "ACTION=add", "SUBSYSTEM=drm", "DEVNAME=dri/card0", "MAJOR=226", "MINOR=0"),
		uevent("add@/x", "ACTION=add", "SUBSYSTEM=drm", "DEVNAME=dri/card0"),
	}
	for _, c := range cases {
		_, ok := udev.ParseUevent(c)
		assert.False(t, ok, "%q", c)
	}
}

func TestDevices(t *testing.T) {
	root := t.TempDir()
	mk := func(name, dev, vga string) {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "device"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "dev"), []byte(dev+"\n"), 0644))
		if vga != "" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "device", "boot_vga"), []byte(vga+"\n"), 0644))
		}
	}
	mk("card1", "226:1", "1")
	mk("card0", "226:0", "0")
	mk("card0-HDMI-A-1", "", "")
	mk("renderD128", "226:128", "")

	devs, err := udev.Devices(root)
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "card0", devs[0].Node.String())
	assert.Equal(t, "/dev/dri/card1", devs[1].Path)

	primary, ok := udev.PrimaryGPU(devs)
	require.True(t, ok)
	assert.Equal(t, "card1", primary.Node.String())

	_, ok = udev.PrimaryGPU(nil)
	assert.False(t, ok)
}
