// Package config holds the compositor's user-facing settings.
package config

import (
	"os"
	"strconv"

	"github.com/hepp3n/luxo/format"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// DevicePath overrides the primary GPU. Empty means autodetect.
	DevicePath string

	// Disable10Bit restricts output formats to 8 bits per channel.
	Disable10Bit bool

	// DisableDirectScanout stops client buffers from being put on a
	// plane directly.
	DisableDirectScanout bool

	Seat        string
	CursorTheme string
	CursorSize  int
	Debug       int
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Seat:        "seat0",
		CursorTheme: "default",
		CursorSize:  24,
	}
}

// FromEnv loads the configuration from the environment on top of the
// defaults.
func FromEnv() Config {
	return fromEnv(os.LookupEnv)
}

func fromEnv(lookup func(string) (string, bool)) Config {
	c := Default()

	if v, ok := lookup("LUXO_DRM_DEVICE"); ok {
		c.DevicePath = v
	}
	_, c.Disable10Bit = lookup("LUXO_DISABLE_10BIT")
	_, c.DisableDirectScanout = lookup("LUXO_DISABLE_DIRECT_SCANOUT")
	if v, ok := lookup("XDG_SEAT"); ok && v != "" {
		c.Seat = v
	}
	if v, ok := lookup("XCURSOR_THEME"); ok && v != "" {
		c.CursorTheme = v
	}
	if v, ok := lookup("XCURSOR_SIZE"); ok {
		size, err := strconv.ParseInt(v, 10, 0)
		switch {
		case err != nil:
			logrus.WithField("value", v).Warnf("config: invalid XCURSOR_SIZE: %v", err)
		case size > 0:
			c.CursorSize = int(size)
		}
	}
	if v, ok := lookup("LUXO_DEBUG"); ok {
		level, err := strconv.ParseInt(v, 10, 0)
		if err == nil {
			c.Debug = int(level)
		}
	}

	return c
}

// ColorFormats lists the formats outputs may use, in order of
// preference.
func (c Config) ColorFormats() []format.Fourcc {
	if c.Disable10Bit {
		return []format.Fourcc{format.Abgr8888, format.Argb8888}
	}
	return []format.Fourcc{format.Abgr2101010, format.Argb2101010, format.Abgr8888, format.Argb8888}
}
