// Package monotonic reads the clock that the kernel uses for display
// timestamps.
package monotonic

import (
	"time"

	"golang.org/x/sys/unix"
)

// Clock reports a monotonic time as an offset from an arbitrary epoch.
type Clock interface {
	Now() time.Duration
}

// System is CLOCK_MONOTONIC, which is what DRM timestamps page-flip
// events with.
type System struct{}

func (System) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(err)
	}
	return time.Duration(ts.Nano())
}

// Timeval converts a kernel timeval pair to a Duration.
func Timeval(sec, usec uint32) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}

// Manual is a Clock that only moves when told to.
type Manual struct {
	T time.Duration
}

func (m *Manual) Now() time.Duration {
	return m.T
}

func (m *Manual) Advance(d time.Duration) {
	m.T += d
}
