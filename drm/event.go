package drm

import (
	"fmt"
	"time"

	"github.com/hepp3n/luxo/internal/bin"
	"github.com/hepp3n/luxo/internal/monotonic"
)

const (
	eventVBlank       = 0x01
	eventFlipComplete = 0x02
	eventCrtcSequence = 0x03

	eventHeaderSize = 8
	vblankEventSize = 32
)

type EventKind int

const (
	// EventVBlank is delivered when a queued page flip completes.
	EventVBlank EventKind = iota

	// EventError is delivered when reading from the device fails.
	EventError
)

// EventMetadata describes when a frame became visible.
type EventMetadata struct {
	Sequence uint32
	Time     time.Duration

	// Monotonic is true if Time is on CLOCK_MONOTONIC.
	Monotonic bool
}

type Event struct {
	Kind EventKind
	Crtc CrtcHandle
	Meta *EventMetadata
	Err  error
}

func (ev Event) String() string {
	switch ev.Kind {
	case EventVBlank:
		if ev.Meta != nil {
			return fmt.Sprintf("vblank(crtc %d, seq %d, %v)", ev.Crtc, ev.Meta.Sequence, ev.Meta.Time)
		}
		return fmt.Sprintf("vblank(crtc %d)", ev.Crtc)
	default:
		return fmt.Sprintf("error(%v)", ev.Err)
	}
}

// ParseEvents decodes the records returned by a read from a DRM device.
// Unknown record types are skipped. The user data of a page flip is
// expected to be the CRTC handle, which older kernels do not fill in
// themselves.
func ParseEvents(buf []byte, monotonicClock bool) ([]Event, error) {
	var events []Event
	for len(buf) > 0 {
		if len(buf) < eventHeaderSize {
			return events, fmt.Errorf("truncated event header: %v bytes", len(buf))
		}

		typ := bin.At[uint32](buf, 0)
		length := int(bin.At[uint32](buf, 4))
		if length < eventHeaderSize || length > len(buf) {
			return events, fmt.Errorf("invalid event length %v", length)
		}

		rec := buf[:length]
		buf = buf[length:]

		switch typ {
		case eventVBlank, eventFlipComplete:
			if len(rec) < vblankEventSize {
				return events, fmt.Errorf("truncated vblank event: %v bytes", len(rec))
			}

			userData := bin.At64[uint64](rec, 8)
			sec := bin.At[uint32](rec, 16)
			usec := bin.At[uint32](rec, 20)
			seq := bin.At[uint32](rec, 24)
			crtc := bin.At[uint32](rec, 28)
			if crtc == 0 {
				crtc = uint32(userData)
			}

			ev := Event{Kind: EventVBlank, Crtc: CrtcHandle(crtc)}
			if sec != 0 || usec != 0 {
				ev.Meta = &EventMetadata{
					Sequence:  seq,
					Time:      monotonic.Timeval(sec, usec),
					Monotonic: monotonicClock,
				}
			}
			events = append(events, ev)

		case eventCrtcSequence:
			// Not requested by anything.
		}
	}

	return events, nil
}
