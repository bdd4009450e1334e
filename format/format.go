// Package format describes pixel formats the way the kernel's display
// and buffer-sharing interfaces name them: a fourcc code plus a layout
// modifier.
package format

import (
	"fmt"
	"strings"

	"github.com/hepp3n/luxo/internal/set"
	"golang.org/x/exp/slices"
)

// Fourcc is a four character pixel format code.
type Fourcc uint32

const (
	Argb8888    Fourcc = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	Xrgb8888    Fourcc = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	Abgr8888    Fourcc = 'A' | 'B'<<8 | '2'<<16 | '4'<<24
	Xbgr8888    Fourcc = 'X' | 'B'<<8 | '2'<<16 | '4'<<24
	Argb2101010 Fourcc = 'A' | 'R'<<8 | '3'<<16 | '0'<<24
	Xrgb2101010 Fourcc = 'X' | 'R'<<8 | '3'<<16 | '0'<<24
	Abgr2101010 Fourcc = 'A' | 'B'<<8 | '3'<<16 | '0'<<24
	Xbgr2101010 Fourcc = 'X' | 'B'<<8 | '3'<<16 | '0'<<24
)

func (f Fourcc) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < ' ' || c > '~' {
			return fmt.Sprintf("Fourcc(%#08x)", uint32(f))
		}
	}
	return strings.TrimRight(string(b), " ")
}

var opaque = map[Fourcc]Fourcc{
	Argb8888:    Xrgb8888,
	Abgr8888:    Xbgr8888,
	Argb2101010: Xrgb2101010,
	Abgr2101010: Xbgr2101010,
}

// Opaque returns the variant of f without an alpha channel. ok is false
// if f has no such variant.
func (f Fourcc) Opaque() (o Fourcc, ok bool) {
	o, ok = opaque[f]
	return o, ok
}

// Bpp returns the bits per pixel of f, or 0 if it is unknown.
func (f Fourcc) Bpp() int {
	switch f {
	case Argb8888, Xrgb8888, Abgr8888, Xbgr8888,
		Argb2101010, Xrgb2101010, Abgr2101010, Xbgr2101010:
		return 32
	default:
		return 0
	}
}

// Modifier describes the memory layout of a buffer.
type Modifier uint64

const (
	ModifierLinear Modifier = 0

	// ModifierInvalid means the layout is implied by the driver.
	ModifierInvalid Modifier = 0x00ffffffffffffff
)

func (m Modifier) String() string {
	switch m {
	case ModifierLinear:
		return "linear"
	case ModifierInvalid:
		return "implicit"
	default:
		return fmt.Sprintf("%#x", uint64(m))
	}
}

type Format struct {
	Code     Fourcc
	Modifier Modifier
}

func (f Format) String() string {
	return fmt.Sprintf("%v:%v", f.Code, f.Modifier)
}

type Set = set.Set[Format]

func NewSet(formats ...Format) Set {
	return set.New(formats...)
}

// With returns a set containing every code paired with every modifier.
func With(codes []Fourcc, mods ...Modifier) Set {
	s := make(Set, len(codes)*len(mods))
	for _, c := range codes {
		for _, m := range mods {
			s.Add(Format{Code: c, Modifier: m})
		}
	}
	return s
}

// Codes returns the distinct fourcc codes in s.
func Codes(s Set) set.Set[Fourcc] {
	r := make(set.Set[Fourcc])
	for f := range s {
		r.Add(f.Code)
	}
	return r
}

// Sorted returns the elements of s in a stable order, mostly so that
// they can be logged and compared.
func Sorted(s Set) []Format {
	r := s.Slice()
	slices.SortFunc(r, func(a, b Format) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		case a.Modifier < b.Modifier:
			return -1
		case a.Modifier > b.Modifier:
			return 1
		default:
			return 0
		}
	})
	return r
}
