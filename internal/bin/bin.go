// Package bin contains utilities for dealing with binary representations
// of kernel records, which are always in host byte order.
package bin

import (
	"io"
	"unsafe"
)

type word interface{ ~int32 | ~uint32 }

type dword interface{ ~int64 | ~uint64 }

func Bytes[T word](v T) [4]byte {
	return *(*[4]byte)(unsafe.Pointer(&v))
}

func Value[T word](data [4]byte) T {
	return *(*T)(unsafe.Pointer(&data))
}

func Value64[T dword](data [8]byte) T {
	return *(*T)(unsafe.Pointer(&data))
}

// At decodes the 32-bit value at byte offset off of b.
func At[T word](b []byte, off int) T {
	return Value[T]([4]byte(b[off : off+4]))
}

// At64 decodes the 64-bit value at byte offset off of b.
func At64[T dword](b []byte, off int) T {
	return Value64[T]([8]byte(b[off : off+8]))
}

func Read[T word](r io.Reader) (T, error) {
	var data [4]byte
	_, err := io.ReadFull(r, data[:])
	if err != nil {
		return 0, err
	}

	return Value[T](data), nil
}

func Write[T word](w io.Writer, v T) error {
	data := Bytes(v)
	n, err := w.Write(data[:])
	if (err == nil) && (n < len(data)) {
		return io.ErrShortWrite
	}
	return err
}
