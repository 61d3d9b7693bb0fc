// Package endian provides byte-swap primitives and byte-order selection
// for the container's structured records. Payload bytes are never
// swapped; only the header and info-region fields go through these.
package endian

import (
	"encoding/binary"
	"math/bits"
)

// Swap16 reverses the bytes of a 16-bit value.
func Swap16(v uint16) uint16 {
	return bits.ReverseBytes16(v)
}

// Swap32 reverses the bytes of a 32-bit value.
func Swap32(v uint32) uint32 {
	return bits.ReverseBytes32(v)
}

// Swap64 reverses the bytes of a 64-bit value.
func Swap64(v uint64) uint64 {
	return bits.ReverseBytes64(v)
}

// Order returns the byte order for structured records given whether
// the writer requested a swap. Native order for the on-disk format is
// little-endian.
func Order(swap bool) binary.ByteOrder {
	if swap {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
