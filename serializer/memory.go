package serializer

import (
	"fmt"
	"unsafe"
)

// MemoryHandler is the allocation policy boundary for loaded packs.
// Allocate must return a buffer of exactly size bytes whose base is
// aligned to alignment; it must succeed or panic, there is no nil
// return path. Free releases a buffer obtained from Allocate.
type MemoryHandler interface {
	Allocate(t MemType, size, alignment int) []byte
	Free(t MemType, mem []byte)
}

// HeapHandler is the system-RAM memory handler. The device-memory
// path is not implemented and panics.
type HeapHandler struct{}

// DefaultMemory is the handler used when New is given nil. It is a
// named default, not a process-wide mutable singleton; pass your own
// handler to New to replace it.
var DefaultMemory MemoryHandler = HeapHandler{}

// Allocate returns a zeroed, aligned buffer from the Go heap.
func (HeapHandler) Allocate(t MemType, size, alignment int) []byte {
	if t.VRAM() {
		panic("serializer: default memory handler has no device-memory path")
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		panic(fmt.Sprintf("serializer: invalid alignment %d", alignment))
	}
	buf := make([]byte, size+alignment)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	off := int((-base) & uintptr(alignment-1))
	return buf[off : off+size : off+size]
}

// Free releases a buffer. Heap buffers are garbage collected, so this
// only severs the handler's view of them.
func (HeapHandler) Free(t MemType, mem []byte) {
	if t.VRAM() {
		panic("serializer: default memory handler has no device-memory path")
	}
}
