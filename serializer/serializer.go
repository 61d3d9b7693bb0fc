package serializer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/TFMV/blockpack/compress"
	"github.com/TFMV/blockpack/stream"
)

const (
	// FormatVersion identifies the container format. A header whose
	// version field matches only after a byte swap was written for the
	// opposite endian.
	FormatVersion = 1

	// MaxBlockSize is the compression block granularity. Packs larger
	// than this are split into multiple blocks.
	MaxBlockSize = 64 * 1024

	slotSize = 8
)

var (
	// ErrWrongVersion is returned when the file was written with the
	// opposite endian, a different root size, or a different resource
	// version.
	ErrWrongVersion = errors.New("wrong version")
	// ErrUnknownFileType is returned when the header does not match
	// the format at all.
	ErrUnknownFileType = errors.New("unknown file type")
)

// MemType is a bitset classifying an allocation. Two values pool into
// the same pack iff their (unique, temp, vram) triple is equal.
type MemType uint8

const (
	// MemUnique marks an allocation the caller frees individually.
	MemUnique MemType = 1 << 0
	// MemTemp marks an allocation the loader releases once the
	// post-load hook returns, unless the hook claims it. Mutually
	// exclusive with MemUnique.
	MemTemp MemType = 1 << 1
	// MemVRAM targets the device-memory path of the memory handler.
	MemVRAM MemType = 1 << 2

	memPoolMask = MemUnique | MemTemp | MemVRAM
)

// Unique reports whether the unique flag is set.
func (m MemType) Unique() bool { return m&MemUnique != 0 }

// Temp reports whether the temp flag is set.
func (m MemType) Temp() bool { return m&MemTemp != 0 }

// VRAM reports whether the vram flag is set.
func (m MemType) VRAM() bool { return m&MemVRAM != 0 }

// Ptr is a pointer slot with a fixed 8-byte layout on disk and in
// memory. While saving it holds a live pointer into the user's graph;
// after loading it holds an interior pointer into a pack buffer.
//
// A Ptr does not survive being copied into a differently-laid-out
// struct: the serializer records its in-struct offset.
type Ptr[T any] struct {
	p unsafe.Pointer
}

// The format reserves pointer slots at full 64 bits; this fails to
// compile on hosts whose pointers are narrower.
var _ [slotSize]byte = [unsafe.Sizeof(Ptr[byte]{})]byte{}

// Set points the slot at v.
func (p *Ptr[T]) Set(v *T) { p.p = unsafe.Pointer(v) }

// Get returns the pointee, or nil.
func (p *Ptr[T]) Get() *T { return (*T)(p.p) }

// IsNil reports whether the slot is empty.
func (p *Ptr[T]) IsNil() bool { return p.p == nil }

// Slice views the pointee as a slice of n elements. The elements must
// have been serialized (or loaded) as one contiguous run.
func (p *Ptr[T]) Slice(n int) []T {
	if p.p == nil {
		return nil
	}
	return unsafe.Slice((*T)(p.p), n)
}

// Serializable is implemented by types that describe their own layout.
// The descriptor is invoked during save only; loading never runs it.
type Serializable interface {
	SerializeWith(s *Serializer) error
}

// Resource is implemented by root types. The version is written to the
// header and checked on load.
type Resource interface {
	Serializable
	ResourceVersion() uint16
}

// PostLoader is the optional post-load hook on a root type. It runs on
// the loading goroutine after pointer resolution; it may claim the
// temp pack via DontFreeTempData, register data with other systems, or
// copy data it wants to own. It must not reinitialize loaded fields.
type PostLoader interface {
	PostLoad(s *Serializer) error
}

// SaveOptions configures a save.
type SaveOptions struct {
	// Level is the compression level for packs and the info region.
	Level compress.Level
	// RootFlags is the memory type of the root pack.
	RootFlags MemType
	// SwapEndian emits header and info-region fields byte-swapped for
	// an opposite-endian reader. Payload bytes stay in writer-native
	// order.
	SwapEndian bool
}

// DefaultSaveOptions returns the default save configuration.
func DefaultSaveOptions() SaveOptions {
	return SaveOptions{Level: compress.Medium}
}

// Serializer drives both saving and loading. A Serializer is not
// reentrant and not safe for concurrent use; Save and Load are
// blocking calls.
type Serializer struct {
	handler MemoryHandler
	order   binary.ByteOrder

	// Save-side state.
	write *writing
	level compress.Level

	// Walker frame: the object currently serializing.
	iPack     int
	classPos  uint32
	classPtr  unsafe.Pointer
	classSize uint32

	hdr Header

	// Load-side state.
	loaded      [][]byte
	loadedFlags []MemType
	tempData    []byte
	tempFlags   MemType
	freeTemp    bool
}

// New creates a Serializer using the given memory handler, or
// DefaultMemory when handler is nil.
func New(handler MemoryHandler) *Serializer {
	if handler == nil {
		handler = DefaultMemory
	}
	return &Serializer{
		handler:  handler,
		order:    binary.LittleEndian,
		freeTemp: true,
	}
}

// SetNativeOrder overrides the byte order this host is assumed to use
// for header and info-region fields. The default is little-endian; a
// big-endian reader of a swap-saved file would pass binary.BigEndian.
func (s *Serializer) SetNativeOrder(order binary.ByteOrder) {
	s.order = order
}

// ResourceVersion returns the resource version from the header (after
// LoadHeader) or the one being written (during Save).
func (s *Serializer) ResourceVersion() uint16 { return s.hdr.ResourceVersion }

// SetResourceVersion records the user version written to the header.
// Descriptors may call this during the save walk.
func (s *Serializer) SetResourceVersion(v uint16) { s.hdr.ResourceVersion = v }

// DontFreeTempData transfers ownership of the temp pack to the caller.
// It takes effect when called from a PostLoad hook or before Load, and
// stays in effect for later loads on the same Serializer; without it
// the loader frees the temp pack as soon as the hook returns.
func (s *Serializer) DontFreeTempData() { s.freeTemp = false }

// TempData returns the temp pack's bytes. Valid after a load that
// carried a temp pack, until the loader frees it.
func (s *Serializer) TempData() []byte { return s.tempData }

// FreeLoaded returns every pack buffer retained by the last load to
// the memory handler. Pointers into the loaded graph are invalid
// afterwards.
func (s *Serializer) FreeLoaded() {
	for i, buf := range s.loaded {
		if buf != nil {
			s.handler.Free(s.loadedFlags[i], buf)
		}
	}
	s.loaded = nil
	s.loadedFlags = nil
	s.tempData = nil
}

// Load reads a container holding a T and returns the in-place root.
// The pack buffers backing the result stay retained by the Serializer
// until FreeLoaded.
func Load[T any](s *Serializer, f stream.Stream) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if err := s.LoadHeader(f, size); err != nil {
		return nil, err
	}
	if r, ok := any(&zero).(Resource); ok {
		if s.hdr.ResourceVersion != r.ResourceVersion() {
			return nil, fmt.Errorf("resource version %d, want %d: %w",
				s.hdr.ResourceVersion, r.ResourceVersion(), ErrWrongVersion)
		}
	}
	p, err := s.LoadObject(f)
	if err != nil {
		return nil, err
	}
	obj := (*T)(p)
	if err := s.resolveObject(any(obj)); err != nil {
		return nil, err
	}
	return obj, nil
}

// LoadFile opens path and loads the container it holds.
func LoadFile[T any](s *Serializer, path string) (*T, error) {
	f, err := stream.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load[T](s, f)
}

// SaveFile opens path, saves root into it, and closes it.
func (s *Serializer) SaveFile(path string, root Resource, opts SaveOptions) error {
	f, err := stream.Create(path)
	if err != nil {
		return err
	}
	if err := s.Save(f, root, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
