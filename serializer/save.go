package serializer

import (
	"fmt"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/TFMV/blockpack/compress"
	"github.com/TFMV/blockpack/endian"
	"github.com/TFMV/blockpack/stream"
)

// writing is the transient save context: the packs under construction,
// the pointer table, the per-block compressed sizes in emission order,
// and the destination stream.
type writing struct {
	packs  []*packWriter
	refs   []Ref
	csizes []uint32
	dst    stream.Stream
	swap   bool
}

func (w *writing) allocPack(flags MemType) int {
	w.packs = append(w.packs, newPackWriter(flags))
	return len(w.packs) - 1
}

// frame identifies the object currently serializing: its pack, its
// start offset within the pack, and its in-memory address range. A
// field is local iff its address lies inside the range.
type frame struct {
	iPack     int
	classPos  uint32
	classPtr  unsafe.Pointer
	classSize uint32
}

func (s *Serializer) frameState() frame {
	return frame{s.iPack, s.classPos, s.classPtr, s.classSize}
}

func (s *Serializer) setFrame(f frame) {
	s.iPack, s.classPos, s.classPtr, s.classSize = f.iPack, f.classPos, f.classPtr, f.classSize
}

func (s *Serializer) curPack() *packWriter {
	return s.write.packs[s.iPack]
}

func (s *Serializer) isLocal(addr unsafe.Pointer) bool {
	off := uintptr(addr) - uintptr(s.classPtr)
	return off < uintptr(s.classSize)
}

// localOffset returns the byte offset of addr inside the current
// frame. Passing a non-local address is caller misuse.
func (s *Serializer) localOffset(addr unsafe.Pointer) int {
	off := uintptr(addr) - uintptr(s.classPtr)
	if off >= uintptr(s.classSize) {
		panic("serializer: field address outside the object being serialized; serialize pointed-to data through the pointer op")
	}
	return int(off)
}

// writeLocal writes size raw bytes from addr at the pack offset the
// frame assigns to addr.
func (s *Serializer) writeLocal(addr unsafe.Pointer, size int) {
	pw := s.curPack()
	pw.seekTo(int(s.classPos) + s.localOffset(addr))
	pw.write(unsafe.Slice((*byte)(addr), size))
}

// Save serializes root and everything it owns into f. The root pack
// gets opts.RootFlags; child packs get the flags of the pointer op
// that introduced them.
func (s *Serializer) Save(f stream.Stream, root Resource, opts SaveOptions) error {
	rv := reflect.ValueOf(root)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("root must be a non-nil pointer, got %T", root)
	}
	size := rv.Type().Elem().Size()
	if size == 0 {
		return fmt.Errorf("root type %s has no serializable state", rv.Type().Elem())
	}

	s.hdr = Header{ResourceVersion: root.ResourceVersion()}
	s.level = opts.Level
	s.write = &writing{dst: f, swap: opts.SwapEndian}
	defer func() { s.write = nil }()

	// Bind the walker to the root frame and reserve the root bytes at
	// offset 0 of pack 0.
	s.iPack = s.write.allocPack(opts.RootFlags)
	s.classPos = 0
	s.classPtr = rv.UnsafePointer()
	s.classSize = uint32(size)
	s.curPack().grow(int(size))

	if err := root.SerializeWith(s); err != nil {
		return err
	}
	err := s.saveFile()
	runtime.KeepAlive(root)
	return err
}

// Serialize writes one field of the object currently serializing. v
// must be a pointer to the field so its in-struct offset is known.
//
// Integers, floats and booleans write their raw bytes; fixed-size
// arrays recurse per element; a struct implementing Serializable runs
// its descriptor; any other fixed-layout struct writes raw. Fields
// with Go indirection (slices, maps, strings, interfaces, channels,
// funcs, raw pointers) are rejected — dynamic data goes through
// SerializePtr.
func (s *Serializer) Serialize(v any) error {
	if s.write == nil {
		return fmt.Errorf("Serialize called outside a save")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("Serialize requires a non-nil pointer to the field, got %T", v)
	}
	return s.serializeValue(rv.Elem())
}

func (s *Serializer) serializeValue(rv reflect.Value) error {
	t := rv.Type()
	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		s.writeLocal(rv.Addr().UnsafePointer(), int(t.Size()))
		return nil

	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := s.serializeValue(rv.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		addr := rv.Addr().UnsafePointer()
		if desc, ok := rv.Addr().Interface().(Serializable); ok {
			if s.isLocal(addr) {
				// Same frame: the descriptor's fields land at their
				// offsets inside the current object.
				return desc.SerializeWith(s)
			}
			// Outside the frame: the value gets its own region at the
			// current cursor.
			pw := s.curPack()
			pos := pw.tell()
			saved := s.frameState()
			s.classPos = uint32(pos)
			s.classPtr = addr
			s.classSize = uint32(t.Size())
			err := desc.SerializeWith(s)
			s.setFrame(saved)
			if err != nil {
				return err
			}
			pw.seekTo(pos + int(t.Size()))
			return nil
		}
		if err := checkFixedLayout(t); err != nil {
			return err
		}
		s.writeLocal(addr, int(t.Size()))
		return nil
	}
	return fmt.Errorf("cannot serialize %s: type has no in-place byte layout", t)
}

// checkFixedLayout rejects types whose bytes are not a self-contained
// image of their value.
func checkFixedLayout(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.UnsafePointer: // Ptr slots, rewritten at load time
		return nil
	case reflect.Array:
		return checkFixedLayout(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := checkFixedLayout(t.Field(i).Type); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("cannot serialize %s: type has no in-place byte layout", t)
}

func isPrimitive(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// SerializePtr serializes a pointer slot and the count elements it
// points at. The elements are reserved contiguously in a pack chosen
// by flags: a unique allocation always opens a new pack, anything else
// pools into the first pack with equal (unique, temp, vram) flags. A
// ref is recorded so the loader can rewrite the slot.
//
// A nil slot (count must be 0) and a count of 0 write eight zero bytes
// and record nothing.
func SerializePtr[T any](s *Serializer, slot *Ptr[T], count int, flags MemType) error {
	if s.write == nil {
		return fmt.Errorf("SerializePtr called outside a save")
	}
	if count < 0 {
		panic(fmt.Sprintf("serializer: negative element count %d", count))
	}
	target := slot.Get()
	if target == nil && count != 0 {
		panic(fmt.Sprintf("serializer: nil pointer slot with element count %d", count))
	}
	if flags.Unique() && flags.Temp() {
		panic("serializer: unique and temp memory flags are mutually exclusive")
	}

	slotAddr := unsafe.Pointer(slot)
	if target == nil || count == 0 {
		var zero [slotSize]byte
		pw := s.curPack()
		pw.seekTo(int(s.classPos) + s.localOffset(slotAddr))
		pw.write(zero[:])
		return nil
	}

	// A pack that can be freed on its own must not hold the only copy
	// of a child another pack still points into.
	parentFlags := s.curPack().flags
	if parentFlags.Unique() && !flags.Unique() {
		panic("serializer: children of a unique allocation must also be unique")
	}
	if parentFlags.Temp() && !flags.Temp() {
		panic("serializer: children of a temp allocation must also be temp")
	}

	parent := s.iPack
	if flags.Unique() {
		s.iPack = s.write.allocPack(flags)
	} else {
		found := -1
		for i, pw := range s.write.packs {
			if pw.flags&memPoolMask == flags&memPoolMask {
				found = i
				break
			}
		}
		if found < 0 {
			found = s.write.allocPack(flags)
		}
		s.iPack = found
	}

	elemSize := int(unsafe.Sizeof(*target))
	total := elemSize * count
	pw := s.curPack()
	base := pw.alignReserve(total, slotSize)

	s.write.refs = append(s.write.refs, Ref{
		PointingAt:     uint32(base),
		Offset:         s.classPos + uint32(s.localOffset(slotAddr)),
		Count:          uint32(count),
		OffsetPack:     uint16(parent),
		PointingAtPack: uint16(s.iPack),
	})

	// Walk the pointee region under its own frame.
	saved := s.frameState()
	saved.iPack = parent
	s.classPos = uint32(base)
	s.classPtr = unsafe.Pointer(target)
	s.classSize = uint32(total)

	var err error
	if isPrimitive(reflect.TypeFor[T]().Kind()) {
		// Scalar shortcut: one contiguous raw run.
		s.writeLocal(unsafe.Pointer(target), total)
	} else {
		elems := unsafe.Slice(target, count)
		for i := range elems {
			if err = s.serializeValue(reflect.ValueOf(&elems[i]).Elem()); err != nil {
				break
			}
		}
	}
	s.setFrame(saved)
	return err
}

// saveFile compresses every pack and the info region and assembles the
// container: header, info region, then each pack's compressed blocks
// back to back. size_of_data is back-patched once the payload length
// is known.
func (s *Serializer) saveFile() error {
	w := s.write
	ord := endian.Order(w.swap)

	for i, pw := range w.packs {
		if err := s.compressPack(pw); err != nil {
			return fmt.Errorf("failed to compress pack %d: %w", i, err)
		}
	}

	if len(w.packs) > 0xFFFF || len(w.refs) > 0xFFFF || len(w.csizes) > 0xFFFF {
		return fmt.Errorf("container limits exceeded: %d packs, %d pointers, %d blocks",
			len(w.packs), len(w.refs), len(w.csizes))
	}

	// Lay out the info region: packs, refs, block sizes, in order.
	infoSize := len(w.packs)*packRecordSize + len(w.refs)*refRecordSize + len(w.csizes)*4
	info := make([]byte, infoSize)
	off := 0
	for _, pw := range w.packs {
		rec := PackInfo{Flags: pw.flags, UncompressedSize: uint32(pw.size()), BlockCount: pw.blockCount}
		rec.encode(info[off:], ord)
		off += packRecordSize
	}
	for i := range w.refs {
		w.refs[i].encode(info[off:], ord)
		off += refRecordSize
	}
	for _, cs := range w.csizes {
		ord.PutUint32(info[off:], cs)
		off += 4
	}

	infoStored, err := s.compressInfo(info)
	if err != nil {
		return err
	}

	s.hdr.FormatVersion = FormatVersion
	s.hdr.NPacks = uint16(len(w.packs))
	s.hdr.NPointers = uint16(len(w.refs))
	s.hdr.NBlockSizes = uint16(len(w.csizes))
	s.hdr.InfoSize = uint32(len(infoStored))
	s.hdr.AutoVersion = uint16(s.classSize)
	s.hdr.SizeOfData = 0

	start, err := w.dst.Tell()
	if err != nil {
		return err
	}

	var hb [HeaderSize]byte
	s.hdr.encode(hb[:], ord)
	if err := w.dst.WriteSpan(hb[:]); err != nil {
		return err
	}
	if err := w.dst.WriteSpan(infoStored); err != nil {
		return err
	}
	for _, pw := range w.packs {
		if err := w.dst.WriteSpan(pw.compressed); err != nil {
			return err
		}
	}

	// Back-patch size_of_data now that the payload length is known.
	end, err := w.dst.Tell()
	if err != nil {
		return err
	}
	s.hdr.SizeOfData = uint32(end - start - HeaderSize)
	var sz [4]byte
	ord.PutUint32(sz[:], s.hdr.SizeOfData)
	if err := w.dst.SeekTo(start); err != nil {
		return err
	}
	if err := w.dst.WriteSpan(sz[:]); err != nil {
		return err
	}
	return w.dst.SeekEnd(0)
}

// compressPack turns one pack's staged bytes into compressed blocks,
// appending each block's stored size to the context's size list. A
// block that does not shrink is stored verbatim with its uncompressed
// size as the entry, which is how the loader detects it.
func (s *Serializer) compressPack(pw *packWriter) error {
	raw := pw.buf
	pw.blockSize = min(MaxBlockSize, len(raw))
	if pw.blockSize == 0 {
		return fmt.Errorf("pack is empty")
	}

	comp, err := compress.NewCompressor(pw.blockSize, raw, s.level)
	if err != nil {
		return err
	}
	defer comp.Close()

	pw.compressed = make([]byte, 0, ((len(raw)/pw.blockSize)+1)*pw.blockSize)
	pw.blockCount = 0
	scratch := make([]byte, pw.blockSize)

	for {
		n := min(pw.blockSize, len(raw)-comp.Pos())
		written, state, err := comp.Pack(scratch)
		if err != nil {
			return err
		}
		if state == compress.Incompressible {
			pw.compressed = append(pw.compressed, raw[comp.LastPosition():comp.LastPosition()+n]...)
			s.write.csizes = append(s.write.csizes, uint32(n))
			pw.blockCount++
			if comp.Pos() >= len(raw) {
				return nil
			}
			continue
		}
		pw.compressed = append(pw.compressed, scratch[:written]...)
		s.write.csizes = append(s.write.csizes, uint32(written))
		pw.blockCount++
		if state == compress.Done {
			return nil
		}
	}
}

// compressInfo compresses the info region as a single block, falling
// back to the verbatim bytes when they do not shrink. The loader
// distinguishes the two by comparing the stored size with the
// uncompressed size.
func (s *Serializer) compressInfo(info []byte) ([]byte, error) {
	comp, err := compress.NewCompressor(len(info), info, s.level)
	if err != nil {
		return nil, err
	}
	defer comp.Close()

	out := make([]byte, len(info))
	n, state, err := comp.Pack(out)
	if err != nil {
		return nil, fmt.Errorf("failed to compress info region: %w", err)
	}
	if state == compress.Incompressible {
		copy(out, info)
		return out, nil
	}
	return out[:n], nil
}
