package serializer

import (
	"fmt"
	"unsafe"

	"github.com/TFMV/blockpack/compress"
	"github.com/TFMV/blockpack/endian"
	"github.com/TFMV/blockpack/stream"
)

// readHeader reads and validates the fixed header.
func (s *Serializer) readHeader(f stream.Stream) error {
	var raw [HeaderSize]byte
	if err := f.ReadSpan(raw[:]); err != nil {
		return err
	}
	if err := f.Synchronize(); err != nil {
		return err
	}
	var h Header
	h.decode(raw[:], s.order)

	if h.FormatVersion != FormatVersion {
		if endian.Swap16(h.FormatVersion) == FormatVersion {
			return fmt.Errorf("file was written for the opposite endian: %w", ErrWrongVersion)
		}
		return fmt.Errorf("format version %d: %w", h.FormatVersion, ErrUnknownFileType)
	}
	s.hdr = h
	return nil
}

// LoadHeader reads the container header and checks it against the
// format and the reader's root size. This is the cheap first stage of
// a load; LoadObject does the heavy lifting.
func (s *Serializer) LoadHeader(f stream.Stream, sizeOfRoot int) error {
	if err := s.readHeader(f); err != nil {
		return err
	}
	if s.hdr.AutoVersion != uint16(sizeOfRoot) {
		return fmt.Errorf("root structure is %d bytes on disk, %d in this build: %w",
			s.hdr.AutoVersion, sizeOfRoot, ErrWrongVersion)
	}
	return nil
}

// readInfo reads and (if needed) decompresses the info region, then
// decodes its three tables. A stored size equal to the uncompressed
// size means the region was stored verbatim.
func (s *Serializer) readInfo(f stream.Stream) ([]PackInfo, []Ref, []uint32, error) {
	infoSize := s.hdr.infoSize()
	stored := int(s.hdr.InfoSize)
	if stored > infoSize || (infoSize > 0 && stored == 0) {
		return nil, nil, nil, fmt.Errorf("info region stored size %d exceeds uncompressed size %d", stored, infoSize)
	}

	info := make([]byte, infoSize)
	if stored == infoSize {
		if err := f.ReadSpan(info); err != nil {
			return nil, nil, nil, err
		}
		if err := f.Synchronize(); err != nil {
			return nil, nil, nil, err
		}
	} else {
		packed := make([]byte, stored)
		if err := f.ReadSpan(packed); err != nil {
			return nil, nil, nil, err
		}
		if err := f.Synchronize(); err != nil {
			return nil, nil, nil, err
		}
		dec, err := compress.NewDecompressor(infoSize)
		if err != nil {
			return nil, nil, nil, err
		}
		defer dec.Close()
		n, err := dec.Unpack(info, packed)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to decompress info region: %w", err)
		}
		if n != infoSize {
			return nil, nil, nil, fmt.Errorf("info region decompressed to %d bytes, want %d", n, infoSize)
		}
	}

	packs, refs, sizes := decodeInfo(info, &s.hdr, s.order)
	if err := checkCounts(packs, sizes); err != nil {
		return nil, nil, nil, err
	}
	return packs, refs, sizes, nil
}

// readPacks decompresses every pack payload with double-buffered
// read-ahead: while one compressed block is being expanded, the next
// one is already in flight on the stream. alloc provides each pack's
// destination buffer.
func readPacks(f stream.Stream, packs []PackInfo, sizes []uint32, alloc func(PackInfo) ([]byte, error)) ([][]byte, error) {
	var bufs [2][]byte
	bufs[0] = make([]byte, MaxBlockSize)
	bufs[1] = make([]byte, MaxBlockSize)
	cur := 0
	iBlock := 0

	// Prime the pipeline with the very first block.
	if len(packs) > 0 {
		if err := f.ReadSpan(bufs[cur][:sizes[0]]); err != nil {
			return nil, err
		}
	}

	out := make([][]byte, len(packs))
	for iPack, pk := range packs {
		blockSize := int(min(uint32(MaxBlockSize), pk.UncompressedSize))
		dec, err := compress.NewDecompressor(blockSize)
		if err != nil {
			return nil, err
		}

		dst, err := alloc(pk)
		if err != nil {
			dec.Close()
			return nil, err
		}
		if len(dst) != int(pk.UncompressedSize) {
			dec.Close()
			return nil, fmt.Errorf("allocator returned %d bytes for pack %d, want %d", len(dst), iPack, pk.UncompressedSize)
		}
		out[iPack] = dst

		written := 0
		for i := uint32(1); i < pk.BlockCount; i++ {
			cur ^= 1
			iBlock++
			if err := f.Synchronize(); err != nil {
				dec.Close()
				return nil, err
			}
			if err := f.ReadSpan(bufs[cur][:sizes[iBlock]]); err != nil {
				dec.Close()
				return nil, err
			}

			// Expand the block read one step ago while the next one is
			// in flight. A stored size equal to the block size means
			// the compressor gave up on it; copy verbatim.
			prev := int(sizes[iBlock-1])
			if prev == blockSize {
				if written+prev > len(dst) {
					dec.Close()
					return nil, fmt.Errorf("pack %d block %d overflows the pack", iPack, i-1)
				}
				copy(dst[written:], bufs[cur^1][:prev])
				written += prev
			} else {
				n, err := dec.Unpack(dst[written:], bufs[cur^1][:prev])
				if err != nil {
					dec.Close()
					return nil, fmt.Errorf("pack %d block %d: %w", iPack, i-1, err)
				}
				written += n
			}
		}

		if err := f.Synchronize(); err != nil {
			dec.Close()
			return nil, err
		}
		// Interleave the next pack's first block with our last one.
		if iPack+1 < len(packs) {
			if err := f.ReadSpan(bufs[cur^1][:sizes[iBlock+1]]); err != nil {
				dec.Close()
				return nil, err
			}
		}

		last := int(sizes[iBlock])
		if last == blockSize || written+last == int(pk.UncompressedSize) {
			if written+last > len(dst) {
				dec.Close()
				return nil, fmt.Errorf("pack %d last block overflows the pack", iPack)
			}
			copy(dst[written:], bufs[cur][:last])
			written += last
		} else {
			n, err := dec.Unpack(dst[written:], bufs[cur][:last])
			if err != nil {
				dec.Close()
				return nil, fmt.Errorf("pack %d last block: %w", iPack, err)
			}
			written += n
		}
		dec.Close()

		if written != int(pk.UncompressedSize) {
			return nil, fmt.Errorf("pack %d expanded to %d bytes, want %d", iPack, written, pk.UncompressedSize)
		}

		cur ^= 1
		iBlock++
	}
	if err := f.Synchronize(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadObject allocates every pack through the memory handler,
// decompresses the payload, resolves the pointer table and returns the
// root pack's base address. The pack buffers are retained by the
// Serializer until FreeLoaded.
func (s *Serializer) LoadObject(f stream.Stream) (unsafe.Pointer, error) {
	packs, refs, sizes, err := s.readInfo(f)
	if err != nil {
		return nil, err
	}
	if len(packs) == 0 {
		return nil, fmt.Errorf("container has no packs")
	}

	s.loaded = nil
	s.loadedFlags = nil
	s.tempData = nil

	bufs, err := readPacks(f, packs, sizes, func(pk PackInfo) ([]byte, error) {
		buf := s.handler.Allocate(pk.Flags, int(pk.UncompressedSize), 16)
		s.loaded = append(s.loaded, buf)
		s.loadedFlags = append(s.loadedFlags, pk.Flags)
		if pk.Flags.Temp() {
			if s.tempData != nil {
				return nil, fmt.Errorf("container has more than one temp pack")
			}
			s.tempData = buf
			s.tempFlags = pk.Flags
		}
		return buf, nil
	})
	if err != nil {
		return nil, err
	}

	// Resolve pointers: each ref writes the pointee's address into its
	// slot. Order does not matter; do it once, linearly.
	for i, r := range refs {
		if int(r.OffsetPack) >= len(bufs) || int(r.PointingAtPack) >= len(bufs) {
			return nil, fmt.Errorf("ref %d names pack out of range", i)
		}
		slotPack := bufs[r.OffsetPack]
		dstPack := bufs[r.PointingAtPack]
		if int(r.Offset)+slotSize > len(slotPack) {
			return nil, fmt.Errorf("ref %d slot offset %d out of range", i, r.Offset)
		}
		if int(r.PointingAt) >= len(dstPack) {
			return nil, fmt.Errorf("ref %d target offset %d out of range", i, r.PointingAt)
		}
		slot := (*unsafe.Pointer)(unsafe.Pointer(&slotPack[r.Offset]))
		*slot = unsafe.Pointer(&dstPack[r.PointingAt])
	}

	return unsafe.Pointer(unsafe.SliceData(bufs[0])), nil
}

// resolveObject runs the post-load hook and settles the temp pack: the
// hook may have claimed it with DontFreeTempData, otherwise it goes
// back to the memory handler here.
func (s *Serializer) resolveObject(obj any) error {
	if hook, ok := obj.(PostLoader); ok {
		if err := hook.PostLoad(s); err != nil {
			return err
		}
	}
	if s.freeTemp && s.tempData != nil {
		for i, buf := range s.loaded {
			if unsafe.SliceData(buf) == unsafe.SliceData(s.tempData) {
				s.loaded[i] = nil
				break
			}
		}
		s.handler.Free(s.tempFlags, s.tempData)
		s.tempData = nil
	}
	return nil
}
