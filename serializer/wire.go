package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/TFMV/blockpack/stream"
)

// Persisted record sizes. The header is fixed-layout; the info region
// is exactly NPacks pack records, then NPointers ref records, then
// NBlockSizes uint32 block sizes.
const (
	HeaderSize     = 22
	packRecordSize = 9
	refRecordSize  = 16
)

// Header is the fixed container header.
type Header struct {
	SizeOfData      uint32 // total bytes after the header
	FormatVersion   uint16 // FormatVersion constant
	InfoSize        uint32 // compressed info-region size
	NPointers       uint16
	NPacks          uint16
	NBlockSizes     uint16
	ResourceVersion uint16 // user version of the data
	MaxQualities    uint16 // reserved, written 0
	AutoVersion     uint16 // sizeof the root structure
}

func (h *Header) encode(b []byte, o binary.ByteOrder) {
	o.PutUint32(b[0:], h.SizeOfData)
	o.PutUint16(b[4:], h.FormatVersion)
	o.PutUint32(b[6:], h.InfoSize)
	o.PutUint16(b[10:], h.NPointers)
	o.PutUint16(b[12:], h.NPacks)
	o.PutUint16(b[14:], h.NBlockSizes)
	o.PutUint16(b[16:], h.ResourceVersion)
	o.PutUint16(b[18:], h.MaxQualities)
	o.PutUint16(b[20:], h.AutoVersion)
}

func (h *Header) decode(b []byte, o binary.ByteOrder) {
	h.SizeOfData = o.Uint32(b[0:])
	h.FormatVersion = o.Uint16(b[4:])
	h.InfoSize = o.Uint32(b[6:])
	h.NPointers = o.Uint16(b[10:])
	h.NPacks = o.Uint16(b[12:])
	h.NBlockSizes = o.Uint16(b[14:])
	h.ResourceVersion = o.Uint16(b[16:])
	h.MaxQualities = o.Uint16(b[18:])
	h.AutoVersion = o.Uint16(b[20:])
}

// infoSize returns the uncompressed info-region size implied by the
// header counts.
func (h *Header) infoSize() int {
	return int(h.NPacks)*packRecordSize + int(h.NPointers)*refRecordSize + int(h.NBlockSizes)*4
}

// PackInfo is the persisted description of one pack.
type PackInfo struct {
	Flags            MemType
	UncompressedSize uint32
	BlockCount       uint32
}

func (p *PackInfo) encode(b []byte, o binary.ByteOrder) {
	b[0] = byte(p.Flags)
	o.PutUint32(b[1:], p.UncompressedSize)
	o.PutUint32(b[5:], p.BlockCount)
}

func (p *PackInfo) decode(b []byte, o binary.ByteOrder) {
	p.Flags = MemType(b[0])
	p.UncompressedSize = o.Uint32(b[1:])
	p.BlockCount = o.Uint32(b[5:])
}

// Ref is a persisted pointer fix-up: after load, the 8 bytes at
// (OffsetPack, Offset) receive the address of (PointingAtPack,
// PointingAt).
type Ref struct {
	PointingAt     uint32 // byte offset of the pointee in its pack
	Offset         uint32 // byte offset of the pointer slot
	Count          uint32 // element count at the target
	OffsetPack     uint16 // pack holding the pointer slot
	PointingAtPack uint16 // pack holding the pointee
}

func (r *Ref) encode(b []byte, o binary.ByteOrder) {
	o.PutUint32(b[0:], r.PointingAt)
	o.PutUint32(b[4:], r.Offset)
	o.PutUint32(b[8:], r.Count)
	o.PutUint16(b[12:], r.OffsetPack)
	o.PutUint16(b[14:], r.PointingAtPack)
}

func (r *Ref) decode(b []byte, o binary.ByteOrder) {
	r.PointingAt = o.Uint32(b[0:])
	r.Offset = o.Uint32(b[4:])
	r.Count = o.Uint32(b[8:])
	r.OffsetPack = o.Uint16(b[12:])
	r.PointingAtPack = o.Uint16(b[14:])
}

// decodeInfo splits a decompressed info region into its three tables.
func decodeInfo(info []byte, h *Header, o binary.ByteOrder) ([]PackInfo, []Ref, []uint32) {
	packs := make([]PackInfo, h.NPacks)
	off := 0
	for i := range packs {
		packs[i].decode(info[off:], o)
		off += packRecordSize
	}
	refs := make([]Ref, h.NPointers)
	for i := range refs {
		refs[i].decode(info[off:], o)
		off += refRecordSize
	}
	sizes := make([]uint32, h.NBlockSizes)
	for i := range sizes {
		sizes[i] = o.Uint32(info[off:])
		off += 4
	}
	return packs, refs, sizes
}

// FileInfo is the decoded structural metadata of a container: the
// header plus the decompressed info region. It carries no payload.
type FileInfo struct {
	Header     Header
	Packs      []PackInfo
	Refs       []Ref
	BlockSizes []uint32
}

// Inspect reads and validates a container's header and info region
// without needing the root type. The stream is left positioned at the
// first pack payload, so ReadPackData may follow directly.
func Inspect(f stream.Stream) (*FileInfo, error) {
	s := New(nil)
	if err := s.readHeader(f); err != nil {
		return nil, err
	}
	packs, refs, sizes, err := s.readInfo(f)
	if err != nil {
		return nil, err
	}
	return &FileInfo{Header: s.hdr, Packs: packs, Refs: refs, BlockSizes: sizes}, nil
}

// ReadPackData decompresses every pack payload of an inspected
// container into plain heap buffers. The stream must be positioned at
// the first pack payload, where Inspect leaves it.
func ReadPackData(f stream.Stream, fi *FileInfo) ([][]byte, error) {
	return readPacks(f, fi.Packs, fi.BlockSizes, func(pk PackInfo) ([]byte, error) {
		return make([]byte, pk.UncompressedSize), nil
	})
}

func checkCounts(packs []PackInfo, sizes []uint32) error {
	total := uint64(0)
	for i := range packs {
		if packs[i].UncompressedSize == 0 || packs[i].BlockCount == 0 {
			return fmt.Errorf("pack %d is empty", i)
		}
		total += uint64(packs[i].BlockCount)
	}
	if total != uint64(len(sizes)) {
		return fmt.Errorf("block count mismatch: packs declare %d blocks, info region holds %d", total, len(sizes))
	}
	for i, bs := range sizes {
		if bs == 0 || bs > MaxBlockSize {
			return fmt.Errorf("block %d has invalid stored size %d", i, bs)
		}
	}
	return nil
}
