/*
Package serializer implements a load-in-place binary resource
container: the on-disk byte layout of a saved object graph mirrors its
in-memory layout, so loading is a sequence of block copies followed by
one pointer-fix-up pass. There is no per-field parsing and no per-node
allocation on the load path.

# Saving

A type describes its own layout by implementing Serializable. The
descriptor walks the value with the scalar op and the pointer op:

	type Mesh struct {
		VertexCount uint64
		Vertices    serializer.Ptr[Vertex]
	}

	func (m *Mesh) SerializeWith(s *serializer.Serializer) error {
		if err := s.Serialize(&m.VertexCount); err != nil {
			return err
		}
		return serializer.SerializePtr(s, &m.Vertices, int(m.VertexCount), 0)
	}

	func (m *Mesh) ResourceVersion() uint16 { return 1 }

Everything a pointer op reaches is grouped into packs: contiguous
regions that become single allocations at load time. Non-unique
pointees with matching memory flags pool into a shared pack; unique
ones get a pack of their own. Each pack is block-compressed into the
container behind a small header and an info region listing packs,
pointer fix-ups and per-block compressed sizes.

# Loading

	s := serializer.New(nil)
	mesh, err := serializer.Load[Mesh](s, f)

Load allocates one buffer per pack through the memory handler,
decompresses the payload with double-buffered read-ahead, rewrites
every recorded pointer slot to its in-memory address, and returns the
root. Pointees are interior pointers into the pack buffers, which stay
retained until FreeLoaded.

Pointer slots are Ptr[T]: 8 bytes on disk and in memory regardless of
anything else, which is why builds are limited to 64-bit hosts.
*/
package serializer
