package serializer

import (
	"fmt"
	"testing"

	"github.com/TFMV/blockpack/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The fixture mirrors a realistic resource: a root with one pooled
// array, one unique array, and eight temp arrays that collapse into a
// single shared pack.

type elem struct {
	A int16
}

func (e *elem) SerializeWith(s *Serializer) error {
	return s.Serialize(&e.A)
}

type run struct {
	Count uint64
	Data  Ptr[elem]
}

func (r *run) SerializeWith(s *Serializer) error {
	if err := s.Serialize(&r.Count); err != nil {
		return err
	}
	return SerializePtr(s, &r.Data, int(r.Count), 0)
}

const (
	dynamicCount = (1 << 20) / 2 + 4
	staticCount  = (1 << 20) / 16 + 4
)

type fixture struct {
	elem
	GoInStatic  run
	DontDynamic run
	GoTemp      [8]run

	hookRan bool
}

func (f *fixture) ResourceVersion() uint16 { return 1 }

func (f *fixture) SerializeWith(s *Serializer) error {
	s.SetResourceVersion(1)

	// Pooled: default flags match the root pack, so this shares it.
	if err := s.Serialize(&f.GoInStatic); err != nil {
		return err
	}

	// No need to descend through the nested descriptor for every
	// field; serialize the pieces directly.
	if err := s.Serialize(&f.DontDynamic.Count); err != nil {
		return err
	}
	if err := SerializePtr(s, &f.DontDynamic.Data, int(f.DontDynamic.Count), MemUnique); err != nil {
		return err
	}

	for i := range f.GoTemp {
		if err := s.Serialize(&f.GoTemp[i].Count); err != nil {
			return err
		}
		if err := SerializePtr(s, &f.GoTemp[i].Data, int(f.GoTemp[i].Count), MemTemp); err != nil {
			return err
		}
	}

	return s.Serialize(&f.A)
}

func (f *fixture) PostLoad(s *Serializer) error {
	if s.ResourceVersion() != 1 {
		return fmt.Errorf("unexpected resource version %d", s.ResourceVersion())
	}
	f.hookRan = true
	return nil
}

// newFixture builds the object graph; the Ptr slots keep the backing
// arrays reachable.
func newFixture() *fixture {
	f := &fixture{}
	f.A = 100

	dyn := make([]elem, dynamicCount)
	for i := range dyn {
		dyn[i].A = int16(22 + i)
	}
	f.DontDynamic.Count = dynamicCount
	f.DontDynamic.Data.Set(&dyn[0])

	stat := make([]elem, staticCount)
	for i := range stat {
		stat[i].A = int16(100 / (i + 1))
	}
	f.GoInStatic.Count = staticCount
	f.GoInStatic.Data.Set(&stat[0])

	for t := range f.GoTemp {
		temp := make([]elem, staticCount)
		for i := range temp {
			temp[i].A = int16(100 / (i + 1))
		}
		f.GoTemp[t].Count = staticCount
		f.GoTemp[t].Data.Set(&temp[0])
	}
	return f
}

// sanityCheckStatic covers the parts that survive the temp pack's
// release.
func (f *fixture) sanityCheckStatic(t *testing.T) {
	t.Helper()
	require.Equal(t, int16(100), f.A)

	require.Equal(t, uint64(dynamicCount), f.DontDynamic.Count)
	dyn := f.DontDynamic.Data.Slice(int(f.DontDynamic.Count))
	for i := range dyn {
		require.Equal(t, int16(22+i), dyn[i].A, "dynamic[%d]", i)
	}

	require.Equal(t, uint64(staticCount), f.GoInStatic.Count)
	stat := f.GoInStatic.Data.Slice(int(f.GoInStatic.Count))
	for i := range stat {
		require.Equal(t, int16(100/(i+1)), stat[i].A, "static[%d]", i)
	}
}

func (f *fixture) sanityCheck(t *testing.T) {
	t.Helper()
	f.sanityCheckStatic(t)
	for ti := range f.GoTemp {
		require.Equal(t, uint64(staticCount), f.GoTemp[ti].Count)
		temp := f.GoTemp[ti].Data.Slice(int(f.GoTemp[ti].Count))
		for i := range temp {
			require.Equal(t, int16(100/(i+1)), temp[i].A, "temp[%d][%d]", ti, i)
		}
	}
}

func TestFixtureRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.sanityCheck(t)

	buf := saveToBuffer(t, f, DefaultSaveOptions())

	fi, err := Inspect(stream.NewBufferBytes(buf.Bytes()))
	require.NoError(t, err)

	// Root + pooled static in pack 0, unique in pack 1, the eight temp
	// arrays pooled into pack 2.
	require.Equal(t, uint16(3), fi.Header.NPacks)
	assert.Equal(t, uint16(10), fi.Header.NPointers)

	// elem + padding + 2 runs + 8 runs + the hook flag, padded to 8.
	rootSize := uint32(176)
	assert.Equal(t, uint16(176), fi.Header.AutoVersion)
	assert.Equal(t, rootSize+staticCount*2, fi.Packs[0].UncompressedSize)
	assert.True(t, fi.Packs[1].Flags.Unique())
	assert.Equal(t, uint32(dynamicCount*2), fi.Packs[1].UncompressedSize)
	assert.True(t, fi.Packs[2].Flags.Temp())
	assert.Equal(t, uint32(8*staticCount*2), fi.Packs[2].UncompressedSize)

	// Claim the temp pack so the whole graph stays valid to check.
	s := New(nil)
	s.DontFreeTempData()
	got, err := Load[fixture](s, stream.NewBufferBytes(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, got.hookRan)
	got.sanityCheck(t)

	require.NotNil(t, s.TempData())
	assert.Len(t, s.TempData(), 8*staticCount*2)
	s.FreeLoaded()
}

func TestFixtureTempReleased(t *testing.T) {
	t.Parallel()

	f := newFixture()
	buf := saveToBuffer(t, f, DefaultSaveOptions())

	// Without a claim the loader hands the temp pack back to the
	// memory handler right after the hook; only the non-temp parts
	// may be touched afterwards.
	s := New(nil)
	got, err := Load[fixture](s, stream.NewBufferBytes(buf.Bytes()))
	require.NoError(t, err)
	require.True(t, got.hookRan)
	assert.Nil(t, s.TempData())
	got.sanityCheckStatic(t)
}
