package digest

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Bloom is a striped bloom filter over the xxhash64/murmur3
// fingerprint pair. The bit array is split into one stripe per probe
// and each probe sets a single bit in its own stripe, so probes stay
// independent without rehashing the payload. The scan command uses it
// to flag probably-duplicate pack payloads across many containers
// without keeping any of them in memory.
type Bloom struct {
	stripes    [][]uint64
	stripeBits uint64
	inserted   int
}

// NewBloom sizes a filter for the expected number of items at roughly
// the given false-positive rate, using the standard bloom sizing
// formulas. Out-of-range arguments fall back to one item and a rate
// of 1e-3.
func NewBloom(expectedItems int, fpRate float64) *Bloom {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 1e-3
	}

	// m = -n*ln(p)/ln(2)^2 total bits, k = (m/n)*ln(2) probes.
	mBits := -float64(expectedItems) * math.Log(fpRate) / (math.Ln2 * math.Ln2)
	probes := int(math.Round(mBits / float64(expectedItems) * math.Ln2))
	if probes < 1 {
		probes = 1
	}
	if probes > 16 {
		probes = 16
	}

	perStripe := uint64(math.Ceil(mBits/float64(probes)))/64 + 1
	f := &Bloom{
		stripes:    make([][]uint64, probes),
		stripeBits: perStripe * 64,
	}
	for i := range f.stripes {
		f.stripes[i] = make([]uint64, perStripe)
	}
	return f
}

// bitFor derives probe i's bit index from the fingerprint pair.
func (f *Bloom) bitFor(i int, h1, h2 uint64) (word int, mask uint64) {
	idx := (h1 ^ bits.RotateLeft64(h2, i+1)) % f.stripeBits
	return int(idx / 64), 1 << (idx % 64)
}

// Insert adds data and reports whether it may have been inserted
// before. A false return is definite; a true return is probabilistic.
func (f *Bloom) Insert(data []byte) bool {
	h1 := xxhash.Sum64(data)
	h2 := murmur3.Sum64(data)

	present := true
	for i, stripe := range f.stripes {
		word, mask := f.bitFor(i, h1, h2)
		if stripe[word]&mask == 0 {
			present = false
			stripe[word] |= mask
		}
	}
	if !present {
		f.inserted++
	}
	return present
}

// Seen reports whether data may have been inserted, without modifying
// the filter.
func (f *Bloom) Seen(data []byte) bool {
	h1 := xxhash.Sum64(data)
	h2 := murmur3.Sum64(data)

	for i, stripe := range f.stripes {
		word, mask := f.bitFor(i, h1, h2)
		if stripe[word]&mask == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of distinct inserts (as judged by the
// filter itself).
func (f *Bloom) Count() int { return f.inserted }

// FalsePositiveRate estimates the current false-positive probability
// from the insert count and the filter geometry.
func (f *Bloom) FalsePositiveRate() float64 {
	perProbe := 1 - math.Exp(-float64(f.inserted)/float64(f.stripeBits))
	return math.Pow(perProbe, float64(len(f.stripes)))
}
