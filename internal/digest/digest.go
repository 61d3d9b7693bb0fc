// Package digest provides the content fingerprints the CLI uses to
// report on and deduplicate container payloads.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/blake3"
)

// Algorithm represents a supported fingerprint algorithm. Using a
// typed constant instead of a string prevents accidental misuse with
// invalid algorithm names.
type Algorithm int

const (
	// XXHash64 is the default: a fast 64-bit fingerprint.
	XXHash64 Algorithm = iota
	// Murmur3 is a second, independent 64-bit fingerprint.
	Murmur3
	// BLAKE3 is a full cryptographic digest.
	BLAKE3
	// UndefinedAlgorithm is used for error handling.
	UndefinedAlgorithm
)

// String provides the string representation of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case XXHash64:
		return "XXH64"
	case Murmur3:
		return "MURMUR3"
	case BLAKE3:
		return "BLAKE3"
	default:
		return "Undefined"
	}
}

// Result represents the result of a fingerprint operation.
type Result struct {
	// Hash is the hex-encoded digest.
	Hash string
	// Error is any error that occurred.
	Error error
	// Algorithm is the algorithm used.
	Algorithm Algorithm
	// Size is the size of the fingerprinted data in bytes.
	Size int64
}

// Bytes fingerprints a byte slice.
func Bytes(data []byte, algorithm Algorithm) Result {
	switch algorithm {
	case XXHash64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], xxhash.Sum64(data))
		return Result{Hash: hex.EncodeToString(b[:]), Algorithm: algorithm, Size: int64(len(data))}
	case Murmur3:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], murmur3.Sum64(data))
		return Result{Hash: hex.EncodeToString(b[:]), Algorithm: algorithm, Size: int64(len(data))}
	case BLAKE3:
		sum := blake3.Sum256(data)
		return Result{Hash: hex.EncodeToString(sum[:]), Algorithm: algorithm, Size: int64(len(data))}
	}
	return Result{Algorithm: algorithm, Error: fmt.Errorf("undefined fingerprint algorithm")}
}

// Reader fingerprints everything remaining in r with BLAKE3. The
// 64-bit algorithms are in-memory only.
func Reader(r io.Reader) Result {
	h := blake3.New()
	size, err := io.Copy(h, r)
	if err != nil {
		return Result{Algorithm: BLAKE3, Error: fmt.Errorf("failed to fingerprint data: %w", err)}
	}
	return Result{Hash: hex.EncodeToString(h.Sum(nil)), Algorithm: BLAKE3, Size: size}
}
