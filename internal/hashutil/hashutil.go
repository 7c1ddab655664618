// Package hashutil computes content hashes for the equivalence checks the
// diff engine relies on. BLAKE3 is the default algorithm; SHA-256 is
// available for environments where BLAKE3 is undesirable.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Algorithm selects which content hash a Hasher computes.
type Algorithm string

// The two supported content-hash algorithms.
const (
	AlgorithmBlake3 Algorithm = "blake3"
	AlgorithmSHA256 Algorithm = "sha256"
)

// DefaultAlgorithm is used when a profile or CLI invocation does not pin one.
const DefaultAlgorithm = AlgorithmBlake3

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case AlgorithmBlake3, "":
		return blake3.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("hashutil: unknown algorithm %q", algo)
	}
}

// NewHash returns a fresh hash.Hash for algo, for callers that need to feed
// it through an io.MultiWriter alongside other writers (e.g. the executor
// hashing a file as it copies it).
func NewHash(algo Algorithm) (hash.Hash, error) {
	return newHash(algo)
}

// EncodeSum returns h's current digest as a lowercase hex string without
// resetting it.
func EncodeSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile computes the content hash of path using algo and returns it as a
// lowercase hex string. It streams the file through a 1 MiB buffer rather
// than reading it fully into memory.
func HashFile(path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashutil: opening %s: %w", path, err)
	}
	defer f.Close()

	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashutil: hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashReader computes the content hash of r using algo and returns it as a
// lowercase hex string.
func HashReader(r io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hashutil: hashing reader: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal reports whether two hex-encoded digests represent the same content.
// Empty strings never compare equal, since an empty hash means "unknown"
// rather than "matches everything".
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b
}
