// Package digest holds the fixed-width hash functions a merkle tree can be
// built with. Both peers of a comparison must use the same one.
package digest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Size is the width of every registered digest.
const Size = 32

type Hash [Size]byte

func (h Hash) Short() string { return fmt.Sprintf("%x", h[:8]) }

// Digest is a pure function from bytes to a Hash.
type Digest interface {
	Name() string
	Sum(data []byte) Hash
	// Pair hashes the concatenation of two child hashes.
	Pair(a, b Hash) Hash
}

type sumFunc struct {
	name string
	sum  func([]byte) [Size]byte
}

func (s sumFunc) Name() string { return s.name }

func (s sumFunc) Sum(data []byte) Hash { return s.sum(data) }

func (s sumFunc) Pair(a, b Hash) Hash {
	var buf [2 * Size]byte
	copy(buf[:Size], a[:])
	copy(buf[Size:], b[:])
	return s.sum(buf[:])
}

const (
	SHA256  = "sha256"
	BLAKE3  = "blake3"
	SHA3256 = "sha3-256"
)

var registry = map[string]Digest{
	SHA256:  sumFunc{name: SHA256, sum: sha256.Sum256},
	BLAKE3:  sumFunc{name: BLAKE3, sum: blake3.Sum256},
	SHA3256: sumFunc{name: SHA3256, sum: sha3.Sum256},
}

// Default returns the sha256 digest.
func Default() Digest { return registry[SHA256] }

// ByName resolves a registered digest, case-insensitively.
func ByName(name string) (Digest, error) {
	d, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported digest: %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered digest names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
