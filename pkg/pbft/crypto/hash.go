// Package crypto provides reference implementations of the types.Hasher and
// types.Signer traits. The engine consumes these abstractly (pkg/pbft/types)
// and never depends on this package directly.
package crypto

import (
	"golang.org/x/crypto/blake2b"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Blake2bHasher implements types.Hasher with an unkeyed blake2b-256 hash.
type Blake2bHasher struct{}

// NewBlake2bHasher constructs the reference Hasher.
func NewBlake2bHasher() Blake2bHasher {
	return Blake2bHasher{}
}

// Hash implements types.Hasher.
func (Blake2bHasher) Hash(data []byte) types.Digest {
	return types.Digest(blake2b.Sum256(data))
}

var _ types.Hasher = Blake2bHasher{}
