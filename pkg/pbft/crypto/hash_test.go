package crypto_test

import (
	"testing"

	"github.com/go-pbft/replica/pkg/pbft/crypto"
)

func TestBlake2bHasherDeterministic(t *testing.T) {
	h := crypto.NewBlake2bHasher()
	a := h.Hash([]byte("same input"))
	b := h.Hash([]byte("same input"))
	if a != b {
		t.Fatal("hashing the same input twice must produce the same digest")
	}
}

func TestBlake2bHasherDiffers(t *testing.T) {
	h := crypto.NewBlake2bHasher()
	a := h.Hash([]byte("input one"))
	b := h.Hash([]byte("input two"))
	if a == b {
		t.Fatal("distinct inputs should not collide in practice")
	}
}
