package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// HMACSigner implements types.Signer with keyed HMAC-SHA256, using one
// shared secret key per sender. This is the symmetric option the distilled
// spec explicitly allows ("implementations MAY be keyed HMAC or
// asymmetric").
type HMACSigner struct {
	keys map[types.ReplicaID][]byte
}

// NewHMACSigner builds a signer from a per-replica shared-secret keyring.
// Every replica in the cluster must hold the same keyring for Verify to
// succeed.
func NewHMACSigner(keys map[types.ReplicaID][]byte) *HMACSigner {
	return &HMACSigner{keys: keys}
}

func (s *HMACSigner) keyFor(id types.ReplicaID) ([]byte, error) {
	key, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("pbft/crypto: no HMAC key configured for replica %d", id)
	}
	return key, nil
}

// Sign implements types.Signer.
func (s *HMACSigner) Sign(sender types.ReplicaID, data []byte) (types.Signature, error) {
	key, err := s.keyFor(sender)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify implements types.Signer.
func (s *HMACSigner) Verify(sender types.ReplicaID, data []byte, sig types.Signature) bool {
	key, err := s.keyFor(sender)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	expected := mac.Sum(nil)
	return subtle.ConstantTimeCompare(expected, sig) == 1
}

var _ types.Signer = (*HMACSigner)(nil)
