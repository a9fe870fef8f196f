package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Ed25519Signer implements types.Signer with asymmetric Ed25519
// signatures, the other option the distilled spec explicitly allows.
type Ed25519Signer struct {
	private map[types.ReplicaID]ed25519.PrivateKey
	public  map[types.ReplicaID]ed25519.PublicKey
}

// NewEd25519Signer builds a signer able to sign on behalf of any replica in
// private and verify any replica in public. A replica that only verifies
// (never signs locally) may pass a nil private map.
func NewEd25519Signer(private map[types.ReplicaID]ed25519.PrivateKey, public map[types.ReplicaID]ed25519.PublicKey) *Ed25519Signer {
	return &Ed25519Signer{private: private, public: public}
}

// Sign implements types.Signer.
func (s *Ed25519Signer) Sign(sender types.ReplicaID, data []byte) (types.Signature, error) {
	key, ok := s.private[sender]
	if !ok {
		return nil, fmt.Errorf("pbft/crypto: no Ed25519 private key for replica %d", sender)
	}
	return types.Signature(ed25519.Sign(key, data)), nil
}

// Verify implements types.Signer.
func (s *Ed25519Signer) Verify(sender types.ReplicaID, data []byte, sig types.Signature) bool {
	key, ok := s.public[sender]
	if !ok {
		return false
	}
	return ed25519.Verify(key, data, sig)
}

var _ types.Signer = (*Ed25519Signer)(nil)
