package crypto_test

import (
	stded25519 "crypto/ed25519"
	"testing"

	"github.com/go-pbft/replica/pkg/pbft/crypto"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

func TestEd25519SignerSignVerify(t *testing.T) {
	pub0, priv0, err := stded25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	pub1, priv1, err := stded25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	signer := crypto.NewEd25519Signer(
		map[types.ReplicaID]stded25519.PrivateKey{0: priv0, 1: priv1},
		map[types.ReplicaID]stded25519.PublicKey{0: pub0, 1: pub1},
	)

	data := []byte("commit payload")
	sig, err := signer.Sign(0, data)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if !signer.Verify(0, data, sig) {
		t.Fatal("expected signature from replica 0 to verify against replica 0's public key")
	}
	if signer.Verify(1, data, sig) {
		t.Fatal("a replica-0 signature must not verify under replica 1's public key")
	}
}
