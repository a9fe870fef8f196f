package crypto_test

import (
	"testing"

	"github.com/go-pbft/replica/pkg/pbft/crypto"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

func TestHMACSignerSignVerify(t *testing.T) {
	signer := crypto.NewHMACSigner(map[types.ReplicaID][]byte{
		0: []byte("replica-0-secret"),
		1: []byte("replica-1-secret"),
	})

	data := []byte("pre-prepare payload")
	sig, err := signer.Sign(0, data)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if !signer.Verify(0, data, sig) {
		t.Fatal("expected signature from replica 0 to verify")
	}
	if signer.Verify(1, data, sig) {
		t.Fatal("a signature attributed to replica 0 must not verify for replica 1")
	}
}

func TestHMACSignerUnknownSender(t *testing.T) {
	signer := crypto.NewHMACSigner(map[types.ReplicaID][]byte{0: []byte("k")})
	if _, err := signer.Sign(99, []byte("x")); err == nil {
		t.Fatal("expected an error signing for a replica with no configured key")
	}
}

func TestHMACSignerRejectsTamperedData(t *testing.T) {
	signer := crypto.NewHMACSigner(map[types.ReplicaID][]byte{0: []byte("k")})
	sig, err := signer.Sign(0, []byte("original"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if signer.Verify(0, []byte("tampered"), sig) {
		t.Fatal("signature must not verify against different data")
	}
}
