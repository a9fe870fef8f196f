package core

import (
	"testing"

	"github.com/go-pbft/replica/pkg/pbft/crypto"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

// n=4 (f=1), quorum=3 throughout these tests.
const testQuorum = 3

func testBatch() (types.Batch, types.Digest) {
	h := crypto.NewBlake2bHasher()
	batch := types.Batch{Requests: []types.Request{{Client: 1, OperationID: 1, Payload: []byte("op")}}}
	return batch, batch.Digest(h)
}

func TestSlotAcceptPrePrepareIdempotent(t *testing.T) {
	s := NewSlot(0, 1)
	batch, digest := testBatch()

	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("first pre-prepare: %v", err)
	}
	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("duplicate pre-prepare with same digest must be accepted idempotently: %v", err)
	}
}

func TestSlotAcceptPrePrepareRejectsConflictingDigest(t *testing.T) {
	s := NewSlot(0, 1)
	batch, digest := testBatch()
	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("first pre-prepare: %v", err)
	}

	var other types.Digest
	other[0] = 0xff
	if err := s.AcceptPrePrepare(0, batch, other); err == nil {
		t.Fatal("expected I4 violation error for a conflicting pre-prepare digest")
	}
}

func TestSlotPrepareQuorumIsInclusiveOfLeader(t *testing.T) {
	s := NewSlot(0, 1)
	batch, digest := testBatch()
	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("pre-prepare: %v", err)
	}

	// With the leader's implicit prepare already counted, only two
	// explicit prepares (from non-leader replicas) should be needed to
	// reach a quorum of 3.
	_, reached, err := s.AddPrepare(types.Vote{Kind: types.VotePrepare, Digest: digest, Sender: 1}, testQuorum)
	if err != nil {
		t.Fatalf("prepare from 1: %v", err)
	}
	if reached {
		t.Fatal("quorum should not be reached after only 2 effective votes (leader + 1)")
	}

	_, reached, err = s.AddPrepare(types.Vote{Kind: types.VotePrepare, Digest: digest, Sender: 2}, testQuorum)
	if err != nil {
		t.Fatalf("prepare from 2: %v", err)
	}
	if !reached {
		t.Fatal("expected quorum reached after leader + 2 explicit prepares")
	}
	if s.Phase != PhaseCommitting {
		t.Fatalf("expected phase Committing, got %v", s.Phase)
	}
}

func TestSlotDuplicateSenderVoteIgnored(t *testing.T) {
	s := NewSlot(0, 1)
	batch, digest := testBatch()
	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("pre-prepare: %v", err)
	}

	accepted, _, err := s.AddPrepare(types.Vote{Digest: digest, Sender: 1}, testQuorum)
	if err != nil || !accepted {
		t.Fatalf("first prepare from 1 should be accepted: accepted=%v err=%v", accepted, err)
	}
	accepted, reached, err := s.AddPrepare(types.Vote{Digest: digest, Sender: 1}, testQuorum)
	if err != nil {
		t.Fatalf("duplicate prepare from 1 should not error: %v", err)
	}
	if accepted || reached {
		t.Fatal("a duplicate sender vote (I1) must be ignored, not counted again")
	}
}

func TestSlotDigestMismatchRejected(t *testing.T) {
	s := NewSlot(0, 1)
	batch, digest := testBatch()
	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("pre-prepare: %v", err)
	}

	var wrong types.Digest
	wrong[0] = 0xaa
	_, _, err := s.AddPrepare(types.Vote{Digest: wrong, Sender: 1}, testQuorum)
	if err == nil {
		t.Fatal("expected I2 digest-mismatch error")
	}
}

func TestSlotBuffersVotesBeforePrePrepare(t *testing.T) {
	s := NewSlot(0, 1)
	batch, digest := testBatch()

	accepted, reached, err := s.AddPrepare(types.Vote{Digest: digest, Sender: 1}, testQuorum)
	if err != nil {
		t.Fatalf("buffering prepare before pre-prepare should not error: %v", err)
	}
	if accepted || reached {
		t.Fatal("a prepare arriving before the pre-prepare must be buffered, not applied")
	}

	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("pre-prepare: %v", err)
	}
	reached, err = s.ReplayBufferedPrepares(testQuorum)
	if err != nil {
		t.Fatalf("replaying buffered prepares: %v", err)
	}
	// leader (implicit) + replica 1 (buffered) = 2, still short of quorum 3.
	if reached {
		t.Fatal("quorum should not be reached from a single buffered prepare plus the implicit leader vote")
	}
}

func TestSlotCommitQuorumDecidesBatch(t *testing.T) {
	s := NewSlot(0, 1)
	batch, digest := testBatch()
	if err := s.AcceptPrePrepare(0, batch, digest); err != nil {
		t.Fatalf("pre-prepare: %v", err)
	}
	if _, _, err := s.AddPrepare(types.Vote{Digest: digest, Sender: 1}, testQuorum); err != nil {
		t.Fatalf("prepare 1: %v", err)
	}
	if _, _, err := s.AddPrepare(types.Vote{Digest: digest, Sender: 2}, testQuorum); err != nil {
		t.Fatalf("prepare 2: %v", err)
	}

	if _, _, err := s.AddCommit(types.Vote{Digest: digest, Sender: 0}, testQuorum); err != nil {
		t.Fatalf("commit 0: %v", err)
	}
	if _, _, err := s.AddCommit(types.Vote{Digest: digest, Sender: 1}, testQuorum); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	_, reached, err := s.AddCommit(types.Vote{Digest: digest, Sender: 2}, testQuorum)
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	if !reached {
		t.Fatal("expected commit quorum reached after 3 explicit commits")
	}

	decided, ok := s.Decided()
	if !ok {
		t.Fatal("expected the slot to report a decided batch")
	}
	if decided.Len() != batch.Len() {
		t.Fatalf("decided batch length mismatch: got %d, want %d", decided.Len(), batch.Len())
	}
}
