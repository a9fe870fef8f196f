// Package core implements the four cooperating components of a replica:
// the Peer Transport, the Message Router, the Consensus Engine and the
// Execution Pipeline.
package core

import (
	"fmt"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Phase is a slot's position in the Init -> PrePreparing -> Preparing ->
// Committing -> Executing state machine.
type Phase uint8

const (
	PhaseInit Phase = iota
	PhasePrePreparing
	PhasePreparing
	PhaseCommitting
	PhaseExecuting
	PhaseExecuted
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhasePrePreparing:
		return "pre-preparing"
	case PhasePreparing:
		return "preparing"
	case PhaseCommitting:
		return "committing"
	case PhaseExecuting:
		return "executing"
	case PhaseExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// voteSet tracks at most one vote per sender for a single phase of a
// single slot (I1), accepting only votes whose digest matches the slot's
// pre-prepared digest (I2).
type voteSet struct {
	votes map[types.ReplicaID]types.Digest
}

func newVoteSet() *voteSet {
	return &voteSet{votes: make(map[types.ReplicaID]types.Digest)}
}

// add records sender's vote for digest. It reports whether this call
// caused the matching-vote count to increase (false for a duplicate vote
// from the same sender, which invariant I1 requires be ignored).
func (vs *voteSet) add(sender types.ReplicaID, digest types.Digest) bool {
	if _, voted := vs.votes[sender]; voted {
		return false
	}
	vs.votes[sender] = digest
	return true
}

// countMatching returns the number of distinct senders whose recorded vote
// equals digest.
func (vs *voteSet) countMatching(digest types.Digest) int {
	n := 0
	for _, d := range vs.votes {
		if d == digest {
			n++
		}
	}
	return n
}

// Slot holds all protocol state for a single sequence number: its current
// phase, the pre-prepared batch (once known), and its prepare/commit vote
// sets. A Slot is owned exclusively by the Consensus Engine's goroutine;
// no synchronization is required around its mutation.
type Slot struct {
	Seq   types.SeqNo
	View  types.View
	Phase Phase

	batch        *types.Batch
	digest       types.Digest
	hasPrePrep   bool
	prePrepSigner types.ReplicaID

	prepares *voteSet
	commits  *voteSet

	// bufferedPrepares hold prepares that arrived before the pre-prepare
	// did, and bufferedCommits hold commits that arrived before the slot
	// reached its prepare quorum; §4.3 requires these be buffered in the
	// slot, not the router, and replayed once their phase is active.
	bufferedPrepares []types.Vote
	bufferedCommits  []types.Vote

	decidedBatch *types.Batch
}

// NewSlot creates an empty slot in PhaseInit for the given view and
// sequence number.
func NewSlot(view types.View, seq types.SeqNo) *Slot {
	return &Slot{
		Seq:      seq,
		View:     view,
		Phase:    PhaseInit,
		prepares: newVoteSet(),
		commits:  newVoteSet(),
	}
}

// Digest returns the slot's pre-prepared batch digest and whether one has
// been accepted yet.
func (s *Slot) Digest() (types.Digest, bool) {
	return s.digest, s.hasPrePrep
}

// AcceptPrePrepare binds the slot to a proposed batch. It enforces I4: a
// second pre-prepare for this (view, seq) carrying a different digest than
// the one already accepted is rejected. A duplicate pre-prepare carrying
// the *same* digest is accepted idempotently.
func (s *Slot) AcceptPrePrepare(sender types.ReplicaID, batch types.Batch, digest types.Digest) error {
	if s.hasPrePrep {
		if s.digest != digest {
			return fmt.Errorf("%w: slot (view=%d, seq=%d) already pre-prepared with a different digest",
				types.ErrDuplicatePrePrepare, s.View, s.Seq)
		}
		return nil
	}
	s.batch = &batch
	s.digest = digest
	s.hasPrePrep = true
	s.prePrepSigner = sender
	if s.Phase == PhaseInit {
		s.Phase = PhasePrePreparing
	}
	return nil
}

// Batch returns the slot's pre-prepared batch, if any.
func (s *Slot) Batch() (types.Batch, bool) {
	if s.batch == nil {
		return types.Batch{}, false
	}
	return *s.batch, true
}

// AddPrepare records a Prepare vote. It returns (accepted, quorumReached):
// accepted is false for a duplicate sender vote (I1) or a digest mismatch
// (I2); quorumReached is true exactly once, on the call that first causes
// the matching-vote count to reach the quorum threshold, and is computed
// inclusively of the leader's implicit prepare (the leader's own
// pre-prepare stands in for its prepare vote, per the spec's corrected,
// inclusive quorum rule; see DESIGN.md's open-question decision).
func (s *Slot) AddPrepare(vote types.Vote, quorum int) (accepted, quorumReached bool, err error) {
	if !s.hasPrePrep {
		s.bufferedPrepares = append(s.bufferedPrepares, vote)
		return false, false, nil
	}
	if vote.Digest != s.digest {
		return false, false, fmt.Errorf("%w: prepare from %d", types.ErrDigestMismatch, vote.Sender)
	}
	if s.Phase > PhasePreparing {
		// Already moved on; duplicate/late votes are dropped silently.
		return false, false, nil
	}
	added := s.prepares.add(vote.Sender, vote.Digest)
	if !added {
		return false, false, nil
	}
	count := s.effectivePrepareCount()
	if count == quorum {
		s.Phase = PhaseCommitting
		return true, true, nil
	}
	return true, false, nil
}

// effectivePrepareCount is the matching-prepare count plus the leader's
// implicit prepare (I5): the leader never sends itself an explicit Prepare
// message, since its pre-prepare already commits it to the batch.
func (s *Slot) effectivePrepareCount() int {
	count := s.prepares.countMatching(s.digest)
	if s.hasPrePrep {
		if _, leaderVoted := s.prepares.votes[s.prePrepSigner]; !leaderVoted {
			count++
		}
	}
	return count
}

// ReplayBufferedPrepares re-evaluates prepares that arrived before the
// pre-prepare did, now that one has been accepted. Call once immediately
// after AcceptPrePrepare succeeds.
func (s *Slot) ReplayBufferedPrepares(quorum int) (quorumReached bool, err error) {
	buffered := s.bufferedPrepares
	s.bufferedPrepares = nil
	for _, v := range buffered {
		_, reached, err := s.AddPrepare(v, quorum)
		if err != nil {
			return false, err
		}
		if reached {
			quorumReached = true
		}
	}
	return quorumReached, nil
}

// AddCommit records a Commit vote with the same semantics as AddPrepare,
// gated on the slot already having reached the prepared certificate.
func (s *Slot) AddCommit(vote types.Vote, quorum int) (accepted, quorumReached bool, err error) {
	if !s.hasPrePrep {
		s.bufferedCommits = append(s.bufferedCommits, vote)
		return false, false, nil
	}
	if vote.Digest != s.digest {
		return false, false, fmt.Errorf("%w: commit from %d", types.ErrDigestMismatch, vote.Sender)
	}
	if s.Phase < PhaseCommitting {
		// Not prepared yet: hold the commit until ReplayBufferedCommits.
		s.bufferedCommits = append(s.bufferedCommits, vote)
		return false, false, nil
	}
	if s.Phase > PhaseCommitting {
		return false, false, nil
	}
	added := s.commits.add(vote.Sender, vote.Digest)
	if !added {
		return false, false, nil
	}
	count := s.commits.countMatching(s.digest)
	if count == quorum && s.Phase == PhaseCommitting {
		s.Phase = PhaseExecuting
		s.decidedBatch = s.batch
		return true, true, nil
	}
	return true, false, nil
}

// ReplayBufferedCommits mirrors ReplayBufferedPrepares for commits. Call
// once the slot enters PhaseCommitting (i.e. after the prepare quorum is
// reached).
func (s *Slot) ReplayBufferedCommits(quorum int) (quorumReached bool, err error) {
	buffered := s.bufferedCommits
	s.bufferedCommits = nil
	for _, v := range buffered {
		_, reached, err := s.AddCommit(v, quorum)
		if err != nil {
			return false, err
		}
		if reached {
			quorumReached = true
		}
	}
	return quorumReached, nil
}

// Decided returns the batch this slot committed to, if execution is ready
// to proceed.
func (s *Slot) Decided() (types.Batch, bool) {
	if s.decidedBatch == nil {
		return types.Batch{}, false
	}
	return *s.decidedBatch, true
}

// MarkExecuted transitions the slot to its terminal state.
func (s *Slot) MarkExecuted() {
	s.Phase = PhaseExecuted
}
