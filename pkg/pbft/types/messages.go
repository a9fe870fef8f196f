package types

import "encoding/json"

// MessageKind tags the payload carried by a wire Envelope.
type MessageKind uint8

const (
	KindPrePrepare MessageKind = iota + 1
	KindPrepare
	KindCommit
	KindObserverRegister
	KindObserverEvent
	KindRequest
	KindReply
)

func (k MessageKind) String() string {
	switch k {
	case KindPrePrepare:
		return "pre-prepare"
	case KindPrepare:
		return "prepare"
	case KindCommit:
		return "commit"
	case KindObserverRegister:
		return "observer-register"
	case KindObserverEvent:
		return "observer-event"
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// PrePrepare is the leader's proposal for a slot: a signed binding of
// (view, seq) to a batch.
type PrePrepare struct {
	View   View   `json:"view"`
	Seq    SeqNo  `json:"seq"`
	Batch  Batch  `json:"batch"`
	Digest Digest `json:"digest"`
	Sender ReplicaID `json:"sender"`
	Sig    Signature `json:"sig,omitempty"`
}

// signingPayload returns a copy of m with Sig cleared; its JSON encoding
// is what Sign and VerifySignature operate on.
func (m PrePrepare) signingPayload() PrePrepare {
	m.Sig = nil
	return m
}

// Prepare is a vote, broadcast by any replica, binding (view, seq) to a
// batch digest it has pre-prepared.
type Prepare struct {
	View   View      `json:"view"`
	Seq    SeqNo      `json:"seq"`
	Digest Digest     `json:"digest"`
	Sender ReplicaID  `json:"sender"`
	Sig    Signature  `json:"sig,omitempty"`
}

func (m Prepare) signingPayload() Prepare {
	m.Sig = nil
	return m
}

// Commit is a vote, broadcast by any replica, certifying that it holds a
// prepared certificate for (view, seq, digest).
type Commit struct {
	View   View      `json:"view"`
	Seq    SeqNo      `json:"seq"`
	Digest Digest     `json:"digest"`
	Sender ReplicaID  `json:"sender"`
	Sig    Signature  `json:"sig,omitempty"`
}

func (m Commit) signingPayload() Commit {
	m.Sig = nil
	return m
}

// VoteKind distinguishes Prepare from Commit when they are handled
// uniformly by shared vote-accounting code.
type VoteKind uint8

const (
	VotePrepare VoteKind = iota
	VoteCommit
)

// Vote is the shape shared by Prepare and Commit for vote-set accounting
// in slot.go: both are (view, seq, digest) tuples signed by a single
// sender.
type Vote struct {
	Kind   VoteKind
	View   View
	Seq    SeqNo
	Digest Digest
	Sender ReplicaID
	Sig    Signature
}

// AsVote converts a Prepare into the shared Vote shape.
func (m Prepare) AsVote() Vote {
	return Vote{Kind: VotePrepare, View: m.View, Seq: m.Seq, Digest: m.Digest, Sender: m.Sender, Sig: m.Sig}
}

// AsVote converts a Commit into the shared Vote shape.
func (m Commit) AsVote() Vote {
	return Vote{Kind: VoteCommit, View: m.View, Seq: m.Seq, Digest: m.Digest, Sender: m.Sender, Sig: m.Sig}
}

func canonicalJSON(v interface{}) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		panic("pbft: message is not encodable: " + err.Error())
	}
	return buf
}

// Sign populates m.Sig with a signature over m's canonical encoding
// (excluding the signature field itself), attributed to m.Sender.
func (m *PrePrepare) Sign(signer Signer) error {
	sig, err := signer.Sign(m.Sender, canonicalJSON(m.signingPayload()))
	if err != nil {
		return err
	}
	m.Sig = sig
	return nil
}

// VerifySignature reports whether m.Sig is a valid signature by m.Sender.
func (m PrePrepare) VerifySignature(signer Signer) bool {
	return signer.Verify(m.Sender, canonicalJSON(m.signingPayload()), m.Sig)
}

// Sign populates m.Sig with a signature over m's canonical encoding.
func (m *Prepare) Sign(signer Signer) error {
	sig, err := signer.Sign(m.Sender, canonicalJSON(m.signingPayload()))
	if err != nil {
		return err
	}
	m.Sig = sig
	return nil
}

// VerifySignature reports whether m.Sig is a valid signature by m.Sender.
func (m Prepare) VerifySignature(signer Signer) bool {
	return signer.Verify(m.Sender, canonicalJSON(m.signingPayload()), m.Sig)
}

// Sign populates m.Sig with a signature over m's canonical encoding.
func (m *Commit) Sign(signer Signer) error {
	sig, err := signer.Sign(m.Sender, canonicalJSON(m.signingPayload()))
	if err != nil {
		return err
	}
	m.Sig = sig
	return nil
}

// VerifySignature reports whether m.Sig is a valid signature by m.Sender.
func (m Commit) VerifySignature(signer Signer) bool {
	return signer.Verify(m.Sender, canonicalJSON(m.signingPayload()), m.Sig)
}
