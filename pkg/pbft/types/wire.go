package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope is the single wire-level container for every replica-to-replica
// message. Exactly one of its typed fields is populated, selected by Kind.
// encode(decode(m)) == m holds because the envelope is a plain struct with
// fixed field order, JSON-marshaled deterministically.
type Envelope struct {
	Kind             MessageKind       `json:"kind"`
	PrePrepare       *PrePrepare       `json:"pre_prepare,omitempty"`
	Prepare          *Prepare          `json:"prepare,omitempty"`
	Commit           *Commit           `json:"commit,omitempty"`
	ObserverRegister *ObserverRegister `json:"observer_register,omitempty"`
	ObserverEvent    *ObserverEvent    `json:"observer_event,omitempty"`
	Request          *Request          `json:"request,omitempty"`
	Reply            *Reply            `json:"reply,omitempty"`
}

// EnvelopePrePrepare wraps a PrePrepare for transmission.
func EnvelopePrePrepare(m PrePrepare) Envelope {
	return Envelope{Kind: KindPrePrepare, PrePrepare: &m}
}

// EnvelopePrepare wraps a Prepare for transmission.
func EnvelopePrepare(m Prepare) Envelope {
	return Envelope{Kind: KindPrepare, Prepare: &m}
}

// EnvelopeCommit wraps a Commit for transmission.
func EnvelopeCommit(m Commit) Envelope {
	return Envelope{Kind: KindCommit, Commit: &m}
}

// EnvelopeObserverRegister wraps an ObserverRegister for transmission.
func EnvelopeObserverRegister(m ObserverRegister) Envelope {
	return Envelope{Kind: KindObserverRegister, ObserverRegister: &m}
}

// EnvelopeObserverEvent wraps an ObserverEvent for transmission.
func EnvelopeObserverEvent(m ObserverEvent) Envelope {
	return Envelope{Kind: KindObserverEvent, ObserverEvent: &m}
}

// EnvelopeRequest wraps a client Request for transmission to the leader.
func EnvelopeRequest(m Request) Envelope {
	return Envelope{Kind: KindRequest, Request: &m}
}

// EnvelopeReply wraps a Reply for transmission back to its client.
func EnvelopeReply(m Reply) Envelope {
	return Envelope{Kind: KindReply, Reply: &m}
}

// Encode returns the deterministic byte representation of the envelope,
// used as the wire payload. Digests are computed over Request.Encode,
// which produces the same JSON as the request carried inside a batch.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope is the inverse of Encode.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrFramingViolation, err)
	}
	return e, nil
}

// maxFrameSize bounds a single frame's payload to guard against a
// corrupted or adversarial length prefix allocating unbounded memory.
const maxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes data to w as a u32 big-endian length prefix followed
// by the payload, per the replica-to-replica wire format.
func WriteFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame blocks until a full length-prefixed frame has been read from
// r, or returns an error if the connection closes mid-frame (a partial
// read on connection close is a peer error) or the declared length exceeds
// maxFrameSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrFramingViolation, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
