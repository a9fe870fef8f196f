package types_test

import (
	"bytes"
	"testing"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

func TestEnvelopeRoundTripEveryKind(t *testing.T) {
	cases := []types.Envelope{
		types.EnvelopePrePrepare(types.PrePrepare{View: 1, Seq: 2, Sender: 0}),
		types.EnvelopePrepare(types.Prepare{View: 1, Seq: 2, Sender: 1}),
		types.EnvelopeCommit(types.Commit{View: 1, Seq: 2, Sender: 2}),
		types.EnvelopeObserverRegister(types.ObserverRegister{ObserverID: "obs-1"}),
		types.EnvelopeObserverEvent(types.ObserverEvent{Kind: types.ObserverCommitted, View: 1, Seq: 2}),
		types.EnvelopeRequest(types.Request{Client: 10, OperationID: 1}),
		types.EnvelopeReply(types.Reply{Client: 10, OperationID: 1}),
	}

	for _, env := range cases {
		raw, err := env.Encode()
		if err != nil {
			t.Fatalf("encoding %v: %v", env.Kind, err)
		}
		decoded, err := types.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("decoding %v: %v", env.Kind, err)
		}
		if decoded.Kind != env.Kind {
			t.Fatalf("kind mismatch: got %v, want %v", decoded.Kind, env.Kind)
		}
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := types.DecodeEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected an error decoding non-JSON input")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a framed payload")
	if err := types.WriteFrame(&buf, payload); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	got, err := types.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // declares a ~4GiB frame
	if _, err := types.ReadFrame(&buf); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}
