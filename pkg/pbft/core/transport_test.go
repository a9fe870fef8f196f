package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

func bootstrapPair(t *testing.T) (*TCPTransport, *TCPTransport, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	listenerA := mustListen(t)
	listenerB := mustListen(t)

	peerAddrs := map[types.ReplicaID]string{
		0: listenerA,
		1: listenerB,
	}

	type result struct {
		transport *TCPTransport
		err       error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)

	go func() {
		tr, err := BootstrapTCPTransport(ctx, 0, listenerA, peerAddrs, testLogger())
		resA <- result{tr, err}
	}()
	go func() {
		tr, err := BootstrapTCPTransport(ctx, 1, listenerB, peerAddrs, testLogger())
		resB <- result{tr, err}
	}()

	a := <-resA
	b := <-resB
	if a.err != nil {
		t.Fatalf("bootstrapping replica 0: %v", a.err)
	}
	if b.err != nil {
		t.Fatalf("bootstrapping replica 1: %v", b.err)
	}

	cleanup := func() {
		a.transport.Close()
		b.transport.Close()
		cancel()
	}
	return a.transport, b.transport, cleanup
}

// mustListen reserves an ephemeral TCP port and immediately releases it,
// handing back an address BootstrapTCPTransport can bind. Good enough for
// a test fixture despite the inherent race with another process grabbing
// the same port between release and rebind.
func mustListen(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving an ephemeral port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestBootstrapTCPTransportConnectsPeers(t *testing.T) {
	a, b, cleanup := bootstrapPair(t)
	defer cleanup()

	if a.LocalAddress() == "" || b.LocalAddress() == "" {
		t.Fatal("expected both transports to report a bound local address")
	}
}

func TestTCPTransportSendDeliversAcrossPeers(t *testing.T) {
	a, b, cleanup := bootstrapPair(t)
	defer cleanup()

	env := types.EnvelopePrepare(types.Prepare{View: 0, Seq: 1, Sender: 0})
	if err := a.Send(1, env); err != nil {
		t.Fatalf("sending from 0 to 1: %v", err)
	}

	select {
	case in := <-b.Listen():
		if in.Sender != 0 {
			t.Fatalf("expected sender 0, got %d", in.Sender)
		}
		if in.Message.Kind != types.KindPrepare {
			t.Fatalf("expected KindPrepare, got %v", in.Message.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the message to arrive")
	}
}

func TestTCPTransportSendLoopback(t *testing.T) {
	a, b, cleanup := bootstrapPair(t)
	defer cleanup()
	_ = b

	env := types.EnvelopeCommit(types.Commit{View: 0, Seq: 1, Sender: 0})
	if err := a.Send(0, env); err != nil {
		t.Fatalf("loopback send: %v", err)
	}

	select {
	case in := <-a.Listen():
		if in.Sender != 0 || in.Message.Kind != types.KindCommit {
			t.Fatalf("unexpected loopback delivery: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the loopback delivery")
	}
}

func TestTCPTransportSendToUnknownPeerFails(t *testing.T) {
	a, b, cleanup := bootstrapPair(t)
	defer cleanup()
	_ = b

	env := types.EnvelopeCommit(types.Commit{View: 0, Seq: 1, Sender: 0})
	if err := a.Send(99, env); err == nil {
		t.Fatal("expected an error sending to an unknown peer")
	}
}

func TestTCPTransportCloseBreaksLinks(t *testing.T) {
	a, b, cleanup := bootstrapPair(t)
	defer cleanup()

	b.Close()

	env := types.EnvelopeCommit(types.Commit{View: 0, Seq: 1, Sender: 0})
	deadline := time.Now().Add(2 * time.Second)
	var sendErr error
	for time.Now().Before(deadline) {
		if sendErr = a.Send(1, env); sendErr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sendErr == nil {
		t.Fatal("expected sends to a closed peer to eventually fail")
	}
}
