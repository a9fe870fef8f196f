package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Inbound is a message delivered by the Peer Transport, tagged with the
// sender so the Message Router never has to ask the transport who sent it.
type Inbound struct {
	Sender  types.ReplicaID
	Message types.Envelope
}

// Transport is the Peer Transport's contract: a fully-connected,
// per-peer framed channel with a local-loopback fast path for
// self-addressed messages.
type Transport interface {
	// Send enqueues env for asynchronous transmission to peer. It returns
	// ErrPeerGone if the link is permanently broken.
	Send(peer types.ReplicaID, env types.Envelope) error

	// Broadcast is the parallel composition of Send to every replica,
	// including self.
	Broadcast(env types.Envelope) error

	// Listen returns the channel the Message Router reads inbound
	// messages from.
	Listen() <-chan Inbound

	// LocalAddress returns the address this transport is listening on.
	LocalAddress() string

	// Close tears down every peer connection and stops accepting new
	// ones.
	Close() error
}

// dialRetries and dialSpacing implement the bootstrap contract's retry
// budget: at least 4 attempts spaced at least 100ms apart.
const (
	dialRetries = 4
	dialSpacing = 100 * time.Millisecond
)

const outboundQueueDepth = 256

// peerLink owns one connection to a peer, used either as the read side
// (an accepted connection, drained by readLoop) or as the write side (a
// dialed connection whose outbound queue is drained by writeLoop).
// markBroken closes broken and the connection, once.
type peerLink struct {
	id       types.ReplicaID
	conn     net.Conn
	outbound chan []byte
	closeOne sync.Once
	broken   chan struct{}
}

func newPeerLink(id types.ReplicaID, conn net.Conn) *peerLink {
	return &peerLink{
		id:       id,
		conn:     conn,
		outbound: make(chan []byte, outboundQueueDepth),
		broken:   make(chan struct{}),
	}
}

func (l *peerLink) markBroken() {
	l.closeOne.Do(func() {
		close(l.broken)
		_ = l.conn.Close()
	})
}

func (l *peerLink) isBroken() bool {
	select {
	case <-l.broken:
		return true
	default:
		return false
	}
}

// TCPTransport implements Transport over a fully-connected mesh of raw TCP
// connections, length-prefix framed per the wire format in §6. Bootstrap
// performs the two-sided listen-and-dial handshake described in §4.1:
// each replica listens for inbound connections (reading the peer's id as
// the first four bytes) while concurrently dialing every other replica
// (writing its own id as the first four bytes once connected), retrying
// each dial up to dialRetries times spaced dialSpacing apart.
type TCPTransport struct {
	self     types.ReplicaID
	addr     string
	logger   types.Logger
	listener net.Listener

	mu    sync.RWMutex
	peers map[types.ReplicaID]*peerLink

	loopback chan Inbound
	inbound  chan Inbound

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Transport = (*TCPTransport)(nil)

// BootstrapTCPTransport builds a TCPTransport for self, listening on
// listenAddr, and blocks until it has both an inbound and an outbound
// connection registered for every peer in peerAddrs (keyed by replica id;
// an entry for self is ignored). Dial exhaustion for any peer is a fatal
// bootstrap error, per §4.1.
func BootstrapTCPTransport(ctx context.Context, self types.ReplicaID, listenAddr string, peerAddrs map[types.ReplicaID]string, logger types.Logger) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: listening on %s: %v", types.ErrBootstrapExhausted, listenAddr, err)
	}

	innerCtx, cancel := context.WithCancel(ctx)
	t := &TCPTransport{
		self:     self,
		addr:     listener.Addr().String(),
		logger:   logger,
		listener: listener,
		peers:    make(map[types.ReplicaID]*peerLink),
		loopback: make(chan Inbound, outboundQueueDepth),
		inbound:  make(chan Inbound, outboundQueueDepth*len(peerAddrs)+1),
		ctx:      innerCtx,
		cancel:   cancel,
	}

	registered := make(chan struct{ id types.ReplicaID; dir string }, 2*len(peerAddrs))

	t.wg.Add(1)
	go t.acceptLoop(registered)

	need := 0
	for peer, addr := range peerAddrs {
		if peer == self {
			continue
		}
		need += 2
		t.wg.Add(1)
		go t.dialLoop(peer, addr, registered)
	}

	got := make(map[string]bool, need)
	for i := 0; i < need; i++ {
		select {
		case r := <-registered:
			got[fmt.Sprintf("%d:%s", r.id, r.dir)] = true
		case <-time.After(dialSpacing*time.Duration(dialRetries+2) + 2*time.Second):
			t.Close()
			return nil, fmt.Errorf("%w: bootstrap timed out waiting for peer links", types.ErrBootstrapExhausted)
		}
	}

	logger.Infof("replica %d bootstrap complete on %s", self, t.addr)
	return t, nil
}

func (t *TCPTransport) acceptLoop(registered chan<- struct{ id types.ReplicaID; dir string }) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				t.logger.Warnf("accept error: %v", err)
				return
			}
		}
		go t.handleAccepted(conn, registered)
	}
}

func (t *TCPTransport) handleAccepted(conn net.Conn, registered chan<- struct{ id types.ReplicaID; dir string }) {
	var idBuf [4]byte
	if _, err := readFull(conn, idBuf[:]); err != nil {
		t.logger.Warnf("bootstrap: failed reading peer id: %v", err)
		conn.Close()
		return
	}
	peer := types.ReplicaID(binary.BigEndian.Uint32(idBuf[:]))
	link := newPeerLink(peer, conn)
	t.registerReadSide(link)
	registered <- struct{ id types.ReplicaID; dir string }{peer, "rx"}
}

func (t *TCPTransport) dialLoop(peer types.ReplicaID, addr string, registered chan<- struct{ id types.ReplicaID; dir string }) {
	defer t.wg.Done()
	var lastErr error
	for attempt := 0; attempt < dialRetries; attempt++ {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, dialSpacing)
		if err == nil {
			var idBuf [4]byte
			binary.BigEndian.PutUint32(idBuf[:], uint32(t.self))
			if _, werr := conn.Write(idBuf[:]); werr != nil {
				conn.Close()
				lastErr = werr
			} else {
				link := newPeerLink(peer, conn)
				t.registerWriteSide(link)
				registered <- struct{ id types.ReplicaID; dir string }{peer, "tx"}
				return
			}
		} else {
			lastErr = err
		}
		time.Sleep(dialSpacing)
	}
	t.logger.Errorf("bootstrap: exhausted dial budget to peer %d at %s: %v", peer, addr, lastErr)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// registerReadSide installs the inbound reader for a peer link: one
// connection can carry both our read half (accepted) and the peer's
// corresponding dial will carry our write half, so a peer ultimately owns
// two independent peerLinks (kept separately to honor "owned read half /
// owned write half" per §5).
func (t *TCPTransport) registerReadSide(link *peerLink) {
	t.wg.Add(1)
	go t.readLoop(link)
}

func (t *TCPTransport) registerWriteSide(link *peerLink) {
	t.mu.Lock()
	t.peers[link.id] = link
	t.mu.Unlock()
	t.wg.Add(1)
	go t.writeLoop(link)
}

func (t *TCPTransport) readLoop(link *peerLink) {
	defer t.wg.Done()
	// Close the connection on shutdown so a blocked ReadFrame returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-t.ctx.Done():
			link.markBroken()
		case <-stop:
		}
	}()
	for {
		payload, err := types.ReadFrame(link.conn)
		if err != nil {
			t.logger.Warnf("peer %d: read error, marking link broken: %v", link.id, err)
			link.markBroken()
			return
		}
		env, err := types.DecodeEnvelope(payload)
		if err != nil {
			t.logger.Warnf("peer %d: %v", link.id, err)
			continue
		}
		select {
		case t.inbound <- Inbound{Sender: link.id, Message: env}:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *TCPTransport) writeLoop(link *peerLink) {
	defer t.wg.Done()
	for {
		select {
		case payload, ok := <-link.outbound:
			if !ok {
				return
			}
			if err := types.WriteFrame(link.conn, payload); err != nil {
				t.logger.Warnf("peer %d: write error, marking link broken: %v", link.id, err)
				link.markBroken()
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}

// Send implements Transport.
func (t *TCPTransport) Send(peer types.ReplicaID, env types.Envelope) error {
	if peer == t.self {
		select {
		case t.loopback <- Inbound{Sender: t.self, Message: env}:
			return nil
		case <-t.ctx.Done():
			return types.ErrShuttingDown
		}
	}

	t.mu.RLock()
	link, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok || link.isBroken() {
		return fmt.Errorf("%w: peer %d", types.ErrPeerGone, peer)
	}

	payload, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case link.outbound <- payload:
		return nil
	case <-t.ctx.Done():
		return types.ErrShuttingDown
	}
}

// Broadcast implements Transport.
func (t *TCPTransport) Broadcast(env types.Envelope) error {
	t.mu.RLock()
	targets := make([]types.ReplicaID, 0, len(t.peers)+1)
	for id := range t.peers {
		targets = append(targets, id)
	}
	t.mu.RUnlock()
	targets = append(targets, t.self)

	var firstErr error
	for _, id := range targets {
		if err := t.Send(id, env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Listen implements Transport. It fans the loopback and per-peer inbound
// channels into a single channel, preserving per-sender FIFO order
// because the fan-in goroutine only ever copies already-ordered messages.
func (t *TCPTransport) Listen() <-chan Inbound {
	out := make(chan Inbound, outboundQueueDepth)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)
		for {
			select {
			case m, ok := <-t.loopback:
				if !ok {
					return
				}
				out <- m
			case m, ok := <-t.inbound:
				if !ok {
					return
				}
				out <- m
			case <-t.ctx.Done():
				return
			}
		}
	}()
	return out
}

// LocalAddress implements Transport.
func (t *TCPTransport) LocalAddress() string {
	return t.addr
}

// Close implements Transport.
func (t *TCPTransport) Close() error {
	t.cancel()
	_ = t.listener.Close()
	t.mu.RLock()
	for _, link := range t.peers {
		link.markBroken()
	}
	t.mu.RUnlock()
	t.wg.Wait()
	return nil
}
