package core

import (
	"context"
	"sync"
	"time"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Decided is handed to the Execution Pipeline once a slot commits. Values
// are sent in commit order, which with PipelineWindow > 1 need not be
// sequence order; the pipeline buffers them and executes strictly in
// sequence order (I3).
type Decided struct {
	Seq   types.SeqNo
	View  types.View
	Batch types.Batch
}

// Engine is the Consensus Engine: the single goroutine that owns every
// Slot, drives the leader's batch-proposal loop, and applies inbound
// votes to the matching slot's state machine. All of its state is
// unsynchronized because exactly one goroutine (run) ever touches it.
type Engine struct {
	self   types.ReplicaID
	n      int
	quorum int

	transport Transport
	router    *Router
	signer    types.Signer
	hasher    types.Hasher
	logger    types.Logger
	pool      *RequestPool
	log       types.PersistentLog

	cfg config

	view types.View
	low  types.SeqNo // lowest not-yet-executed sequence number
	next types.SeqNo // next sequence number this leader will propose

	slots map[types.SeqNo]*Slot

	observers   map[string]types.ReplicaID
	observersMu sync.Mutex

	decided chan Decided
}

// config is the subset of config.EngineConfig the engine actually reads,
// kept narrow so core does not import the config package (core is the
// lower layer; config is assembled by the replica wiring).
type config struct {
	BatchSize      int
	BatchTimeout   time.Duration
	BatchSleep     time.Duration
	PipelineWindow int
}

// EngineParams bundles an Engine's collaborators and configuration.
type EngineParams struct {
	Self      types.ReplicaID
	N         int
	Transport Transport
	Router    *Router
	Signer    types.Signer
	Hasher    types.Hasher
	Logger    types.Logger
	Pool      *RequestPool
	Log       types.PersistentLog

	BatchSize      int
	BatchTimeout   time.Duration
	BatchSleep     time.Duration
	PipelineWindow int
}

// NewEngine builds an Engine starting at view 0, sequence 0.
func NewEngine(p EngineParams) *Engine {
	window := p.PipelineWindow
	if window <= 0 {
		window = 1
	}
	return &Engine{
		self:      p.Self,
		n:         p.N,
		quorum:    types.Quorum(p.N),
		transport: p.Transport,
		router:    p.Router,
		signer:    p.Signer,
		hasher:    p.Hasher,
		logger:    p.Logger,
		pool:      p.Pool,
		log:       p.Log,
		cfg: config{
			BatchSize:      p.BatchSize,
			BatchTimeout:   p.BatchTimeout,
			BatchSleep:     p.BatchSleep,
			PipelineWindow: window,
		},
		view:      0,
		low:       0,
		next:      0,
		slots:     make(map[types.SeqNo]*Slot),
		observers: make(map[string]types.ReplicaID),
		decided:   make(chan Decided, window),
	}
}

// appendPhase durably records a phase transition before its message goes
// out on the wire, per PersistentLog's ack-precedes-broadcast contract. A
// nil log skips the append entirely.
func (e *Engine) appendPhase(view types.View, seq types.SeqNo, phase string, digest types.Digest) {
	if e.log == nil {
		return
	}
	rec := types.LogRecord{Seq: seq, View: view, Phase: phase, Data: digest[:]}
	if err := e.log.Append(rec); err != nil {
		e.logger.Errorf("persistent log append (seq=%d, phase=%s): %v", seq, phase, err)
	}
}

// Decided returns the channel the Execution Pipeline drains committed
// slots from, in commit order.
func (e *Engine) Decided() <-chan Decided {
	return e.decided
}

// isLeader reports whether self is the leader of the current view.
func (e *Engine) isLeader() bool {
	return e.view.Leader(e.n) == e.self
}

// Run is the Engine's single event loop. It multiplexes inbound network
// messages against the leader's batch-proposal timer until ctx is
// canceled.
func (e *Engine) Run(ctx context.Context) {
	inbound := e.transport.Listen()

	var proposeTimer <-chan time.Time
	var proposeTicker *time.Ticker
	if e.isLeader() {
		proposeTicker = time.NewTicker(e.cfg.BatchTimeout)
		proposeTimer = proposeTicker.C
		defer proposeTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-inbound:
			if !ok {
				return
			}
			e.handleInbound(msg)

		case <-proposeTimer:
			e.maybePropose()
		}
	}
}

func (e *Engine) handleInbound(msg Inbound) {
	switch msg.Message.Kind {
	case types.KindPrePrepare:
		e.onPrePrepare(msg.Sender, *msg.Message.PrePrepare)
	case types.KindPrepare:
		e.onPrepare(msg.Sender, *msg.Message.Prepare)
	case types.KindCommit:
		e.onCommit(msg.Sender, *msg.Message.Commit)
	case types.KindObserverRegister:
		e.onObserverRegister(msg.Sender, *msg.Message.ObserverRegister)
	case types.KindObserverEvent:
		// Engines never originate ObserverEvent traffic for themselves; an
		// observer-facing component elsewhere relays these. Nothing to do.
	case types.KindRequest:
		e.onRequest(*msg.Message.Request)
	case types.KindReply:
		// Replicas never consume replies; only clients do. A reply
		// arriving here means a client id was reused as a replica id.
		e.logger.Warnf("reply message misdelivered to replica %d", e.self)
	}
}

// onRequest feeds a client request into the leader's request pool. A
// non-leader replica forwards it to the leader of its current view; if
// that send fails the request is dropped with a warning, and the
// client's own retry logic (in the bench client harness) resends it.
func (e *Engine) onRequest(req types.Request) {
	if !e.isLeader() {
		leader := e.view.Leader(e.n)
		if err := e.transport.Send(leader, types.EnvelopeRequest(req)); err != nil {
			e.logger.Warnf("forwarding request from client %d to leader %d: %v", req.Client, leader, err)
		}
		return
	}
	e.pool.Submit(req)
}

// slotFor returns (creating if necessary) the slot for seq, bounded to
// the current pipeline window; callers must only call this after the
// router has already confirmed seq is in-window.
func (e *Engine) slotFor(seq types.SeqNo) *Slot {
	s, ok := e.slots[seq]
	if !ok {
		s = NewSlot(e.view, seq)
		e.slots[seq] = s
	}
	return s
}

func (e *Engine) classify(sender types.ReplicaID, env types.Envelope) routeDecision {
	return e.router.Classify(routedMessage{sender: sender, env: env})
}

func (e *Engine) onPrePrepare(sender types.ReplicaID, pp types.PrePrepare) {
	if e.classify(sender, types.EnvelopePrePrepare(pp)) != routeApply {
		return
	}
	if !pp.VerifySignature(e.signer) {
		e.logger.Warnf("rejecting pre-prepare from %d: %v", sender, types.ErrSignatureInvalid)
		return
	}
	wantLeader := pp.View.Leader(e.n)
	if sender != wantLeader {
		e.logger.Warnf("rejecting pre-prepare from %d: not leader of view %d", sender, pp.View)
		return
	}
	digest := pp.Batch.Digest(e.hasher)
	if digest != pp.Digest {
		e.logger.Warnf("rejecting pre-prepare from %d: %v", sender, types.ErrDigestMismatch)
		return
	}

	slot := e.slotFor(pp.Seq)
	if err := slot.AcceptPrePrepare(sender, pp.Batch, pp.Digest); err != nil {
		e.logger.Warnf("pre-prepare (seq=%d): %v", pp.Seq, err)
		return
	}
	e.emitObserverEvent(types.ObserverPrePrepared, pp.View, pp.Seq, pp.Digest)

	if reached, err := slot.ReplayBufferedPrepares(e.quorum); err != nil {
		e.logger.Warnf("replaying buffered prepares (seq=%d): %v", pp.Seq, err)
	} else if reached {
		e.onPrepareQuorum(slot)
	}

	if !e.isLeader() {
		prep := types.Prepare{View: pp.View, Seq: pp.Seq, Digest: pp.Digest, Sender: e.self}
		if err := prep.Sign(e.signer); err != nil {
			e.logger.Errorf("signing prepare (seq=%d): %v", pp.Seq, err)
			return
		}
		e.appendPhase(pp.View, pp.Seq, "prepared", pp.Digest)
		if err := e.transport.Broadcast(types.EnvelopePrepare(prep)); err != nil {
			e.logger.Warnf("broadcasting prepare (seq=%d): %v", pp.Seq, err)
		}
	}
}

func (e *Engine) onPrepare(sender types.ReplicaID, p types.Prepare) {
	if e.classify(sender, types.EnvelopePrepare(p)) != routeApply {
		return
	}
	if !p.VerifySignature(e.signer) {
		e.logger.Warnf("rejecting prepare from %d: %v", sender, types.ErrSignatureInvalid)
		return
	}

	slot := e.slotFor(p.Seq)
	_, reached, err := slot.AddPrepare(p.AsVote(), e.quorum)
	if err != nil {
		e.logger.Warnf("prepare from %d (seq=%d): %v", sender, p.Seq, err)
		return
	}
	if reached {
		e.onPrepareQuorum(slot)
	}
}

// onPrepareQuorum fires exactly once per slot, the instant its prepare
// quorum is reached. It replays any commits that arrived early and
// broadcasts this replica's own commit vote.
func (e *Engine) onPrepareQuorum(slot *Slot) {
	digest, _ := slot.Digest()
	e.emitObserverEvent(types.ObserverPrepared, slot.View, slot.Seq, digest)

	if reached, err := slot.ReplayBufferedCommits(e.quorum); err != nil {
		e.logger.Warnf("replaying buffered commits (seq=%d): %v", slot.Seq, err)
	} else if reached {
		e.onCommitQuorum(slot)
	}

	commit := types.Commit{View: slot.View, Seq: slot.Seq, Digest: digest, Sender: e.self}
	if err := commit.Sign(e.signer); err != nil {
		e.logger.Errorf("signing commit (seq=%d): %v", slot.Seq, err)
		return
	}
	e.appendPhase(slot.View, slot.Seq, "committing", digest)
	if err := e.transport.Broadcast(types.EnvelopeCommit(commit)); err != nil {
		e.logger.Warnf("broadcasting commit (seq=%d): %v", slot.Seq, err)
	}
}

func (e *Engine) onCommit(sender types.ReplicaID, c types.Commit) {
	if e.classify(sender, types.EnvelopeCommit(c)) != routeApply {
		return
	}
	if !c.VerifySignature(e.signer) {
		e.logger.Warnf("rejecting commit from %d: %v", sender, types.ErrSignatureInvalid)
		return
	}

	slot := e.slotFor(c.Seq)
	_, reached, err := slot.AddCommit(c.AsVote(), e.quorum)
	if err != nil {
		e.logger.Warnf("commit from %d (seq=%d): %v", sender, c.Seq, err)
		return
	}
	if reached {
		e.onCommitQuorum(slot)
	}
}

func (e *Engine) onCommitQuorum(slot *Slot) {
	batch, ok := slot.Decided()
	if !ok {
		return
	}
	digest, _ := slot.Digest()
	e.emitObserverEvent(types.ObserverCommitted, slot.View, slot.Seq, digest)

	e.decided <- Decided{Seq: slot.Seq, View: slot.View, Batch: batch}
}

func (e *Engine) onObserverRegister(sender types.ReplicaID, reg types.ObserverRegister) {
	e.observersMu.Lock()
	e.observers[reg.ObserverID] = sender
	e.observersMu.Unlock()
}

func (e *Engine) emitObserverEvent(kind types.ObserverEventKind, view types.View, seq types.SeqNo, digest types.Digest) {
	e.observersMu.Lock()
	targets := make([]types.ReplicaID, 0, len(e.observers))
	for _, id := range e.observers {
		targets = append(targets, id)
	}
	e.observersMu.Unlock()
	if len(targets) == 0 {
		return
	}
	env := types.EnvelopeObserverEvent(types.ObserverEvent{Kind: kind, View: view, Seq: seq, Digest: digest})
	for _, id := range targets {
		if err := e.transport.Send(id, env); err != nil {
			e.logger.Warnf("relaying observer event to %d: %v", id, err)
		}
	}
}

// maybePropose is the leader's batch-formation step: seal whatever the
// request pool has collected and, if non-empty, pre-prepare it at the
// next sequence number. Called once per BatchTimeout tick.
func (e *Engine) maybePropose() {
	if !e.isLeader() {
		return
	}
	if e.next >= e.low+types.SeqNo(e.cfg.PipelineWindow) {
		return // pipeline window full; wait for execution to advance low.
	}

	batch, closed := e.pool.SealBatch(e.cfg.BatchSize, e.cfg.BatchTimeout)
	if batch.Len() == 0 {
		if closed {
			e.logger.Infof("replica %d: request pool closed, leader idling", e.self)
		}
		return
	}
	if e.cfg.BatchSleep > 0 {
		time.Sleep(e.cfg.BatchSleep)
	}

	seq := e.next
	e.next++
	digest := batch.Digest(e.hasher)

	pp := types.PrePrepare{View: e.view, Seq: seq, Batch: batch, Digest: digest, Sender: e.self}
	if err := pp.Sign(e.signer); err != nil {
		e.logger.Errorf("signing pre-prepare (seq=%d): %v", seq, err)
		return
	}

	slot := e.slotFor(seq)
	if err := slot.AcceptPrePrepare(e.self, batch, digest); err != nil {
		e.logger.Errorf("leader could not accept its own pre-prepare (seq=%d): %v", seq, err)
		return
	}
	e.emitObserverEvent(types.ObserverPrePrepared, e.view, seq, digest)

	e.appendPhase(e.view, seq, "pre-prepared", digest)
	if err := e.transport.Broadcast(types.EnvelopePrePrepare(pp)); err != nil {
		e.logger.Warnf("broadcasting pre-prepare (seq=%d): %v", seq, err)
	}
}

// AdvanceLow notifies the engine that the Execution Pipeline has finished
// executing up to (and including) seq, freeing that slot's memory and
// sliding the pipeline window forward.
func (e *Engine) AdvanceLow(seq types.SeqNo) {
	delete(e.slots, seq)
	if seq >= e.low {
		e.low = seq + 1
	}
	e.router.Advance(e.low)
}
