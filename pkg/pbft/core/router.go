package core

import (
	"github.com/go-pbft/replica/pkg/pbft/types"
)

// foreignWindowBound caps how many messages the router holds for views
// ahead of the Consensus Engine's current view; on overflow the oldest is
// dropped and logged. Messages with an out-of-window sequence number are
// not buffered at all.
const foreignWindowBound = 4096

// routedMessage is an inbound message together with its sender, as handed
// to Classify.
type routedMessage struct {
	sender types.ReplicaID
	env    types.Envelope
}

// Router classifies every inbound message by (view, seq, kind) before
// handing it to the Consensus Engine. It owns no protocol state itself:
// it only decides whether a message is currently addressable (same view,
// seq inside [lowWatermark, lowWatermark+window)). Of the rest, only
// future-view messages are buffered; stale-view and out-of-window
// messages are dropped with a log entry and are not re-delivered when the
// window advances. This mirrors the teacher library's dispatch-by-type
// entry point, generalized from a single fixed phase sequence to a
// windowed, multi-slot pipeline.
type Router struct {
	logger types.Logger

	currentView types.View
	low         types.SeqNo
	window      int

	foreignView []routedMessage
}

// NewRouter creates a router fixed to the given starting view and
// pipeline window.
func NewRouter(view types.View, window int, logger types.Logger) *Router {
	if window <= 0 {
		window = 1
	}
	return &Router{
		logger:      logger,
		currentView: view,
		window:      window,
	}
}

// SetView updates the router's notion of the current view, e.g. after a
// view change completes (left unimplemented per DESIGN.md's open-question
// decision, but the hook exists so the engine can drive it later).
func (r *Router) SetView(view types.View) {
	r.currentView = view
}

// Advance moves the low watermark of the addressable window forward,
// called by the engine once it has finished with a sequence number.
func (r *Router) Advance(low types.SeqNo) {
	r.low = low
}

// routeDecision describes what the engine should do with a classified
// message.
type routeDecision int

const (
	routeApply routeDecision = iota
	routeBufferedForeignView
	routeDroppedOutOfWindow
	routeDroppedStaleView
)

// Classify inspects env's view and sequence number (when present — an
// observer-registration envelope carries neither) and reports how the
// Consensus Engine should handle it. Per I6, a message from a view the
// engine has already moved past can never become relevant again and is
// dropped outright; only a message from a view ahead of the engine's own
// is buffered, against the possibility of a future view change.
func (r *Router) Classify(msg routedMessage) routeDecision {
	view, seq, ok := extractViewSeq(msg.env)
	if !ok {
		return routeApply
	}

	if view < r.currentView {
		r.logger.Warnf("router: dropping stale-view message from %d (view=%d, current=%d)",
			msg.sender, view, r.currentView)
		return routeDroppedStaleView
	}

	if view > r.currentView {
		r.bufferForeignView(msg)
		return routeBufferedForeignView
	}

	if seq < r.low || seq >= r.low+types.SeqNo(r.window) {
		r.logger.Warnf("router: dropping out-of-window message from %d (seq=%d, window=[%d,%d))",
			msg.sender, seq, r.low, r.low+types.SeqNo(r.window))
		return routeDroppedOutOfWindow
	}

	return routeApply
}

func (r *Router) bufferForeignView(msg routedMessage) {
	if len(r.foreignView) >= foreignWindowBound {
		r.logger.Warnf("router: foreign-view buffer full, dropping oldest message from %d", r.foreignView[0].sender)
		r.foreignView = r.foreignView[1:]
	}
	r.foreignView = append(r.foreignView, msg)
}

// DrainForeignView returns (and clears) every message buffered for a view
// that is not the current one, so the engine can re-classify them after a
// view change. Since view changes are unimplemented, nothing outside the
// tests calls it; the buffer's size is capped by foreignWindowBound.
func (r *Router) DrainForeignView() []routedMessage {
	drained := r.foreignView
	r.foreignView = nil
	return drained
}

func extractViewSeq(env types.Envelope) (types.View, types.SeqNo, bool) {
	switch env.Kind {
	case types.KindPrePrepare:
		return env.PrePrepare.View, env.PrePrepare.Seq, true
	case types.KindPrepare:
		return env.Prepare.View, env.Prepare.Seq, true
	case types.KindCommit:
		return env.Commit.View, env.Commit.Seq, true
	default:
		return 0, 0, false
	}
}
