package core

import (
	"context"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// replyRetryBudget bounds how many send attempts in total the pipeline
// makes to deliver a reply to a client whose link keeps failing, after
// which the reply is dropped (the client is expected to retry the
// request itself, per the external interfaces' at-least-once contract).
const replyRetryBudget = 3

// ExecutionPipeline drains Decided slots from the Consensus Engine
// strictly in ascending sequence order (I3) and applies each batch to the
// Service exactly once, then dispatches the resulting replies back to
// their clients over the transport.
type ExecutionPipeline struct {
	service   types.Service
	transport Transport
	log       types.PersistentLog
	logger    types.Logger
	metrics   ExecutionObserver

	advanceLow func(types.SeqNo)

	expected types.SeqNo
	pending  map[types.SeqNo]Decided
}

// ExecutionObserver receives a callback for every batch the pipeline
// executes, letting the metrics package track throughput/latency without
// the pipeline importing it directly.
type ExecutionObserver interface {
	ObserveExecuted(seq types.SeqNo, batchLen int)
}

// noopObserver discards every observation; used when no metrics sink is
// wired in (e.g. in tests).
type noopObserver struct{}

func (noopObserver) ObserveExecuted(types.SeqNo, int) {}

// NewExecutionPipeline builds a pipeline starting at the given first
// sequence number. advanceLow is called once a slot has been executed, so
// the Consensus Engine can free it and slide its pipeline window; pass
// engine.AdvanceLow in production wiring.
func NewExecutionPipeline(service types.Service, transport Transport, log types.PersistentLog, logger types.Logger, metrics ExecutionObserver, startSeq types.SeqNo, advanceLow func(types.SeqNo)) *ExecutionPipeline {
	if metrics == nil {
		metrics = noopObserver{}
	}
	return &ExecutionPipeline{
		service:    service,
		transport:  transport,
		log:        log,
		logger:     logger,
		metrics:    metrics,
		advanceLow: advanceLow,
		expected:   startSeq,
		pending:    make(map[types.SeqNo]Decided),
	}
}

// Run drains decided until ctx is canceled or the channel closes.
func (p *ExecutionPipeline) Run(ctx context.Context, decided <-chan Decided) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-decided:
			if !ok {
				return
			}
			p.onDecided(d)
		}
	}
}

// onDecided buffers out-of-order arrivals (possible once PipelineWindow >
// 1 lets several slots commit concurrently) and executes every
// contiguous run starting at p.expected.
func (p *ExecutionPipeline) onDecided(d Decided) {
	if d.Seq < p.expected {
		return // already executed; a duplicate commit notification.
	}
	p.pending[d.Seq] = d
	for {
		next, ok := p.pending[p.expected]
		if !ok {
			return
		}
		delete(p.pending, p.expected)
		p.execute(next)
		p.expected++
	}
}

func (p *ExecutionPipeline) execute(d Decided) {
	if p.log != nil {
		rec := types.LogRecord{Seq: d.Seq, View: d.View, Phase: "executed", Data: d.Batch.Encode()}
		if err := p.log.Append(rec); err != nil {
			p.logger.Errorf("persistent log append (seq=%d): %v", d.Seq, err)
		}
	}

	replies, err := p.service.UpdateBatch(d.Batch)
	if err != nil {
		p.logger.Errorf("executing batch (seq=%d): %v", d.Seq, err)
		// A whole-batch error still counts as executed: the batch is
		// never retried, every request in it gets an error reply, and
		// the pipeline still advances past the slot so the leader can
		// keep proposing.
		for _, req := range d.Batch.Requests {
			p.dispatchReply(req.Client, types.Reply{Client: req.Client, Session: req.Session, OperationID: req.OperationID, Err: err.Error()})
		}
		if p.advanceLow != nil {
			p.advanceLow(d.Seq)
		}
		return
	}

	p.metrics.ObserveExecuted(d.Seq, d.Batch.Len())

	for i, reply := range replies {
		if i >= len(d.Batch.Requests) {
			p.logger.Errorf("service returned more replies than requests for batch seq=%d", d.Seq)
			break
		}
		p.dispatchReply(d.Batch.Requests[i].Client, reply)
	}

	if p.advanceLow != nil {
		p.advanceLow(d.Seq)
	}
}

// dispatchReply enqueues reply on the Peer Transport toward the
// originating client, per §4.4: clients are addressed the same way peers
// are, at a ReplicaID in the client id range (types.FirstClientID and
// above). A reply whose send keeps failing is attempted replyRetryBudget
// times in total and then dropped; the client is expected to
// resubmit, per the at-least-once client contract.
func (p *ExecutionPipeline) dispatchReply(client types.ClientID, reply types.Reply) {
	env := types.EnvelopeReply(reply)
	var lastErr error
	for attempt := 0; attempt < replyRetryBudget; attempt++ {
		if err := p.transport.Send(types.ReplicaID(client), env); err == nil {
			return
		} else {
			lastErr = err
		}
	}
	p.logger.Warnf("dropping reply to client %d after %d attempts: %v", client, replyRetryBudget, lastErr)
}
