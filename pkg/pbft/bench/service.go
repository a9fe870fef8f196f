// Package bench implements the microbenchmark Service and client-pool
// harness used to drive synthetic load against a replica, mirroring the
// original microbenchmark suite's fixed-size-state, fixed-size-reply
// workload.
package bench

import (
	"github.com/go-pbft/replica/pkg/pbft/config"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Service is a types.Service that ignores request payload content and
// always answers with a single, precomputed reply of ReplySize bytes,
// against a state blob of StateSize bytes that it never actually needs to
// inspect. It exists purely to exercise the consensus and execution path
// under a synthetic, allocation-light workload.
type Service struct {
	reply []byte
	state []byte
}

var _ types.Service = (*Service)(nil)

// NewService builds a microbenchmark service sized per cfg.
func NewService(cfg config.EngineConfig) *Service {
	return &Service{
		reply: fillPattern(cfg.ReplySize),
		state: fillPattern(cfg.StateSize),
	}
}

// fillPattern reproduces the original benchmark's synthetic payload:
// byte i set to i&0xff, cheap to generate and trivially distinguishable
// from an all-zero buffer in a hex dump.
func fillPattern(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i & 0xff)
	}
	return buf
}

// InitialState implements types.Service.
func (s *Service) InitialState() []byte {
	return s.state
}

// UpdateBatch implements types.Service, replying to every request in the
// batch with the same precomputed payload.
func (s *Service) UpdateBatch(batch types.Batch) ([]types.Reply, error) {
	replies := make([]types.Reply, 0, batch.Len())
	for _, req := range batch.Requests {
		replies = append(replies, types.Reply{
			Client:      req.Client,
			Session:     req.Session,
			OperationID: req.OperationID,
			Payload:     s.reply,
		})
	}
	return replies, nil
}
