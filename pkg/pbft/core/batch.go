package core

import (
	"time"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// RequestPool is the leader-side queue of client requests awaiting
// assignment to a batch. It is fed by whatever accepts client connections
// (cmd/replica, or the benchmark client harness) and drained by the
// Consensus Engine's batch-formation timer.
type RequestPool struct {
	incoming chan types.Request
}

// NewRequestPool creates a pool with the given channel capacity.
func NewRequestPool(capacity int) *RequestPool {
	return &RequestPool{incoming: make(chan types.Request, capacity)}
}

// Submit enqueues a request for the next batch. It blocks if the pool is
// full, applying backpressure to whatever is submitting requests.
func (p *RequestPool) Submit(req types.Request) {
	p.incoming <- req
}

// Close signals that no further requests will be submitted; a subsequent
// SealBatch drains whatever remains and then always returns a closed-pool
// empty batch.
func (p *RequestPool) Close() {
	close(p.incoming)
}

// SealBatch gathers up to maxSize requests, sealing early if timeout
// elapses first (whichever fires first seals the batch, per §4.3).  It
// reports closed=true once the pool has been closed and fully drained, so
// the leader can stop proposing (S5, "empty input at leader").
func (p *RequestPool) SealBatch(maxSize int, timeout time.Duration) (batch types.Batch, closed bool) {
	if maxSize <= 0 {
		maxSize = 1
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for len(batch.Requests) < maxSize {
		select {
		case req, ok := <-p.incoming:
			if !ok {
				return batch, true
			}
			batch.Requests = append(batch.Requests, req)
		case <-deadline.C:
			return batch, false
		}
	}
	return batch, false
}
