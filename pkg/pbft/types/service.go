package types

// Service is the replicated application consumed by the Execution
// Pipeline. It is deliberately external to the consensus core: the engine
// only ever calls it with a decided batch, strictly in sequence-number
// order (I3). A Service owns its own state; InitialState resets it and
// UpdateBatch mutates it in place, mirroring how the distilled spec's
// "state" parameter is threaded through a single long-lived instance
// rather than passed by value on every call.
type Service interface {
	// InitialState resets the service to its state before any batch has
	// been applied, and returns an opaque snapshot of it (used only for
	// logging/digesting the empty state, never interpreted by the engine).
	InitialState() []byte

	// UpdateBatch applies an entire decided batch and returns exactly one
	// reply per request, in input order. UpdateBatch MUST be invoked
	// sequentially; the Execution Pipeline never calls it concurrently for
	// the same service instance.
	//
	// A Service-level failure for an individual request is reported by
	// setting Reply.Err rather than returning a non-nil error; the batch
	// as a whole is still considered executed. UpdateBatch only returns a
	// non-nil error for a failure that invalidates the entire batch.
	UpdateBatch(batch Batch) (replies []Reply, err error)
}
