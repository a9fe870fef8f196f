package types

// LogRecord is a single entry in the persistent log: one phase transition
// for one slot.
type LogRecord struct {
	Seq   SeqNo       `json:"seq"`
	View  View        `json:"view"`
	Phase string      `json:"phase"`
	Data  []byte      `json:"data"`
}

// LogIterator walks a persistent log forward from some starting sequence
// number.
type LogIterator interface {
	// Next advances the iterator and reports whether a record is
	// available.
	Next() bool

	// Record returns the record the iterator currently points to. Only
	// valid after a Next call that returned true.
	Record() LogRecord

	// Err returns the first error encountered during iteration, if any.
	Err() error

	// Close releases resources held by the iterator.
	Close() error
}

// PersistentLog is the durability boundary invoked by the Consensus Engine
// on entering each new phase for a slot. When durability is enabled, Append
// MUST return (ack) before the outbound broadcast of that phase's message
// is sent. A no-op implementation is permitted for the prototype and is the
// default.
type PersistentLog interface {
	// Append durably records rec and returns once it is safe to rely on
	// (an "ack" per the distilled spec's external interface contract).
	Append(rec LogRecord) error

	// ReadFrom returns an iterator over all records with Seq >= from, in
	// ascending sequence order.
	ReadFrom(from SeqNo) (LogIterator, error)

	// Close releases any resources (file handles, database handles) held
	// by the log.
	Close() error
}
