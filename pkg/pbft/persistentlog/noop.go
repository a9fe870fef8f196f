// Package persistentlog provides the durability implementations for
// types.PersistentLog: a no-op default and a bbolt-backed durable log.
package persistentlog

import "github.com/go-pbft/replica/pkg/pbft/types"

// NoopLog discards every record. It is the prototype's default, per the
// external interfaces contract: durability is opt-in.
type NoopLog struct{}

// NewNoopLog returns a PersistentLog that never persists anything.
func NewNoopLog() NoopLog {
	return NoopLog{}
}

// Append implements types.PersistentLog.
func (NoopLog) Append(types.LogRecord) error {
	return nil
}

// ReadFrom implements types.PersistentLog, always returning an empty
// iterator since nothing was ever recorded.
func (NoopLog) ReadFrom(types.SeqNo) (types.LogIterator, error) {
	return emptyIterator{}, nil
}

// Close implements types.PersistentLog.
func (NoopLog) Close() error {
	return nil
}

type emptyIterator struct{}

func (emptyIterator) Next() bool            { return false }
func (emptyIterator) Record() types.LogRecord { return types.LogRecord{} }
func (emptyIterator) Err() error            { return nil }
func (emptyIterator) Close() error          { return nil }

var (
	_ types.PersistentLog = NoopLog{}
	_ types.LogIterator   = emptyIterator{}
)
