package persistentlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

var logBucket = []byte("pbft-log")

// BoltLog is a durable, append-only PersistentLog backed by a single
// bbolt database file, keyed by big-endian sequence number followed by a
// big-endian append counter, so several records for one slot are all
// kept and ReadFrom can seek directly to its starting point via the
// bucket's cursor.
type BoltLog struct {
	db *bolt.DB
}

// OpenBoltLog opens (creating if necessary) a bbolt database at path and
// returns a PersistentLog backed by it.
func OpenBoltLog(path string) (*BoltLog, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening persistent log %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing persistent log bucket: %w", err)
	}
	return &BoltLog{db: db}, nil
}

func seqKey(seq types.SeqNo) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(seq))
	return key[:]
}

// Append implements types.PersistentLog. The write transaction commits
// (fsyncing, per bbolt's default) before Append returns, satisfying the
// "Append MUST return before the outbound broadcast is sent" contract.
func (l *BoltLog) Append(rec types.LogRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding log record (seq=%d): %w", rec.Seq, err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		n, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 16)
		copy(key, seqKey(rec.Seq))
		binary.BigEndian.PutUint64(key[8:], n)
		return bucket.Put(key, value)
	})
}

// ReadFrom implements types.PersistentLog, returning an iterator backed
// by a single long-lived read transaction; callers MUST call Close on the
// returned iterator to release it.
func (l *BoltLog) ReadFrom(from types.SeqNo) (types.LogIterator, error) {
	tx, err := l.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("beginning read transaction: %w", err)
	}
	cur := tx.Bucket(logBucket).Cursor()
	return &boltIterator{tx: tx, cur: cur, start: seqKey(from)}, nil
}

// Close implements types.PersistentLog.
func (l *BoltLog) Close() error {
	return l.db.Close()
}

type boltIterator struct {
	tx      *bolt.Tx
	cur     *bolt.Cursor
	start   []byte
	started bool
	rec     types.LogRecord
	err     error
}

func (it *boltIterator) Next() bool {
	if it.err != nil {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.cur.Seek(it.start)
	} else {
		k, v = it.cur.Next()
	}
	if k == nil {
		return false
	}
	var rec types.LogRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		it.err = fmt.Errorf("decoding log record: %w", err)
		return false
	}
	it.rec = rec
	return true
}

func (it *boltIterator) Record() types.LogRecord {
	return it.rec
}

func (it *boltIterator) Err() error {
	return it.err
}

func (it *boltIterator) Close() error {
	return it.tx.Rollback()
}

var (
	_ types.PersistentLog = (*BoltLog)(nil)
	_ types.LogIterator   = (*boltIterator)(nil)
)
