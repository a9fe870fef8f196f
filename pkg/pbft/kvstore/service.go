package kvstore

import (
	"sort"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// record is a single stored row: a flat set of named fields, the way
// YCSB models a table row without a fixed schema.
type record map[string]string

// Service is a types.Service implementing the YCSB core read/insert/
// update/scan/delete operations over an in-memory table. It is not
// synchronized internally because the Execution Pipeline guarantees
// sequential invocation (I3).
type Service struct {
	table map[string]record
}

var _ types.Service = (*Service)(nil)

// NewService returns an empty key/value service.
func NewService() *Service {
	return &Service{table: make(map[string]record)}
}

// InitialState implements types.Service.
func (s *Service) InitialState() []byte {
	s.table = make(map[string]record)
	return []byte("{}")
}

// UpdateBatch implements types.Service, applying every operation in the
// batch in order and returning one reply per request.
func (s *Service) UpdateBatch(batch types.Batch) ([]types.Reply, error) {
	replies := make([]types.Reply, 0, batch.Len())
	for _, req := range batch.Requests {
		replies = append(replies, s.apply(req))
	}
	return replies, nil
}

func (s *Service) apply(req types.Request) types.Reply {
	reply := types.Reply{Client: req.Client, Session: req.Session, OperationID: req.OperationID}

	op, err := DecodeOperation(req.Payload)
	if err != nil {
		reply.Err = err.Error()
		return reply
	}

	switch op.Kind {
	case OpInsert, OpUpdate:
		row, ok := s.table[op.Key]
		if !ok {
			row = make(record)
		}
		for k, v := range op.Fields {
			row[k] = v
		}
		s.table[op.Key] = row
		reply.Payload = EncodeResult(Result{})

	case OpRead:
		row, ok := s.table[op.Key]
		if !ok {
			reply.Err = "kvstore: key not found"
			return reply
		}
		reply.Payload = EncodeResult(Result{Fields: []map[string]string{cloneRecord(row)}})

	case OpScan:
		reply.Payload = EncodeResult(Result{Fields: s.scan(op.Key, op.Count)})

	case OpDelete:
		delete(s.table, op.Key)
		reply.Payload = EncodeResult(Result{})

	default:
		reply.Err = "kvstore: unsupported operation"
	}

	return reply
}

// scan returns up to count rows with keys >= start, in ascending key
// order, mirroring YCSB's scan semantics over a key-ordered table.
func (s *Service) scan(start string, count int) []map[string]string {
	keys := make([]string, 0, len(s.table))
	for k := range s.table {
		if k >= start {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if count > 0 && count < len(keys) {
		keys = keys[:count]
	}
	out := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneRecord(s.table[k]))
	}
	return out
}

func cloneRecord(r record) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
