// Package kvstore implements a YCSB-style key/value Service: a small set
// of read/write operations over a flat string-keyed map, encoded into
// Request/Reply payloads the same way the original benchmark's YCSB
// client/service pair serialized operations.
package kvstore

import (
	"encoding/json"
	"fmt"
)

// OpKind enumerates the YCSB-style operations this service supports.
type OpKind uint8

const (
	OpRead OpKind = iota
	OpInsert
	OpUpdate
	OpScan
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpScan:
		return "scan"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is the decoded form of a Request.Payload: one YCSB-style
// operation against a single key (or a key range, for Scan).
type Operation struct {
	Kind   OpKind            `json:"kind"`
	Key    string            `json:"key"`
	Fields map[string]string `json:"fields,omitempty"`
	Count  int               `json:"count,omitempty"` // Scan only
}

// EncodeOperation is the client-side counterpart to DecodeOperation,
// producing the bytes a Request.Payload carries.
func EncodeOperation(op Operation) []byte {
	buf, err := json.Marshal(op)
	if err != nil {
		panic("kvstore: operation is not encodable: " + err.Error())
	}
	return buf
}

// DecodeOperation parses a Request.Payload into an Operation.
func DecodeOperation(payload []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		return Operation{}, fmt.Errorf("kvstore: decoding operation: %w", err)
	}
	return op, nil
}

// Result is the decoded form of a successful Reply.Payload.
type Result struct {
	Fields []map[string]string `json:"fields,omitempty"`
}

// EncodeResult is the service-side counterpart to DecodeResult.
func EncodeResult(res Result) []byte {
	buf, err := json.Marshal(res)
	if err != nil {
		panic("kvstore: result is not encodable: " + err.Error())
	}
	return buf
}

// DecodeResult parses a Reply.Payload into a Result, for client-side
// consumption.
func DecodeResult(payload []byte) (Result, error) {
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return Result{}, fmt.Errorf("kvstore: decoding result: %w", err)
	}
	return res, nil
}
