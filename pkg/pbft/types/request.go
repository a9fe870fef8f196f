package types

import (
	"bytes"
	"encoding/json"
)

// Request is a single client operation awaiting assignment to a consensus
// slot. Session and OperationID are monotone per client, per the
// client-to-replica wire contract.
type Request struct {
	Client      ClientID `json:"client"`
	Session     uint64   `json:"session"`
	OperationID uint64   `json:"operation_id"`
	Payload     []byte   `json:"payload"`
}

// Reply carries the result of executing a Request back to its client.
type Reply struct {
	Client      ClientID `json:"client"`
	Session     uint64   `json:"session"`
	OperationID uint64   `json:"operation_id"`
	Payload     []byte   `json:"payload"`
	Err         string   `json:"err,omitempty"`
}

// Encode returns the canonical encoding of r used both on the wire and as
// the input to digest computation. encode/decode round-trips exactly and
// is identical across replicas because field order in a JSON object
// encoding of a Go struct is the declaration order, never a map iteration
// order.
func (r Request) Encode() []byte {
	buf, err := json.Marshal(r)
	if err != nil {
		// Request fields are all plain data; Marshal only fails on
		// cyclic or unsupported types, which Request never contains.
		panic("pbft: request is not encodable: " + err.Error())
	}
	return buf
}

// Digest returns the collision-resistant identifier for r under h.
func (r Request) Digest(h Hasher) Digest {
	return h.Hash(r.Encode())
}

// Batch is an ordered, immutable-once-proposed group of client requests
// decided as a single consensus unit.
type Batch struct {
	Requests []Request `json:"requests"`
}

// Encode returns the canonical encoding of the batch.
func (b Batch) Encode() []byte {
	buf, err := json.Marshal(b)
	if err != nil {
		panic("pbft: batch is not encodable: " + err.Error())
	}
	return buf
}

// Digest returns hash(concat(hash(r) for r in b)), order-sensitive: the
// batch digest changes if the constituent requests are reordered.
func (b Batch) Digest(h Hasher) Digest {
	var buf bytes.Buffer
	for _, r := range b.Requests {
		d := r.Digest(h)
		buf.Write(d[:])
	}
	return h.Hash(buf.Bytes())
}

// Len returns the number of requests in the batch.
func (b Batch) Len() int {
	return len(b.Requests)
}
