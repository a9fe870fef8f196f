package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// ObserverClient is a read-only monitoring client: it registers with one
// replica and relays the ObserverEvent messages that replica sends. The
// engine sends pre-prepared, prepared and committed milestones; no
// component sends ObserverExecuted events. It
// never influences quorum accounting (per §4's "relay-only" contract) and
// carries no vote-counting state of its own.
type ObserverClient struct {
	id        string
	transport Transport
	replica   types.ReplicaID
	events    chan types.ObserverEvent
}

// NewObserverClient wraps an already-bootstrapped transport (typically one
// dialed the same way bench.Client dials the cluster) with a fresh,
// globally unique observer id, and immediately sends the registration
// message to replica.
func NewObserverClient(ctx context.Context, transport Transport, replica types.ReplicaID) (*ObserverClient, error) {
	id := uuid.NewString()
	reg := types.ObserverRegister{ObserverID: id}
	if err := transport.Send(replica, types.EnvelopeObserverRegister(reg)); err != nil {
		return nil, fmt.Errorf("registering observer with replica %d: %w", replica, err)
	}

	oc := &ObserverClient{id: id, transport: transport, replica: replica, events: make(chan types.ObserverEvent, 256)}
	go oc.relayLoop(ctx, transport.Listen())
	return oc, nil
}

// ID returns this observer's unique registration id.
func (oc *ObserverClient) ID() string {
	return oc.id
}

// Events returns the channel ObserverEvent milestones are delivered on.
func (oc *ObserverClient) Events() <-chan types.ObserverEvent {
	return oc.events
}

func (oc *ObserverClient) relayLoop(ctx context.Context, inbound <-chan Inbound) {
	defer close(oc.events)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if msg.Message.Kind != types.KindObserverEvent {
				continue
			}
			select {
			case oc.events <- *msg.Message.ObserverEvent:
			case <-ctx.Done():
				return
			}
		}
	}
}
