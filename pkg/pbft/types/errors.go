package types

import "errors"

// Sentinel errors per the error taxonomy: Config and Bootstrap errors are
// fatal at boot, Transport and Protocol errors are recovered locally, and
// Service errors are folded into an error reply without crashing the engine.
var (
	// ErrPeerGone is returned by a Send when the link to a peer is
	// permanently broken.
	ErrPeerGone = errors.New("pbft: peer link permanently broken")

	// ErrNotAdvertisable is returned when a transport cannot determine an
	// advertisable address for itself.
	ErrNotAdvertisable = errors.New("pbft: transport has no advertisable address")

	// ErrBootstrapExhausted is returned when dialing a peer exhausts its
	// retry budget during bootstrap.
	ErrBootstrapExhausted = errors.New("pbft: exhausted dial retry budget during bootstrap")

	// ErrConfig marks a missing or malformed configuration value.
	ErrConfig = errors.New("pbft: invalid configuration")

	// ErrFramingViolation marks a malformed or truncated wire frame.
	ErrFramingViolation = errors.New("pbft: framing violation")

	// ErrDuplicatePrePrepare marks invariant I4: a second pre-prepare for
	// (view, seq) carrying a different digest than the one already
	// accepted.
	ErrDuplicatePrePrepare = errors.New("pbft: conflicting pre-prepare for slot")

	// ErrDigestMismatch marks invariant I2: a vote whose digest disagrees
	// with the slot's pre-prepared batch digest.
	ErrDigestMismatch = errors.New("pbft: vote digest does not match pre-prepared batch")

	// ErrNotLeader marks a pre-prepare claimed by a non-leader sender.
	ErrNotLeader = errors.New("pbft: pre-prepare from non-leader sender")

	// ErrForeignView marks a message carrying a view the engine does not
	// currently hold.
	ErrForeignView = errors.New("pbft: message view does not match current view")

	// ErrSignatureInvalid marks a message whose signature failed
	// verification.
	ErrSignatureInvalid = errors.New("pbft: signature verification failed")

	// ErrSlotOutOfWindow marks a message whose sequence number falls
	// outside the engine's active pipeline window.
	ErrSlotOutOfWindow = errors.New("pbft: sequence number outside active window")

	// ErrShuttingDown is returned by operations attempted after a replica
	// has begun graceful shutdown.
	ErrShuttingDown = errors.New("pbft: replica is shutting down")
)
