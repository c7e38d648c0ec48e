package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the control surface and manager.
var (
	// ErrChannelNotFound is returned by control operations on an unknown channel ID.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrTooManyChannels is returned when set_source would exceed relay.max_channels.
	ErrTooManyChannels = errors.New("maximum channel count reached")

	// ErrWorkerStopped names the condition of a worker whose background
	// loop has already exited via stop(). No operation in this package
	// returns it; a stopped worker's control operations run as usual.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrInvalidChannelID is returned when a channel ID is empty or is not
	// safe to use as a filesystem path component.
	ErrInvalidChannelID = errors.New("invalid channel id")
)

// InvariantError indicates a worker-level invariant was violated (spec.md
// §7 "internal invariant violation"), e.g. a parse failure on the worker's
// own previously-admitted output URI. It is fatal to the worker that
// raised it; the control plane may recreate the channel.
type InvariantError struct {
	ChannelID string
	Detail    string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("channel %s: invariant violation: %s", e.ChannelID, e.Detail)
}
