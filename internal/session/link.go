package session

import (
	"context"

	"github.com/google/uuid"
)

// Link is the send side of a peer's transport. The dispatcher talks to
// this interface so sessions can be exercised without a live websocket;
// pkg/transport.Connection is the production implementation.
type Link interface {
	ID() uuid.UUID
	// Send queues a frame and reports whether it was accepted. No
	// queueing beyond the transport buffer, no retry.
	Send(message []byte) bool
	// Open reports whether the link can still carry sends.
	Open() bool
	// Ping round-trips a protocol-level ping, bounded by ctx.
	Ping(ctx context.Context) error
	// CloseWith performs a protocol-level close with a status code.
	CloseWith(code int, reason string)
}
