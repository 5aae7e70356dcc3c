// Package channel provides MessageChannel implementations that carry sync
// payloads between the sensor and display nodes.
package channel

import "context"

// MessageChannel is a bidirectional, unacknowledged link to the peer node.
// Delivery and ordering across the link are not guaranteed.
type MessageChannel interface {
	// IsReachable reports whether a send can currently be attempted.
	IsReachable() bool
	// Send hands payload to the transport once.
	Send(ctx context.Context, payload []byte) error
	// OnReceive registers the inbound handler. It is invoked once per
	// message, in arrival order, and must not block.
	OnReceive(handler func(payload []byte))
	Close() error
}
