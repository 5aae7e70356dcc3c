package channel

import "errors"

var (
	ErrClosed       = errors.New("channel closed")
	ErrNotConnected = errors.New("channel not connected")

	// ErrSendBufferFull means the writer is behind; the payload was dropped.
	ErrSendBufferFull = errors.New("channel send buffer full")
)
