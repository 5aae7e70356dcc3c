package app

import (
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/pkg/logger"
)

// Option applies a configuration option to the Node.
type Option func(*Node)

// WithNodeID names the node in logs and stats. Defaults to the role.
func WithNodeID(id string) Option {
	return func(n *Node) {
		if id != "" {
			n.id = id
		}
	}
}

// WithWindow sets the beat window length.
func WithWindow(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.window = d
		}
	}
}

// WithThreshold sets the RMSSD threshold in milliseconds.
func WithThreshold(ms float64) Option {
	return func(n *Node) {
		if ms > 0 {
			n.threshold = ms
		}
	}
}

// WithMirrorDetection makes a display node feed received samples into its
// own window. The display still never creates events.
func WithMirrorDetection(on bool) Option {
	return func(n *Node) {
		n.mirror = on
	}
}

// WithMockMode sets the initial mode flag.
func WithMockMode(on bool) Option {
	return func(n *Node) {
		n.isMock = on
	}
}

// WithInboxSize bounds the serial inbox.
func WithInboxSize(size int) Option {
	return func(n *Node) {
		if size > 0 {
			n.inboxSize = size
		}
	}
}

// WithTombstoneSize bounds how many handled ids are remembered.
func WithTombstoneSize(size int) Option {
	return func(n *Node) {
		if size > 0 {
			n.tombstoneSize = size
		}
	}
}

// WithIDGenerator replaces uuid.New for new events.
func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(n *Node) {
		n.newID = gen
	}
}

// WithLogger sets a custom logger for the node.
func WithLogger(l logger.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}
