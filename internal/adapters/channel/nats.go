package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/okian/hrvlink/pkg/logger"
)

// NATS carries payloads as core NATS messages. Each node subscribes to
// <prefix>.<self> and publishes to <prefix>.<peer>. Core NATS has no
// persistence or acks, which matches the fire-and-forget contract.
type NATS struct {
	conn     *nats.Conn
	ownsConn bool
	inbound  string
	outbound string
	log      logger.Logger

	mu      sync.Mutex
	sub     *nats.Subscription
	handler func([]byte)
	closed  bool
}

// DialNATS connects to url with reconnects enabled.
func DialNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
}

// NATSOption configures a NATS channel.
type NATSOption func(*NATS)

// WithOwnedConn makes Close also close the underlying connection.
func WithOwnedConn() NATSOption {
	return func(n *NATS) { n.ownsConn = true }
}

// NewNATS subscribes to this node's subject on conn.
func NewNATS(conn *nats.Conn, prefix, self, peer string, opts ...NATSOption) (*NATS, error) {
	n := &NATS{
		conn:     conn,
		inbound:  subject(prefix, self),
		outbound: subject(prefix, peer),
		log:      logger.Named("channel.nats"),
	}
	for _, opt := range opts {
		opt(n)
	}

	sub, err := conn.Subscribe(n.inbound, n.dispatch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", n.inbound, err)
	}
	n.sub = sub
	return n, nil
}

func subject(prefix, node string) string {
	if prefix == "" {
		return node
	}
	return prefix + "." + node
}

// dispatch runs on the subscription's goroutine, so deliveries are ordered.
func (n *NATS) dispatch(msg *nats.Msg) {
	n.mu.Lock()
	h := n.handler
	n.mu.Unlock()
	if h != nil {
		h(msg.Data)
	}
}

func (n *NATS) IsReachable() bool {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	return !closed && n.conn.IsConnected()
}

// Send publishes payload to the peer subject.
func (n *NATS) Send(ctx context.Context, payload []byte) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !n.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := n.conn.Publish(n.outbound, payload); err != nil {
		n.log.Debug(ctx, "publish failed", logger.String("subject", n.outbound), logger.Error(err))
		return err
	}
	return nil
}

func (n *NATS) OnReceive(handler func([]byte)) {
	n.mu.Lock()
	n.handler = handler
	n.mu.Unlock()
}

// Close unsubscribes and, when owned, closes the connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	sub := n.sub
	n.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	if n.ownsConn {
		n.conn.Close()
	}
	return err
}
