package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/okian/hrvlink/pkg/logger"
)

// QoS 0: at most once, no broker acknowledgment.
const mqttQoS byte = 0

const defaultPublishTimeout = 2 * time.Second

var errPublishTimeout = errors.New("mqtt publish timed out")

// MQTT carries payloads through a broker. Each node subscribes to
// <prefix>/<self> and publishes to <prefix>/<peer>.
type MQTT struct {
	client         mqtt.Client
	inbound        string
	outbound       string
	publishTimeout time.Duration
	log            logger.Logger

	mu      sync.Mutex
	handler func([]byte)
	closed  bool
}

// NewMQTT wraps an existing client. Call Subscribe once the client is connected.
func NewMQTT(client mqtt.Client, prefix, self, peer string) *MQTT {
	return &MQTT{
		client:         client,
		inbound:        topic(prefix, self),
		outbound:       topic(prefix, peer),
		publishTimeout: defaultPublishTimeout,
		log:            logger.Named("channel.mqtt"),
	}
}

// DialMQTT creates a client for broker that keeps retrying the connection
// and re-subscribes after every reconnect.
func DialMQTT(ctx context.Context, broker, clientID, prefix, self, peer string) (*MQTT, error) {
	m := NewMQTT(nil, prefix, self, peer)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(func(_ mqtt.Client) {
			if err := m.Subscribe(ctx); err != nil {
				m.log.Error(ctx, "subscribe after connect failed", logger.Error(err))
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Warn(ctx, "mqtt connection lost", logger.Error(err))
		})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	// With connect retry enabled the token only fails on bad options.
	if token.WaitTimeout(100*time.Millisecond) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return m, nil
}

func topic(prefix, node string) string {
	if prefix == "" {
		return node
	}
	return prefix + "/" + node
}

// Subscribe registers for this node's topic.
func (m *MQTT) Subscribe(ctx context.Context) error {
	token := m.client.Subscribe(m.inbound, mqttQoS, m.dispatch)
	if err := m.wait(ctx, token); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.inbound, err)
	}
	return nil
}

// dispatch is called by the client router; order matters is enabled so
// deliveries are sequential.
func (m *MQTT) dispatch(_ mqtt.Client, msg mqtt.Message) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(msg.Payload())
	}
}

func (m *MQTT) IsReachable() bool {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	return !closed && m.client.IsConnectionOpen()
}

// Send publishes payload once at QoS 0. It returns the publish error when
// the client settles the token at once; otherwise the outcome is logged
// from a watcher so the caller never waits on the network.
func (m *MQTT) Send(_ context.Context, payload []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := m.client.Publish(m.outbound, mqttQoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
	}
	go m.watch(token)
	return nil
}

func (m *MQTT) watch(token mqtt.Token) {
	ctx := context.Background()
	if err := m.wait(ctx, token); err != nil {
		m.log.Warn(ctx, "mqtt publish failed", logger.String("topic", m.outbound), logger.Error(err))
	}
}

func (m *MQTT) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(m.publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errPublishTimeout
	}
}

func (m *MQTT) OnReceive(handler func([]byte)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Close unsubscribes and disconnects.
func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.client.IsConnectionOpen() {
		m.client.Unsubscribe(m.inbound).WaitTimeout(time.Second)
	}
	m.client.Disconnect(250)
	return nil
}
