// Package syncproto keeps two nodes' event registries in step over an
// unreliable, unacknowledged channel.
//
// Outbound messages are sent once: there is no queue, retry or ack. A
// dropped EventFinalized leaves the peer without that event, and a dropped
// EventHandled leaves the peer showing an event this node already cleared.
// Nothing reconciles either case; duplicate and reordered deliveries are
// absorbed by the receiver's idempotent store.
package syncproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/domain/model"
	"github.com/okian/hrvlink/pkg/logger"
	"github.com/okian/hrvlink/pkg/metrics"
)

// Sender is the outbound half of a message channel.
type Sender interface {
	IsReachable() bool
	Send(ctx context.Context, payload []byte) error
}

// Target receives decoded inbound messages.
type Target interface {
	ApplyHeartRate(ctx context.Context, heartRate float64, ts time.Time)
	ApplyModeChange(ctx context.Context, isMock bool)
	ApplyEventFinalized(ctx context.Context, e model.Event)
	ApplyEventHandled(ctx context.Context, id uuid.UUID, confirmed bool)
}

// Protocol encodes local changes for the peer and applies the peer's messages.
type Protocol struct {
	sender Sender
	log    logger.Logger
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the logger. Defaults to logger.Named("sync").
func WithLogger(l logger.Logger) Option {
	return func(p *Protocol) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a Protocol sending through s.
func New(s Sender, opts ...Option) *Protocol {
	p := &Protocol{sender: s}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Named("sync")
	}
	return p
}

// Send transmits m once. Unreachable peers and transport errors are logged
// and counted; the returned error is informational only.
func (p *Protocol) Send(ctx context.Context, m Message) error {
	kind := string(m.Kind())

	if !p.sender.IsReachable() {
		metrics.RecordMessageDropped(kind, "unreachable")
		fields := append(messageFields(m), logger.String("kind", kind))
		if m.Kind() == KindHeartRateSample {
			p.log.Debug(ctx, "peer unreachable, dropping message", fields...)
		} else {
			p.log.Warn(ctx, "peer unreachable, dropping message", fields...)
		}
		return fmt.Errorf("%w: %s", ErrUnreachable, kind)
	}

	payload, err := Encode(m)
	if err != nil {
		metrics.RecordMessageDropped(kind, "encode")
		p.log.Error(ctx, "failed to encode message", logger.String("kind", kind), logger.Error(err))
		return err
	}

	if err := p.sender.Send(ctx, payload); err != nil {
		metrics.RecordMessageDropped(kind, "transport")
		p.log.Error(ctx, "transport send failed", append(messageFields(m), logger.String("kind", kind), logger.Error(err))...)
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, kind, err)
	}

	metrics.RecordMessageSent(kind, len(payload))
	p.log.Debug(ctx, "message sent", logger.String("kind", kind), logger.Int("bytes", len(payload)))
	return nil
}

// SendHeartRate sends one beat.
func (p *Protocol) SendHeartRate(ctx context.Context, heartRate float64, ts time.Time) error {
	return p.Send(ctx, HeartRateSample{HeartRate: heartRate, Timestamp: ts})
}

// SendModeChange sends the mode flag.
func (p *Protocol) SendModeChange(ctx context.Context, isMock bool) error {
	return p.Send(ctx, ModeChange{IsMockMode: isMock})
}

// SendEventFinalized announces a finalized event.
func (p *Protocol) SendEventFinalized(ctx context.Context, e model.Event) error {
	return p.Send(ctx, EventFinalized{Event: e})
}

// SendEventHandled announces a verdict.
func (p *Protocol) SendEventHandled(ctx context.Context, id uuid.UUID, confirmed bool) error {
	return p.Send(ctx, EventHandled{EventID: id, IsConfirmed: confirmed})
}

// Receive decodes payload and applies it to t. Malformed messages are
// discarded whole and logged; nothing is partially applied.
func (p *Protocol) Receive(ctx context.Context, payload []byte, t Target) error {
	m, err := Decode(payload)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, ErrUnknownKind) {
			reason = "unknown_kind"
		}
		metrics.RecordMessageMalformed(reason)
		p.log.Warn(ctx, "discarding malformed message", logger.Error(err), logger.Int("bytes", len(payload)))
		return err
	}

	switch v := m.(type) {
	case HeartRateSample:
		t.ApplyHeartRate(ctx, v.HeartRate, v.Timestamp)
	case ModeChange:
		t.ApplyModeChange(ctx, v.IsMockMode)
	case EventFinalized:
		t.ApplyEventFinalized(ctx, v.Event)
	case EventHandled:
		t.ApplyEventHandled(ctx, v.EventID, v.IsConfirmed)
	}
	metrics.RecordMessageReceived(string(m.Kind()))
	return nil
}

func messageFields(m Message) []logger.Field {
	switch v := m.(type) {
	case EventFinalized:
		return []logger.Field{logger.String("event_id", v.Event.ID.String())}
	case EventHandled:
		return []logger.Field{logger.String("event_id", v.EventID.String()), logger.Bool("confirmed", v.IsConfirmed)}
	case ModeChange:
		return []logger.Field{logger.Bool("mock", v.IsMockMode)}
	}
	return nil
}
