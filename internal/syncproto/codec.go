package syncproto

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/domain/model"
)

// Kind discriminates the four message variants on the wire.
type Kind string

const (
	KindHeartRateSample Kind = "HeartRateSample"
	KindModeChange      Kind = "ModeChange"
	KindEventFinalized  Kind = "EventEnded"
	KindEventHandled    Kind = "EventHandled"
)

// timeLayout is ISO-8601 UTC with milliseconds.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one of HeartRateSample, ModeChange, EventFinalized or EventHandled.
type Message interface {
	Kind() Kind
}

// HeartRateSample carries one beat from the sensor.
type HeartRateSample struct {
	HeartRate float64
	Timestamp time.Time
}

// ModeChange carries the synthetic-generation flag.
type ModeChange struct {
	IsMockMode bool
}

// EventFinalized announces an ended, unconfirmed event.
type EventFinalized struct {
	Event model.Event
}

// EventHandled announces a verdict; the receiver removes the event.
type EventHandled struct {
	EventID     uuid.UUID
	IsConfirmed bool
}

func (HeartRateSample) Kind() Kind { return KindHeartRateSample }
func (ModeChange) Kind() Kind      { return KindModeChange }
func (EventFinalized) Kind() Kind  { return KindEventFinalized }
func (EventHandled) Kind() Kind    { return KindEventHandled }

// wireMessage is the JSON shape. Field names are shared with the paired
// device and must not change.
type wireMessage struct {
	Kind        Kind     `json:"Kind"`
	HeartRate   *float64 `json:"HeartRate,omitempty"`
	Timestamp   *float64 `json:"Timestamp,omitempty"`
	IsMockMode  *bool    `json:"isMockMode,omitempty"`
	Event       string   `json:"Event,omitempty"`
	EventID     string   `json:"EventID,omitempty"`
	StartTime   string   `json:"StartTime,omitempty"`
	EndTime     string   `json:"EndTime,omitempty"`
	IsConfirmed *bool    `json:"IsConfirmed,omitempty"`
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	var w wireMessage
	switch v := m.(type) {
	case HeartRateSample:
		hr := v.HeartRate
		ts := epochSeconds(v.Timestamp)
		w = wireMessage{Kind: KindHeartRateSample, HeartRate: &hr, Timestamp: &ts}
	case ModeChange:
		mock := v.IsMockMode
		w = wireMessage{Kind: KindModeChange, IsMockMode: &mock}
	case EventFinalized:
		w = wireMessage{
			Kind:      KindEventFinalized,
			Event:     string(KindEventFinalized),
			EventID:   v.Event.ID.String(),
			StartTime: v.Event.StartTime.UTC().Format(timeLayout),
			EndTime:   v.Event.EndTime.UTC().Format(timeLayout),
		}
	case EventHandled:
		confirmed := v.IsConfirmed
		w = wireMessage{
			Kind:        KindEventHandled,
			Event:       string(KindEventHandled),
			EventID:     v.EventID.String(),
			IsConfirmed: &confirmed,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
	return json.Marshal(w)
}

// Decode parses and validates payload. Any missing or invalid field rejects
// the whole message with an error wrapping ErrMalformed or ErrUnknownKind.
func Decode(payload []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if w.Kind == "" {
		kind, err := inferKind(w)
		if err != nil {
			return nil, err
		}
		w.Kind = kind
	}

	switch w.Kind {
	case KindHeartRateSample:
		return decodeHeartRate(w)
	case KindModeChange:
		if w.IsMockMode == nil {
			return nil, malformed("ModeChange without isMockMode")
		}
		return ModeChange{IsMockMode: *w.IsMockMode}, nil
	case KindEventFinalized:
		return decodeFinalized(w)
	case KindEventHandled:
		if err := checkEventTag(w); err != nil {
			return nil, err
		}
		id, err := parseID(w.EventID)
		if err != nil {
			return nil, err
		}
		if w.IsConfirmed == nil {
			return nil, malformed("EventHandled without IsConfirmed")
		}
		return EventHandled{EventID: id, IsConfirmed: *w.IsConfirmed}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
	}
}

// inferKind derives the kind of a payload sent without Kind, as older peers
// do. Exactly one field family may be present; mixed payloads are rejected.
func inferKind(w wireMessage) (Kind, error) {
	hasSample := w.HeartRate != nil || w.Timestamp != nil
	hasMode := w.IsMockMode != nil
	hasEvent := w.Event != "" || w.EventID != "" || w.StartTime != "" ||
		w.EndTime != "" || w.IsConfirmed != nil

	families := 0
	for _, present := range []bool{hasSample, hasMode, hasEvent} {
		if present {
			families++
		}
	}
	switch {
	case families == 0:
		return "", malformed("missing Kind")
	case families > 1:
		return "", malformed("ambiguous message without Kind")
	case hasMode:
		return KindModeChange, nil
	case hasSample:
		return KindHeartRateSample, nil
	}

	switch Kind(w.Event) {
	case KindEventFinalized, KindEventHandled:
		return Kind(w.Event), nil
	case "":
		return "", malformed("event fields without Event tag")
	default:
		return "", fmt.Errorf("%w: Event %q", ErrUnknownKind, w.Event)
	}
}

func decodeHeartRate(w wireMessage) (Message, error) {
	if w.HeartRate == nil || w.Timestamp == nil {
		return nil, malformed("HeartRateSample needs HeartRate and Timestamp")
	}
	hr, ts := *w.HeartRate, *w.Timestamp
	if math.IsNaN(hr) || math.IsInf(hr, 0) || hr <= 0 {
		return nil, malformed("HeartRate %v out of range", hr)
	}
	if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < 0 {
		return nil, malformed("Timestamp %v out of range", ts)
	}
	return HeartRateSample{HeartRate: hr, Timestamp: fromEpochSeconds(ts)}, nil
}

func decodeFinalized(w wireMessage) (Message, error) {
	if err := checkEventTag(w); err != nil {
		return nil, err
	}
	id, err := parseID(w.EventID)
	if err != nil {
		return nil, err
	}
	start, err := parseTime("StartTime", w.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseTime("EndTime", w.EndTime)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, malformed("EndTime %s before StartTime %s", w.EndTime, w.StartTime)
	}
	return EventFinalized{Event: model.Event{ID: id, StartTime: start, EndTime: end}}, nil
}

// checkEventTag rejects an Event field that disagrees with Kind.
func checkEventTag(w wireMessage) error {
	if w.Event != "" && w.Event != string(w.Kind) {
		return malformed("Event %q does not match Kind %q", w.Event, w.Kind)
	}
	return nil
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, malformed("missing EventID")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: EventID: %w", ErrMalformed, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, malformed("nil EventID")
	}
	return id, nil
}

func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, malformed("missing %s", field)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrMalformed, field, err)
	}
	return t, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func fromEpochSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second)))).UTC()
}
