// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Beat is one heart-rate sample.
type Beat struct {
	HeartRate float64   // beats per minute, > 0
	Timestamp time.Time // sample instant
}

// IBI returns the inter-beat interval in milliseconds derived from the
// beat's own instantaneous rate, not from the gap to the previous beat.
func (b Beat) IBI() float64 {
	return 60000 / b.HeartRate
}

// Confirmation is the human verdict on a finalized event.
type Confirmation int

const (
	ConfirmationPending Confirmation = iota
	ConfirmationConfirmed
	ConfirmationDismissed
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmationConfirmed:
		return "confirmed"
	case ConfirmationDismissed:
		return "dismissed"
	default:
		return "pending"
	}
}

// ConfirmationFor maps the wire flag to a verdict.
func ConfirmationFor(confirmed bool) Confirmation {
	if confirmed {
		return ConfirmationConfirmed
	}
	return ConfirmationDismissed
}

// Event is a low-variability episode. ID is assigned once by the detecting
// node and is the only join key between nodes.
type Event struct {
	ID           uuid.UUID
	StartTime    time.Time
	EndTime      time.Time // provisional while the event is active
	Confirmation Confirmation
}

// Duration returns EndTime - StartTime.
func (e Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}
