// Package detector turns the RMSSD stream into event start and end edges.
package detector

import (
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/domain/model"
)

// DefaultThreshold is the RMSSD level, in milliseconds, below which an event opens.
const DefaultThreshold = 30.0

// State of the detector.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Edge is the kind of transition an observation produced.
type Edge int

const (
	None Edge = iota
	Started
	Finalized
)

// Transition is the result of one observation. Event is set for Started and Finalized.
type Transition struct {
	Edge  Edge
	Event model.Event
}

// Detector is a two-state threshold crossing machine with no hysteresis,
// dwell time or debounce: one sample across the line is enough.
// It is not safe for concurrent use.
type Detector struct {
	threshold float64
	newID     func() uuid.UUID
	active    *model.Event
}

// Option configures a Detector.
type Option func(*Detector)

// WithThreshold overrides DefaultThreshold. Non-positive values are ignored.
func WithThreshold(ms float64) Option {
	return func(d *Detector) {
		if ms > 0 {
			d.threshold = ms
		}
	}
}

// WithIDGenerator replaces uuid.New, mostly for tests.
func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(d *Detector) {
		if gen != nil {
			d.newID = gen
		}
	}
}

// New creates an idle detector.
func New(opts ...Option) *Detector {
	d := &Detector{threshold: DefaultThreshold, newID: uuid.New}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the configured threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// State returns Idle or Active.
func (d *Detector) State() State {
	if d.active != nil {
		return Active
	}
	return Idle
}

// Active returns the open event, if any.
func (d *Detector) Active() (model.Event, bool) {
	if d.active == nil {
		return model.Event{}, false
	}
	return *d.active, true
}

// Observe evaluates the latest RMSSD at instant now. An undefined metric
// never causes a transition.
func (d *Detector) Observe(rmssd float64, defined bool, now time.Time) Transition {
	if !defined {
		return Transition{}
	}

	switch {
	case d.active == nil && rmssd < d.threshold:
		d.active = &model.Event{ID: d.newID(), StartTime: now, EndTime: now}
		return Transition{Edge: Started, Event: *d.active}
	case d.active != nil && rmssd >= d.threshold:
		finalized := *d.active
		finalized.EndTime = now
		d.active = nil
		return Transition{Edge: Finalized, Event: finalized}
	}
	return Transition{}
}

// Abandon drops the open event if it has the given id, returning the
// detector to Idle without finalizing. Used when the peer has already
// handled the event.
func (d *Detector) Abandon(id uuid.UUID) bool {
	if d.active == nil || d.active.ID != id {
		return false
	}
	d.active = nil
	return true
}
