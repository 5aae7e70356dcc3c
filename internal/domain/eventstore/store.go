// Package eventstore is a node's registry of finalized events awaiting a
// verdict, plus the sensor's single in-progress event.
package eventstore

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/domain/dedupe"
	"github.com/okian/hrvlink/internal/domain/model"
)

// RecordResult describes what RecordFinalized did.
type RecordResult int

const (
	Inserted RecordResult = iota
	Duplicate
	Tombstoned // id was already handled on this node
)

func (r RecordResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	default:
		return "tombstoned"
	}
}

// HandledResult describes what MarkHandled did.
type HandledResult struct {
	Removed       bool // a pending entry was deleted
	ActiveCleared bool // the in-progress event had this id and was dropped
}

// Store is not safe for concurrent use; the owning node serializes access.
// Pending events never expire.
type Store struct {
	pending    map[uuid.UUID]model.Event
	active     *model.Event
	tombstones dedupe.Deduper
}

// Option configures a Store.
type Option func(*Store)

// WithTombstones replaces the handled-id set.
func WithTombstones(d dedupe.Deduper) Option {
	return func(s *Store) {
		if d != nil {
			s.tombstones = d
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{pending: make(map[uuid.UUID]model.Event)}
	for _, opt := range opts {
		opt(s)
	}
	if s.tombstones == nil {
		s.tombstones = dedupe.NewInMemoryDeduper()
	}
	return s
}

// SetActive records the in-progress event.
func (s *Store) SetActive(e model.Event) {
	s.active = &e
}

// ClearActive forgets the in-progress event.
func (s *Store) ClearActive() {
	s.active = nil
}

// RecordFinalized inserts e unless its id is already pending or was handled.
// The first delivery wins; later copies never overwrite it.
func (s *Store) RecordFinalized(ctx context.Context, e model.Event) RecordResult {
	if _, exists := s.pending[e.ID]; exists {
		return Duplicate
	}
	if s.tombstones.Seen(ctx, e.ID.String()) {
		return Tombstoned
	}
	e.Confirmation = model.ConfirmationPending
	s.pending[e.ID] = e
	return Inserted
}

// MarkHandled removes id if present and remembers it so a late finalize
// cannot bring it back. Unknown ids are a no-op.
func (s *Store) MarkHandled(ctx context.Context, id uuid.UUID, _ bool) HandledResult {
	var res HandledResult
	if _, exists := s.pending[id]; exists {
		delete(s.pending, id)
		res.Removed = true
	}
	if s.active != nil && s.active.ID == id {
		s.active = nil
		res.ActiveCleared = true
	}
	s.tombstones.SeenAndRecord(ctx, id.String())
	return res
}

// Active returns the in-progress event, if any.
func (s *Store) Active() (model.Event, bool) {
	if s.active == nil {
		return model.Event{}, false
	}
	return *s.active, true
}

// Get returns a pending event by id.
func (s *Store) Get(id uuid.UUID) (model.Event, bool) {
	e, ok := s.pending[id]
	return e, ok
}

// Pending returns pending events ordered by start time.
func (s *Store) Pending() []model.Event {
	out := make([]model.Event, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Len returns the number of pending events.
func (s *Store) Len() int { return len(s.pending) }
