package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/okian/hrvlink/internal/domain/model"
)

// EventDependencies defines the interface for event operations.
type EventDependencies interface {
	Pending(ctx context.Context) ([]model.Event, error)
	Active(ctx context.Context) (model.Event, bool, error)
	Respond(ctx context.Context, id uuid.UUID, confirmed bool) error
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type eventResponse struct {
	ID              string     `json:"id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Confirmation    string     `json:"confirmation"`
}

func toEventResponse(e model.Event) eventResponse {
	out := eventResponse{
		ID:           e.ID.String(),
		StartTime:    e.StartTime.UTC(),
		Confirmation: e.Confirmation.String(),
	}
	if !e.EndTime.IsZero() {
		end := e.EndTime.UTC()
		out.EndTime = &end
		out.DurationSeconds = e.Duration().Seconds()
	}
	return out
}

type pendingResponse struct {
	Count  int             `json:"count"`
	Events []eventResponse `json:"events"`
}

// HandleListPending handles GET /events.
func (h *EventsHandler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_pending"
	events, err := h.deps.Pending(r.Context())
	if err != nil {
		writeNodeError(w, op, err)
		return
	}
	resp := pendingResponse{Count: len(events), Events: make([]eventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetActive handles GET /events/active.
func (h *EventsHandler) HandleGetActive(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_active"
	e, ok, err := h.deps.Active(r.Context())
	if err != nil {
		writeNodeError(w, op, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", errors.New("no active event"))
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(e))
}

type respondRequest struct {
	Confirmed *bool `json:"confirmed"`
}

type respondResponse struct {
	ID           string `json:"id"`
	Confirmation string `json:"confirmation"`
}

// HandleRespond handles POST /events/{id}/respond.
func (h *EventsHandler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	const op = "api.respond"
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil || id == uuid.Nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("invalid event id")))
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Confirmed == nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("missing confirmed")))
		return
	}
	if err := h.deps.Respond(r.Context(), id, *req.Confirmed); err != nil {
		writeNodeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, respondResponse{
		ID:           id.String(),
		Confirmation: model.ConfirmationFor(*req.Confirmed).String(),
	})
}
