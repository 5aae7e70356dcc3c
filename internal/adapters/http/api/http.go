// Package api serves the node's control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/okian/hrvlink/internal/app"
	"github.com/okian/hrvlink/internal/domain/hrv"
	"github.com/okian/hrvlink/internal/domain/model"
)

// Dependencies required by HTTP handlers. *app.Node satisfies it.
type Dependencies interface {
	Pending(ctx context.Context) ([]model.Event, error)
	Active(ctx context.Context) (model.Event, bool, error)
	Respond(ctx context.Context, id uuid.UUID, confirmed bool) error
	ToggleMode(ctx context.Context, isMock bool) error
	MockMode(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (hrv.Snapshot, error)
	Stats() app.Stats
}

// Server wires HTTP routes for the control API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	eventsHandler *EventsHandler
	modeHandler   *ModeHandler
	hrvHandler    *HRVHandler
	sync          http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithSyncHandler mounts the peer channel endpoint at /sync.
func WithSyncHandler(h http.Handler) Option {
	return func(s *Server) {
		s.sync = h
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler: NewHealthHandler(deps),
		statsHandler:  NewStatsHandler(deps),
		eventsHandler: NewEventsHandler(deps),
		modeHandler:   NewModeHandler(deps),
		hrvHandler:    NewHRVHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz")).Methods(http.MethodGet)
	r.Handle("/metrics", MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)
	r.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandleListPending, "events")).Methods(http.MethodGet)
	r.HandleFunc("/events/active", MetricsMiddleware(s.eventsHandler.HandleGetActive, "events_active")).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/respond", MetricsMiddleware(s.eventsHandler.HandleRespond, "events_respond")).Methods(http.MethodPost)
	r.HandleFunc("/mode", MetricsMiddleware(s.modeHandler.HandleGetMode, "mode")).Methods(http.MethodGet)
	r.HandleFunc("/mode", MetricsMiddleware(s.modeHandler.HandlePutMode, "mode")).Methods(http.MethodPut)
	r.HandleFunc("/hrv", MetricsMiddleware(s.hrvHandler.HandleGetHRV, "hrv")).Methods(http.MethodGet)
	if s.sync != nil {
		r.Handle("/sync", s.sync)
	}
}

// Router returns a fresh router with all routes registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.Register(r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeNodeError maps node errors onto status codes.
func writeNodeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, app.ErrInboxFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, err))
	case errors.Is(err, app.ErrNotStarted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", wrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
