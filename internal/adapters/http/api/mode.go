package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// ModeDependencies defines the interface for mode operations.
type ModeDependencies interface {
	ToggleMode(ctx context.Context, isMock bool) error
	MockMode(ctx context.Context) (bool, error)
}

// ModeHandler handles mock/live mode requests.
type ModeHandler struct {
	deps ModeDependencies
}

// NewModeHandler creates a new mode handler.
func NewModeHandler(deps ModeDependencies) *ModeHandler {
	return &ModeHandler{deps: deps}
}

type modeBody struct {
	Mock *bool `json:"mock"`
}

type modeResponse struct {
	Mock bool `json:"mock"`
}

// HandleGetMode handles GET /mode.
func (h *ModeHandler) HandleGetMode(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_mode"
	mock, err := h.deps.MockMode(r.Context())
	if err != nil {
		writeNodeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, modeResponse{Mock: mock})
}

// HandlePutMode handles PUT /mode. The new mode is also sent to the peer.
func (h *ModeHandler) HandlePutMode(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_mode"
	var body modeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	if body.Mock == nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("missing mock")))
		return
	}
	if err := h.deps.ToggleMode(r.Context(), *body.Mock); err != nil {
		writeNodeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, modeResponse{Mock: *body.Mock})
}
