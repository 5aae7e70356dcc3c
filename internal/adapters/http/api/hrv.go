package api

import (
	"context"
	"net/http"

	"github.com/okian/hrvlink/internal/domain/hrv"
)

// HRVDependencies exposes the current window metrics.
type HRVDependencies interface {
	Snapshot(ctx context.Context) (hrv.Snapshot, error)
}

// HRVHandler handles metric snapshot requests.
type HRVHandler struct {
	deps HRVDependencies
}

// NewHRVHandler creates a new HRV handler.
func NewHRVHandler(deps HRVDependencies) *HRVHandler {
	return &HRVHandler{deps: deps}
}

// HandleGetHRV handles GET /hrv. Undefined metrics are reported as 0 with
// their *_defined flag false.
func (h *HRVHandler) HandleGetHRV(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Snapshot(r.Context())
	if err != nil {
		writeNodeError(w, "api.get_hrv", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
