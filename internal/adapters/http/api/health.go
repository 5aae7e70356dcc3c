package api

import (
	"net/http"

	"github.com/okian/hrvlink/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	deps StatsProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps StatsProvider) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type healthResponse struct {
	Status string `json:"status"`
	Role   string `json:"role"`
}

// HandleHealth handles GET /healthz. A stopped node reports 503.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	st := h.deps.Stats()
	if !st.Running {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "stopped", Role: string(st.Role)})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Role: string(st.Role)})
}

// MetricsHandler serves the custom registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
