package handler

import (
	"net/http"
	"time"

	"tillpoint-offline-sync/internal/connectivity"
	"tillpoint-offline-sync/internal/store"
	"tillpoint-offline-sync/pkg/response"
)

// HealthHandler serves liveness and readiness probes for the terminal daemon.
type HealthHandler struct {
	store     *store.Store
	monitor   *connectivity.Monitor
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(st *store.Store, monitor *connectivity.Monitor, version string) *HealthHandler {
	return &HealthHandler{
		store:     st,
		monitor:   monitor,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Online  bool   `json:"online"`
}

// Health handles GET /health. The daemon is healthy whenever it can serve
// from the local store; backend connectivity is reported but never fails the
// probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Online:  h.monitor.Online(),
	})
}

// Ready handles GET /ready. Readiness requires the local store to answer a
// query; a terminal whose store is gone cannot take orders at all.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.EstimateUsage(r.Context()); err != nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "local store unavailable",
		})
		return
	}
	response.OK(w, map[string]string{"status": "ready"})
}
