package handlers

import (
	"net/http"
)

// HealthHandler reports liveness plus a few cheap runtime facts: which
// storage backend is active, how many MCP sessions are connected, and
// the circuit breaker state when the backend has one.
type HealthHandler struct {
	version      string
	backend      string
	sessionCount func() int
	circuitState func() string
}

// NewHealthHandler creates the /health handler. sessionCount and
// circuitState may be nil.
func NewHealthHandler(version, backend string, sessionCount func() int, circuitState func() string) *HealthHandler {
	return &HealthHandler{
		version:      version,
		backend:      backend,
		sessionCount: sessionCount,
		circuitState: circuitState,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Backend: h.backend,
	}
	if h.sessionCount != nil {
		resp.Sessions = h.sessionCount()
	}
	if h.circuitState != nil {
		resp.Circuit = h.circuitState()
		if resp.Circuit == "open" {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
