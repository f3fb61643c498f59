package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Admin serves the operational endpoints.
type Admin struct {
	deps    Deps
	version string
	started time.Time
}

func NewAdmin(deps Deps, version string) *Admin {
	return &Admin{deps: deps, version: version, started: time.Now()}
}

// Health handles GET /health.
func (h *Admin) Health(w http.ResponseWriter, _ *http.Request) {
	body, _ := json.Marshal(map[string]any{
		"status":  "healthy",
		"service": "llm-gateway",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})

	writeJSON(w, http.StatusOK, body)
}

// Reload handles POST /reload. The model handle cache refreshes only here,
// never implicitly during request handling.
func (h *Admin) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Resolver.Reload(r.Context()); err != nil {
		body, _ := json.Marshal(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	handles, err := h.deps.Resolver.Handles(r.Context())
	if err != nil {
		handles = nil
	}

	body, _ := json.Marshal(map[string]any{
		"status": "reloaded",
		"models": len(handles),
	})

	writeJSON(w, http.StatusOK, body)
}
