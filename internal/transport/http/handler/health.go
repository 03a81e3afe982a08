package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

const readyTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// HealthHandler handles health-check endpoints.
type HealthHandler struct {
	checks map[string]CheckFunc
}

func NewHealthHandler(checks map[string]CheckFunc) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Ping serves /health-check/{action}: "ping" for liveness, "ready" to probe dependencies.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "ready":
		h.ready(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *HealthHandler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, name+" unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ready"})
}
