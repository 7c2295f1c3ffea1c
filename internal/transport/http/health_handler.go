package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"voxagent/internal/identity"
	"voxagent/internal/infrastructure"
)

// HealthHandler serves liveness information.
type HealthHandler struct {
	store   *identity.Store
	logger  *slog.Logger
	started time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(store *identity.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		logger:  logger.With(slog.String("handler", "health")),
		started: time.Now(),
	}
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Activated     bool   `json:"activated"`
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:        "ok",
		Version:       infrastructure.ServiceVersion,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Activated:     h.store.IsActivated(),
	})
}
