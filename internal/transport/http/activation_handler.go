package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"voxagent/internal/activation"
	apierrors "voxagent/internal/errors"
	"voxagent/internal/services"
)

// ActivationHandler exposes the activation lifecycle over the control API.
type ActivationHandler struct {
	service *services.ActivationService
	logger  *slog.Logger
}

// NewActivationHandler creates an activation handler.
func NewActivationHandler(service *services.ActivationService, logger *slog.Logger) *ActivationHandler {
	return &ActivationHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "activation")),
	}
}

// Start handles POST /api/activate. The run continues in the background;
// poll GET /api/activate/status for the outcome.
func (h *ActivationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var challenge activation.Challenge
	if err := render.DecodeJSON(r.Body, &challenge); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if challenge.Challenge == "" || challenge.Code == "" {
		render.Render(w, r, apierrors.ErrMissingChallenge)
		return
	}

	if err := h.service.Start(challenge); err != nil {
		if errors.Is(err, services.ErrAlreadyRunning) {
			render.Render(w, r, apierrors.ErrActivationRunning)
			return
		}
		h.logger.Error("failed to start activation", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, h.service.Status())
}

// Cancel handles POST /api/activate/cancel.
func (h *ActivationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(); err != nil {
		if errors.Is(err, services.ErrNotRunning) {
			render.Render(w, r, apierrors.ErrNoActivationRun)
			return
		}
		h.logger.Error("failed to cancel activation", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, h.service.Status())
}

// Status handles GET /api/activate/status.
func (h *ActivationHandler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Status())
}
