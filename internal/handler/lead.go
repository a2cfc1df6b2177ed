package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"tryon-edge/internal/model"
	"tryon-edge/internal/service"
)

// leadResponse is the JSON body returned to the landing page form.
type leadResponse struct {
	OK      bool   `json:"ok"`
	ID      string `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// LeadHandler accepts lead form submissions.
type LeadHandler struct {
	service *service.LeadService
	logger  *slog.Logger
}

// NewLeadHandler creates a LeadHandler.
func NewLeadHandler(svc *service.LeadService, logger *slog.Logger) *LeadHandler {
	return &LeadHandler{
		service: svc,
		logger:  logger.With("component", "lead_handler"),
	}
}

// Submit binds a JSON or form-encoded lead and forwards it to the operator channel.
func (h *LeadHandler) Submit(c echo.Context) error {
	var form model.LeadForm
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, leadResponse{Message: "Malformed request body"})
	}

	rec, err := h.service.Submit(c.Request().Context(), c.RealIP(), &form)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, leadResponse{
		OK:      true,
		ID:      rec.ID,
		Message: service.MsgSent,
	})
}

func (h *LeadHandler) mapError(c echo.Context, err error) error {
	var fieldErr *service.FieldError
	if errors.As(err, &fieldErr) {
		return c.JSON(http.StatusUnprocessableEntity, leadResponse{
			Field:   fieldErr.Field,
			Message: fieldErr.Message(),
		})
	}

	if errors.Is(err, service.ErrSubmissionInFlight) {
		return c.JSON(http.StatusTooManyRequests, leadResponse{Message: service.MsgInFlight})
	}

	h.logger.Warn("lead rejected upstream", "err", err, "remote_ip", c.RealIP())
	return c.JSON(http.StatusBadGateway, leadResponse{Message: service.UserMessage(err)})
}
