package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"tryon-edge/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	Origins     []string `json:"origins"`
	LeadEnabled bool     `json:"lead_enabled"`
}

// Status reports the build version, candidate origins and whether lead capture is on.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:      "ok",
		Version:     string(h.version),
		Origins:     h.cfg.Proxy.Origins,
		LeadEnabled: h.cfg.Lead.Enabled,
	})
}
