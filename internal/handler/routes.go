package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tryon-edge/internal/config"
	"tryon-edge/internal/metrics"
	"tryon-edge/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Everything
// not claimed by the edge's own routes is proxied.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, lead *LeadHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	own := middleware.SecurityHeaders()

	e.GET("/healthz", health.Healthz, own)
	e.GET("/proxy/status", health.Status, own)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), own)
	}

	if cfg.Lead.Enabled {
		cors := echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.Lead.AllowedOrigins,
			AllowMethods: []string{http.MethodPost, http.MethodOptions},
		})
		e.POST(cfg.Lead.Path, lead.Submit, cors, own)
		// Preflight is answered by the CORS middleware before the handler runs.
		e.OPTIONS(cfg.Lead.Path, func(c echo.Context) error {
			return c.NoContent(http.StatusNoContent)
		}, cors, own)
	}

	e.Any("/*", proxy.Handle)
}
