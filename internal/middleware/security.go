package middleware

import (
	"github.com/labstack/echo/v4"

	"tryon-edge/internal/framing"
)

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers
// from the incoming request before any handler sees it.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range framing.HopByHopHeaders {
				c.Request().Header.Del(h)
			}
			return next(c)
		}
	}
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// responses. It belongs on the edge's own routes only: proxied pages carry
// their own framing headers.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}
