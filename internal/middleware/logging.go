// Package middleware provides Echo middleware for the gateway: request
// logging, metrics, security headers and bearer authentication.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Authenticated requests also carry the caller's user id.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			status := responseStatus(c, err)

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if p, ok := PrincipalFrom(c); ok {
				if id, ok := p.UserID(); ok {
					attrs = append(attrs, "user_id", id)
				}
			}

			switch {
			case status >= 500:
				logger.Warn("request", attrs...)
			default:
				logger.Info("request", attrs...)
			}

			return err
		}
	}
}
