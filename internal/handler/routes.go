package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"account-gateway/internal/config"
	"account-gateway/internal/metrics"
	"account-gateway/internal/middleware"
	"account-gateway/internal/token"
)

// AdminRole is required on the user listing route.
const AdminRole = "Admin"

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, gw *GatewayHandler, health *HealthHandler, v *token.Verifier, logger *slog.Logger) {
	e.GET("/health", health.Healthz)
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	authenticated := middleware.Authenticate(v, logger)

	api := e.Group("/api")
	api.POST("/register", gw.Register)
	api.POST("/login", gw.Login)
	api.GET("/me", gw.Me, authenticated)
	api.GET("/users", gw.Users, authenticated, middleware.RequireRole(AdminRole))
	api.POST("/activity", gw.CreateActivity, authenticated)
	api.GET("/activity/:count", gw.RecentActivity, authenticated)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	m.TrackPath(cfg.Metrics.Path)
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
