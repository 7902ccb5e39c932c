package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"account-gateway/internal/config"
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

// statusResponse reports which backends have a base URL. URLs themselves
// are not exposed.
type statusResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Backends map[string]bool `json:"backends"`
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	backends := make(map[string]bool)
	for target, u := range h.cfg.Backends.URLs() {
		backends[string(target)] = strings.TrimSpace(u) != ""
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:   "ok",
		Version:  string(h.version),
		Backends: backends,
	})
}
