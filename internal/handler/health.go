package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway-go/internal/config"
	"api-gateway-go/internal/route"
)

// Version is a string type for dependency injection of the build version.
type Version string

// StatusResponse is the body of the gateway status endpoint.
type StatusResponse struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Env     string   `json:"env"`
	Routes  []string `json:"routes"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	routes  *route.Table
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, routes *route.Table, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, routes: routes, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version, environment and proxied prefixes.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Version: string(h.version),
		Env:     h.cfg.Env,
		Routes:  h.routes.Prefixes(),
	})
}
