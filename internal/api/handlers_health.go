// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/models"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	state   SnapshotSource
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, state SnapshotSource) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		state:   state,
	}
}

// HandleHealth returns server health and per-device status. The server is
// "degraded" while the actuator bank is not connected.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	devices := h.state.Snapshot().Status
	status := "ok"
	if devices[models.DeviceActuator] != models.StatusConnected {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"devices": devices,
	})
}
