// handlers_status.go - Snapshot handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// StatusHandlerImpl implements the StatusHandler interface
type StatusHandlerImpl struct {
	state SnapshotSource
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(state SnapshotSource) StatusHandler {
	return &StatusHandlerImpl{state: state}
}

// HandleStatus returns the current snapshot in its wire form
func (h *StatusHandlerImpl) HandleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.state.Snapshot().Telemetry())
}

// HandleStatusMsgpack returns the current snapshot msgpack encoded
func (h *StatusHandlerImpl) HandleStatusMsgpack(c echo.Context) error {
	data, err := msgpack.Marshal(h.state.Snapshot().Telemetry())
	if err != nil {
		return NewInternalError("Failed to encode snapshot", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}
