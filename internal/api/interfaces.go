// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/models"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// StatusHandler serves the current snapshot
type StatusHandler interface {
	HandleStatus(c echo.Context) error
	HandleStatusMsgpack(c echo.Context) error
}

// CommandHandler turns HTTP requests into commands
type CommandHandler interface {
	HandleSetChannel(c echo.Context) error
	HandleSetAllChannels(c echo.Context) error
	HandleToggleHold(c echo.Context) error
	HandleSetSpeed(c echo.Context) error
}

// EventsHandler serves the journal
type EventsHandler interface {
	HandleEvents(c echo.Context) error
}

// StreamHandler upgrades connections to the telemetry stream
type StreamHandler interface {
	HandleStream(c echo.Context) error
}

// SnapshotSource provides consistent copies of shared state.
// This allows mocking in tests
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

// CommandSubmitter applies commands. *gateway.Gateway satisfies it.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd models.Command) (models.CommandResult, error)
}

// EventReader reads recent journal entries. *journal.Journal satisfies it.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]models.Event, error)
}
