// handlers_events.go - Journal handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/models"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventsHandlerImpl implements the EventsHandler interface
type EventsHandlerImpl struct {
	journal EventReader
}

// NewEventsHandler creates a new events handler. A nil reader serves an
// empty list.
func NewEventsHandler(journal EventReader) EventsHandler {
	return &EventsHandlerImpl{journal: journal}
}

// HandleEvents returns the newest journal entries, newest first
func (h *EventsHandlerImpl) HandleEvents(c echo.Context) error {
	limit := defaultEventLimit
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return NewValidationError("limit must be a positive integer")
		}
		limit = min(n, maxEventLimit)
	}

	events := []models.Event{}
	if h.journal != nil {
		recent, err := h.journal.Recent(c.Request().Context(), limit)
		if err != nil {
			return NewInternalError("Failed to read journal", err)
		}
		events = append(events, recent...)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
