// handlers_command.go - Actuator command handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/gateway"
	"github.com/servo-bridge/backend/internal/models"
)

// CommandHandlerImpl implements the CommandHandler interface
type CommandHandlerImpl struct {
	gateway CommandSubmitter
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(gw CommandSubmitter) CommandHandler {
	return &CommandHandlerImpl{gateway: gw}
}

// HandleSetChannel moves one channel: {channelId, position}
func (h *CommandHandlerImpl) HandleSetChannel(c echo.Context) error {
	return h.submit(c, models.ActionSetChannel, nil)
}

// HandleSetAllChannels moves every channel that is not held: {position}
func (h *CommandHandlerImpl) HandleSetAllChannels(c echo.Context) error {
	return h.submit(c, models.ActionSetAllChannels, nil)
}

// HandleToggleHold flips the hold flag of the channel in the path
func (h *CommandHandlerImpl) HandleToggleHold(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError("channel id must be an integer")
	}
	return h.submit(c, models.ActionToggleHold, &id)
}

// HandleSetSpeed sets the controller speed factor: {speed}
func (h *CommandHandlerImpl) HandleSetSpeed(c echo.Context) error {
	return h.submit(c, models.ActionSetSpeed, nil)
}

// submit binds the body into an envelope, forces the route's action and
// applies the resulting command.
func (h *CommandHandlerImpl) submit(c echo.Context, action models.Action, channel *int) error {
	var env gateway.Envelope
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&env); err != nil {
			return NewBadRequestError("Invalid request body", err)
		}
	}
	env.Action = string(action)
	if channel != nil {
		env.ChannelID = channel
	}

	cmd, err := env.Command(models.SourceAPI)
	if err != nil {
		return err
	}

	res, err := h.gateway.Submit(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
