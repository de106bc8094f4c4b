package gateway

import (
	"encoding/json"
	"strings"

	"github.com/servo-bridge/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// ActionPing is a stream keepalive. It never reaches the store.
const ActionPing models.Action = "ping"

// Envelope is an inbound command as sent by stream clients and HTTP
// callers. Pointer fields distinguish "missing" from zero.
type Envelope struct {
	ID        string   `json:"id,omitempty" msgpack:"id,omitempty"`
	Action    string   `json:"action" msgpack:"action"`
	ChannelID *int     `json:"channelId,omitempty" msgpack:"channelId,omitempty"`
	Channel   *int     `json:"channel,omitempty" msgpack:"channel,omitempty"`
	Position  *float64 `json:"position,omitempty" msgpack:"position,omitempty"`
	Speed     *float64 `json:"speed,omitempty" msgpack:"speed,omitempty"`
}

// ParseEnvelope decodes a JSON stream message. Structural problems are
// validation errors; out-of-range values are left for the store to clamp.
func ParseEnvelope(data []byte) (Envelope, models.Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, models.Command{}, models.NewValidationError("malformed message: %v", err)
	}
	cmd, err := env.Command(models.SourceStream)
	return env, cmd, err
}

// ParseMsgpackEnvelope decodes a msgpack stream message.
func ParseMsgpackEnvelope(data []byte) (Envelope, models.Command, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return env, models.Command{}, models.NewValidationError("malformed message: %v", err)
	}
	cmd, err := env.Command(models.SourceStream)
	return env, cmd, err
}

// Command converts the envelope into a store command from src.
func (e Envelope) Command(src models.Source) (models.Command, error) {
	action := models.Action(strings.TrimSpace(e.Action))
	switch action {
	case "":
		return models.Command{}, models.NewValidationError("action is required")

	case ActionPing:
		return models.Command{Action: ActionPing, Source: src}, nil

	case models.ActionGetStatus:
		return models.GetStatus().From(src), nil

	case models.ActionSetChannel:
		ch, err := e.channel()
		if err != nil {
			return models.Command{}, err
		}
		if e.Position == nil {
			return models.Command{}, models.NewValidationError("position is required")
		}
		return models.SetChannel(ch, *e.Position).From(src), nil

	case models.ActionSetAllChannels:
		if e.Position == nil {
			return models.Command{}, models.NewValidationError("position is required")
		}
		return models.SetAllChannels(*e.Position).From(src), nil

	case models.ActionToggleHold:
		ch, err := e.channel()
		if err != nil {
			return models.Command{}, err
		}
		return models.ToggleHold(ch).From(src), nil

	case models.ActionSetSpeed:
		if e.Speed == nil {
			return models.Command{}, models.NewValidationError("speed is required")
		}
		return models.SetSpeed(*e.Speed).From(src), nil

	default:
		return models.Command{}, models.NewValidationError("unknown action %q", e.Action)
	}
}

func (e Envelope) channel() (int, error) {
	switch {
	case e.ChannelID != nil:
		return *e.ChannelID, nil
	case e.Channel != nil:
		return *e.Channel, nil
	}
	return 0, models.NewValidationError("channelId is required")
}
