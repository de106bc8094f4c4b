package models

import (
	"errors"
	"fmt"
)

// Action names a command variant. The values double as the stream
// protocol's "action" field.
type Action string

const (
	ActionSetChannel     Action = "move"
	ActionSetAllChannels Action = "move_all"
	ActionToggleHold     Action = "toggle_hold"
	ActionGetStatus      Action = "get_status"
	ActionSetSpeed       Action = "set_speed"
)

// Mutating reports whether the action changes shared state.
func (a Action) Mutating() bool {
	return a != ActionGetStatus
}

// Source identifies who submitted a command.
type Source string

const (
	SourceAPI        Source = "api"
	SourceStream     Source = "stream"
	SourceController Source = "controller"
)

// Command is a tagged request against the state store. Only the fields
// relevant to Action are meaningful.
type Command struct {
	Action    Action
	Source    Source
	ChannelID int
	Position  float64
	Speed     float64
}

// SetChannel moves one channel.
func SetChannel(channelID int, position float64) Command {
	return Command{Action: ActionSetChannel, ChannelID: channelID, Position: position}
}

// SetAllChannels moves every unheld channel.
func SetAllChannels(position float64) Command {
	return Command{Action: ActionSetAllChannels, Position: position}
}

// ToggleHold flips the hold flag of one channel.
func ToggleHold(channelID int) Command {
	return Command{Action: ActionToggleHold, ChannelID: channelID}
}

// GetStatus reads the full snapshot.
func GetStatus() Command {
	return Command{Action: ActionGetStatus}
}

// SetSpeed changes the controller speed factor.
func SetSpeed(speed float64) Command {
	return Command{Action: ActionSetSpeed, Speed: speed}
}

// From returns a copy of c tagged with the given source.
func (c Command) From(src Source) Command {
	c.Source = src
	return c
}

// CommandResult describes the outcome of an applied command.
type CommandResult struct {
	Success   bool              `json:"success" msgpack:"success"`
	Action    Action            `json:"action" msgpack:"action"`
	Channel   *ActuatorChannel  `json:"channel,omitempty" msgpack:"channel,omitempty"`
	Channels  []ActuatorChannel `json:"channels,omitempty" msgpack:"channels,omitempty"`
	Clamped   bool              `json:"clamped,omitempty" msgpack:"clamped,omitempty"`
	Requested *float64          `json:"requested,omitempty" msgpack:"requested,omitempty"`
	Skipped   []int             `json:"skipped,omitempty" msgpack:"skipped,omitempty"`
	Speed     float64           `json:"speed,omitempty" msgpack:"speed,omitempty"`
	Snapshot  *Snapshot         `json:"-" msgpack:"-"`
}

// ErrorKind classifies command failures.
type ErrorKind string

const (
	ErrKindValidation       ErrorKind = "validation"
	ErrKindHardwareRejected ErrorKind = "hardware_rejected"
	ErrKindNotConnected     ErrorKind = "not_connected"
	ErrKindChannelHeld      ErrorKind = "channel_held"
)

// CommandError is returned by the store and gateway for rejected commands.
type CommandError struct {
	Kind    ErrorKind
	Channel int // -1 when not channel specific
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Err }

// NewValidationError rejects a structurally invalid or out-of-domain request.
func NewValidationError(format string, args ...any) *CommandError {
	return &CommandError{Kind: ErrKindValidation, Channel: -1, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a CommandError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cerr *CommandError
	return errors.As(err, &cerr) && cerr.Kind == kind
}
