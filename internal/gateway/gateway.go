// Package gateway is the single entry point for commands. It applies them
// through the state store and records the outcome in metrics and the
// journal, then asks the broadcaster for an immediate push.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/servo-bridge/backend/internal/journal"
	"github.com/servo-bridge/backend/internal/logger"
	"github.com/servo-bridge/backend/internal/metrics"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/servo-bridge/backend/internal/state"
	"go.uber.org/zap"
)

// Notifier is told when a command changed shared state.
type Notifier interface {
	Trigger()
}

// Gateway validates, applies and records commands.
type Gateway struct {
	store   *state.Store
	notify  Notifier
	journal journal.Sink
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New creates a gateway. notify, sink and m may be nil.
func New(store *state.Store, notify Notifier, sink journal.Sink, m *metrics.Metrics, log *zap.Logger) *Gateway {
	if sink == nil {
		sink = journal.Discard{}
	}
	return &Gateway{
		store:   store,
		notify:  notify,
		journal: sink,
		metrics: m,
		log:     logger.Component(log, "gateway"),
	}
}

// Submit applies cmd and returns the store's result.
func (g *Gateway) Submit(ctx context.Context, cmd models.Command) (models.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return models.CommandResult{}, err
	}
	if cmd.Action == ActionPing {
		return models.CommandResult{}, models.NewValidationError("ping is not a command")
	}

	res, err := g.store.Apply(cmd)
	if err != nil {
		g.rejected(cmd, err)
		// a rejected write degrades the actuator status
		if models.IsKind(err, models.ErrKindHardwareRejected) {
			g.trigger()
		}
		return res, err
	}

	g.metrics.Command(cmd.Action, cmd.Source, "ok")
	g.record(cmd, res)
	if cmd.Action.Mutating() && changed(cmd, res) {
		g.trigger()
	}
	return res, nil
}

func (g *Gateway) trigger() {
	if g.notify != nil {
		g.notify.Trigger()
	}
}

// changed reports whether a successful command altered shared state.
// Moves on held channels succeed without moving anything.
func changed(cmd models.Command, res models.CommandResult) bool {
	switch cmd.Action {
	case models.ActionSetChannel:
		return len(res.Skipped) == 0
	case models.ActionSetAllChannels:
		return len(res.Skipped) < len(res.Channels)
	}
	return true
}

func (g *Gateway) rejected(cmd models.Command, err error) {
	kind := "error"
	channel := -1
	var cerr *models.CommandError
	if errors.As(err, &cerr) {
		kind = string(cerr.Kind)
		channel = cerr.Channel
	}
	g.metrics.Command(cmd.Action, cmd.Source, kind)

	ev := models.Event{
		Kind:   models.EventRejected,
		Source: cmd.Source,
		Action: cmd.Action,
		Detail: err.Error(),
	}
	if channel >= 0 {
		ev.Channel = &channel
	}
	g.journal.Record(ev)

	fields := []zap.Field{
		zap.String("action", string(cmd.Action)),
		zap.String("source", string(cmd.Source)),
		zap.Error(err),
	}
	if models.IsKind(err, models.ErrKindHardwareRejected) {
		g.log.Warn("command rejected by hardware", fields...)
	} else {
		g.log.Debug("command rejected", fields...)
	}
}

func (g *Gateway) record(cmd models.Command, res models.CommandResult) {
	switch cmd.Action {
	case models.ActionSetChannel:
		if len(res.Skipped) > 0 {
			return
		}
		g.journal.Record(commandEvent(cmd, &cmd.ChannelID, g.applied(cmd, res)))
	case models.ActionSetAllChannels:
		ev := commandEvent(cmd, nil, g.applied(cmd, res))
		if len(res.Skipped) > 0 {
			ev.Detail = fmt.Sprintf("skipped held channels %v", res.Skipped)
		}
		g.journal.Record(ev)
	case models.ActionToggleHold:
		hold := "released"
		if res.Channel != nil && res.Channel.Held {
			hold = "held"
		}
		g.journal.Record(models.Event{
			Kind:    models.EventHold,
			Source:  cmd.Source,
			Action:  cmd.Action,
			Channel: &cmd.ChannelID,
			Detail:  hold,
		})
	case models.ActionSetSpeed:
		g.journal.Record(models.Event{
			Kind:   models.EventSpeed,
			Source: cmd.Source,
			Action: cmd.Action,
			Value:  floatPtr(res.Speed),
		})
	}

	if res.Clamped && res.Requested != nil {
		g.metrics.Clamp(cmd.Action)
		ev := models.Event{
			Kind:   models.EventClamp,
			Source: cmd.Source,
			Action: cmd.Action,
			Value:  floatPtr(*res.Requested),
			Detail: fmt.Sprintf("clamped to %g", g.applied(cmd, res)),
		}
		if cmd.Action == models.ActionSetChannel {
			ev.Channel = &cmd.ChannelID
		}
		g.journal.Record(ev)
	}
}

// applied returns the value the store actually used for cmd.
func (g *Gateway) applied(cmd models.Command, res models.CommandResult) float64 {
	switch cmd.Action {
	case models.ActionSetSpeed:
		return res.Speed
	case models.ActionSetChannel:
		if res.Channel != nil {
			return res.Channel.Position
		}
	}
	v, _ := g.store.Range().Clamp(cmd.Position)
	return v
}

func commandEvent(cmd models.Command, channel *int, value float64) models.Event {
	return models.Event{
		Kind:    models.EventCommand,
		Source:  cmd.Source,
		Action:  cmd.Action,
		Channel: channel,
		Value:   floatPtr(value),
	}
}

func floatPtr(v float64) *float64 { return &v }
