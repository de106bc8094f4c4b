// Package poller samples the sensor and drains the game controller on a
// fixed period. Controller input is turned into commands and submitted
// through the gateway like any other client.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/servo-bridge/backend/internal/device"
	"github.com/servo-bridge/backend/internal/journal"
	"github.com/servo-bridge/backend/internal/logger"
	"github.com/servo-bridge/backend/internal/metrics"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/servo-bridge/backend/internal/state"
	"go.uber.org/zap"
)

// Submitter applies commands. It is satisfied by *gateway.Gateway.
type Submitter interface {
	Submit(ctx context.Context, cmd models.Command) (models.CommandResult, error)
}

// Config controls the loop timing and controller mapping.
type Config struct {
	Interval         time.Duration
	ReadTimeout      time.Duration
	FailureThreshold int
	NudgeStep        float64
}

// Deps are the collaborators of the poll loop.
type Deps struct {
	Store      *state.Store
	Sensor     device.Sensor
	Controller device.Controller
	Gateway    Submitter
	Journal    journal.Sink
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Poller is the hardware poll loop.
type Poller struct {
	cfg     Config
	store   *state.Store
	sensor  device.Sensor
	ctrl    device.Controller
	gw      Submitter
	journal journal.Sink
	metrics *metrics.Metrics
	log     *zap.Logger

	failures int
	focus    int
}

// New creates a poll loop.
func New(cfg Config, deps Deps) *Poller {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if deps.Journal == nil {
		deps.Journal = journal.Discard{}
	}
	if deps.Controller == nil {
		deps.Controller = device.NoController{}
	}
	if deps.Sensor == nil {
		deps.Sensor = device.AbsentSensor{}
	}
	return &Poller{
		cfg:     cfg,
		store:   deps.Store,
		sensor:  deps.Sensor,
		ctrl:    deps.Controller,
		gw:      deps.Gateway,
		journal: deps.Journal,
		metrics: deps.Metrics,
		log:     logger.Component(deps.Logger, "poller"),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("poll loop started", zap.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poll loop stopped")
			return nil
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle runs one sensor sample and one controller drain.
func (p *Poller) Cycle(ctx context.Context) {
	p.sampleSensor(ctx)
	p.pollController(ctx)
}

func (p *Poller) sampleSensor(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
	defer cancel()

	start := time.Now()
	snap, err := p.sensor.Read(readCtx)
	switch {
	case err == nil:
		snap.Valid = true
		if snap.At.IsZero() {
			snap.At = time.Now()
		}
		p.metrics.SensorRead(time.Since(start))
		p.store.UpdateSensor(snap)
		p.failures = 0
		p.setStatus(models.DeviceSensor, models.StatusConnected, nil)

	case errors.Is(err, device.ErrNotConnected):
		p.failures = 0
		p.store.InvalidateSensor()
		p.setStatus(models.DeviceSensor, models.StatusDisconnected, err)

	default:
		p.failures++
		p.metrics.SensorFailure()
		p.log.Debug("sensor read failed", zap.Int("consecutive", p.failures), zap.Error(err))
		if p.failures >= p.cfg.FailureThreshold {
			p.store.InvalidateSensor()
			p.setStatus(models.DeviceSensor, models.StatusError, err)
		}
	}
}

func (p *Poller) pollController(ctx context.Context) {
	events, err := p.ctrl.Poll()
	p.metrics.ControllerEvents(len(events))
	for _, ev := range events {
		p.handle(ctx, ev)
	}

	switch {
	case err == nil:
		p.setStatus(models.DeviceController, models.StatusConnected, nil)
	case errors.Is(err, device.ErrNoController):
		p.setStatus(models.DeviceController, models.StatusDisconnected, err)
	default:
		p.setStatus(models.DeviceController, models.StatusError, err)
	}
}

func (p *Poller) setStatus(kind models.DeviceKind, status models.DeviceStatus, cause error) {
	if !p.store.UpdateStatus(kind, status) {
		return
	}
	p.metrics.DeviceStatus(kind, status)

	detail := fmt.Sprintf("%s: %s", kind, status)
	if cause != nil {
		detail += ": " + cause.Error()
	}
	p.journal.Record(models.Event{Kind: models.EventDeviceStatus, Detail: detail})

	fields := []zap.Field{zap.String("device", string(kind)), zap.String("status", string(status))}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	if status == models.StatusError {
		p.log.Warn("device status changed", fields...)
	} else {
		p.log.Info("device status changed", fields...)
	}
}

func (p *Poller) submit(ctx context.Context, cmd models.Command) {
	if _, err := p.gw.Submit(ctx, cmd.From(models.SourceController)); err != nil {
		p.log.Debug("controller command failed", zap.String("action", string(cmd.Action)), zap.Error(err))
	}
}
