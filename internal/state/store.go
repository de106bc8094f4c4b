// Package state holds the single authoritative copy of actuator positions,
// the latest sensor reading, device statuses and the speed factor. Every
// read returns a consistent copy; every write goes through one mutex.
package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/servo-bridge/backend/internal/device"
	"github.com/servo-bridge/backend/internal/models"
)

// Speed factor bounds for controller-driven moves.
const (
	MinSpeed     = 0.1
	MaxSpeed     = 2.0
	DefaultSpeed = 1.0
)

// Options configures a Store.
type Options struct {
	Channels int
	Range    models.Range
	Initial  float64
	Safe     float64
	Speed    float64
	Status   models.DeviceStatuses
}

// Store is the shared state store.
type Store struct {
	mu       sync.Mutex
	actuator device.Actuator
	rng      models.Range
	safe     float64
	channels []models.ActuatorChannel
	sensor   models.SensorSnapshot
	status   models.DeviceStatuses
	speed    float64
	seq      uint64
	now      func() time.Time
}

// New creates a store with every channel at opts.Initial.
func New(actuator device.Actuator, opts Options) *Store {
	if opts.Range == (models.Range{}) {
		opts.Range = models.DefaultRange
	}
	if opts.Speed == 0 {
		opts.Speed = DefaultSpeed
	}
	initial, _ := opts.Range.Clamp(opts.Initial)
	safe, _ := opts.Range.Clamp(opts.Safe)

	channels := make([]models.ActuatorChannel, opts.Channels)
	for i := range channels {
		channels[i] = models.ActuatorChannel{ID: i, Position: initial}
	}

	status := models.DeviceStatuses{}
	for _, kind := range models.AllDeviceKinds() {
		status[kind] = models.StatusDisconnected
	}
	for k, v := range opts.Status {
		status[k] = v
	}

	return &Store{
		actuator: actuator,
		rng:      opts.Range,
		safe:     safe,
		channels: channels,
		status:   status,
		speed:    opts.Speed,
		now:      time.Now,
	}
}

// Range returns the configured position bounds.
func (s *Store) Range() models.Range { return s.rng }

// ChannelCount returns the fixed number of channels.
func (s *Store) ChannelCount() int { return len(s.channels) }

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.Snapshot {
	channels := make([]models.ActuatorChannel, len(s.channels))
	copy(channels, s.channels)
	return models.Snapshot{
		Channels: channels,
		Sensor:   s.sensor,
		Status:   s.status.Clone(),
		Speed:    s.speed,
		Seq:      s.seq,
		At:       s.now(),
	}
}

// Home drives every channel to its stored position. It is used once after
// the actuator comes up.
func (s *Store) Home() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, ch := range s.channels {
		if err := s.writeLocked(ch.ID, ch.Position); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply validates cmd, drives the actuator and commits the result. The
// actuator write happens under the lock so per-channel order matches the
// order in which commands reach the store.
func (s *Store) Apply(cmd models.Command) (models.CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Action {
	case models.ActionSetChannel:
		return s.setChannelLocked(cmd)
	case models.ActionSetAllChannels:
		return s.setAllLocked(cmd)
	case models.ActionToggleHold:
		return s.toggleHoldLocked(cmd)
	case models.ActionSetSpeed:
		return s.setSpeedLocked(cmd)
	case models.ActionGetStatus:
		snap := s.snapshotLocked()
		return models.CommandResult{
			Success:  true,
			Action:   cmd.Action,
			Channels: snap.Channels,
			Speed:    snap.Speed,
			Snapshot: &snap,
		}, nil
	default:
		return models.CommandResult{}, models.NewValidationError("unknown action %q", cmd.Action)
	}
}

func (s *Store) validChannel(id int) error {
	if id < 0 || id >= len(s.channels) {
		err := models.NewValidationError("channel %d out of range [0, %d)", id, len(s.channels))
		err.Channel = id
		return err
	}
	return nil
}

func validPosition(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return models.NewValidationError("position must be a finite number")
	}
	return nil
}

func (s *Store) setChannelLocked(cmd models.Command) (models.CommandResult, error) {
	if err := s.validChannel(cmd.ChannelID); err != nil {
		return models.CommandResult{}, err
	}
	if err := validPosition(cmd.Position); err != nil {
		return models.CommandResult{}, err
	}

	ch := s.channels[cmd.ChannelID]
	if ch.Held {
		if cmd.Source == models.SourceController {
			return models.CommandResult{
				Success:  true,
				Action:   cmd.Action,
				Channel:  &ch,
				Channels: s.copyChannels(),
				Skipped:  []int{ch.ID},
			}, nil
		}
		return models.CommandResult{}, &models.CommandError{
			Kind:    models.ErrKindChannelHeld,
			Channel: ch.ID,
			Message: fmt.Sprintf("channel %d is held", ch.ID),
		}
	}

	pos, clamped := s.rng.Clamp(cmd.Position)
	if err := s.writeLocked(ch.ID, pos); err != nil {
		return models.CommandResult{}, err
	}
	s.channels[ch.ID].Position = pos
	s.seq++

	channels := s.copyChannels()
	res := models.CommandResult{
		Success:  true,
		Action:   cmd.Action,
		Channel:  &channels[ch.ID],
		Channels: channels,
		Clamped:  clamped,
	}
	if clamped {
		requested := cmd.Position
		res.Requested = &requested
	}
	return res, nil
}

func (s *Store) setAllLocked(cmd models.Command) (models.CommandResult, error) {
	if err := validPosition(cmd.Position); err != nil {
		return models.CommandResult{}, err
	}
	pos, clamped := s.rng.Clamp(cmd.Position)

	var skipped, moved []int
	for i := range s.channels {
		if s.channels[i].Held {
			skipped = append(skipped, i)
			continue
		}
		if err := s.writeLocked(i, pos); err != nil {
			s.rollbackLocked(moved, pos)
			return models.CommandResult{}, err
		}
		moved = append(moved, i)
	}
	for _, i := range moved {
		s.channels[i].Position = pos
	}
	if len(moved) > 0 {
		s.seq++
	}

	res := models.CommandResult{
		Success:  true,
		Action:   cmd.Action,
		Channels: s.copyChannels(),
		Clamped:  clamped,
		Skipped:  skipped,
	}
	if clamped {
		requested := cmd.Position
		res.Requested = &requested
	}
	return res, nil
}

func (s *Store) toggleHoldLocked(cmd models.Command) (models.CommandResult, error) {
	if err := s.validChannel(cmd.ChannelID); err != nil {
		return models.CommandResult{}, err
	}
	s.channels[cmd.ChannelID].Held = !s.channels[cmd.ChannelID].Held
	s.seq++
	ch := s.channels[cmd.ChannelID]
	return models.CommandResult{
		Success:  true,
		Action:   cmd.Action,
		Channel:  &ch,
		Channels: s.copyChannels(),
	}, nil
}

func (s *Store) setSpeedLocked(cmd models.Command) (models.CommandResult, error) {
	if math.IsNaN(cmd.Speed) || math.IsInf(cmd.Speed, 0) {
		return models.CommandResult{}, models.NewValidationError("speed must be a finite number")
	}
	speed := min(max(cmd.Speed, MinSpeed), MaxSpeed)
	clamped := speed != cmd.Speed

	s.speed = speed
	s.seq++
	res := models.CommandResult{
		Success: true,
		Action:  cmd.Action,
		Speed:   speed,
		Clamped: clamped,
	}
	if clamped {
		requested := cmd.Speed
		res.Requested = &requested
	}
	return res, nil
}

// rollbackLocked drives the given channels back to their committed
// positions after a multi-channel write failed part way. A channel the
// actuator refuses to move back keeps the position it now holds. The
// actuator status set by the failed write is left alone.
func (s *Store) rollbackLocked(channels []int, attempted float64) {
	for _, i := range channels {
		if err := s.actuator.SetChannel(i, s.channels[i].Position); err != nil {
			s.channels[i].Position = attempted
			s.seq++
		}
	}
}

// writeLocked drives one channel and maintains the actuator status.
func (s *Store) writeLocked(channel int, pos float64) error {
	err := s.actuator.SetChannel(channel, pos)
	switch {
	case err == nil:
		if s.status[models.DeviceActuator] != models.StatusConnected {
			s.status[models.DeviceActuator] = models.StatusConnected
			s.seq++
		}
		return nil
	case errors.Is(err, device.ErrNotConnected):
		return &models.CommandError{
			Kind:    models.ErrKindNotConnected,
			Channel: channel,
			Message: "actuator not connected",
			Err:     err,
		}
	default:
		if s.status[models.DeviceActuator] != models.StatusError {
			s.status[models.DeviceActuator] = models.StatusError
			s.seq++
		}
		return &models.CommandError{
			Kind:    models.ErrKindHardwareRejected,
			Channel: channel,
			Message: fmt.Sprintf("actuator rejected write to channel %d", channel),
			Err:     err,
		}
	}
}

func (s *Store) copyChannels() []models.ActuatorChannel {
	out := make([]models.ActuatorChannel, len(s.channels))
	copy(out, s.channels)
	return out
}

// UpdateSensor replaces the sensor snapshot.
func (s *Store) UpdateSensor(snap models.SensorSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensor = snap
	s.seq++
}

// InvalidateSensor marks the last reading stale.
func (s *Store) InvalidateSensor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sensor.Valid {
		return
	}
	s.sensor = s.sensor.Stale()
	s.seq++
}

// UpdateStatus records a device status and reports whether it changed.
func (s *Store) UpdateStatus(kind models.DeviceKind, status models.DeviceStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status[kind] == status {
		return false
	}
	s.status[kind] = status
	s.seq++
	return true
}

// Speed returns the current speed factor.
func (s *Store) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Park drives every channel, held or not, to the safe position and then
// releases the actuator outputs.
func (s *Store) Park(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for i := range s.channels {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.writeLocked(i, s.safe); err != nil {
			errs = append(errs, err)
			continue
		}
		s.channels[i].Position = s.safe
	}
	s.seq++
	if err := s.actuator.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release actuator: %w", err))
	}
	return errors.Join(errs...)
}
