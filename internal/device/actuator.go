package device

import (
	"math"
	"sync"

	"github.com/servo-bridge/backend/internal/models"
)

// Actuator drives a bank of PWM channels.
type Actuator interface {
	Presence
	// Channels returns the number of addressable channels.
	Channels() int
	// SetChannel moves one channel. The position is already clamped by the
	// caller; adapters only translate it to a pulse.
	SetChannel(channel int, degrees float64) error
	// Release turns every output off.
	Release() error
}

// PulseMap converts degrees to a pulse width in driver units.
type PulseMap struct {
	Range    models.Range
	PulseMin int
	PulseMax int
}

// Pulse returns the pulse for the given angle, bounded to the map.
func (m PulseMap) Pulse(degrees float64) int {
	deg, _ := m.Range.Clamp(degrees)
	frac := (deg - m.Range.Min) / m.Range.Span()
	return m.PulseMin + int(math.Round(frac*float64(m.PulseMax-m.PulseMin)))
}

// SimulatedActuator accepts every write. It stands in for the bank when
// the server runs without hardware.
type SimulatedActuator struct {
	mu        sync.Mutex
	channels  int
	positions map[int]float64
	released  bool
}

// NewSimulatedActuator creates a simulated bank with n channels.
func NewSimulatedActuator(n int) *SimulatedActuator {
	return &SimulatedActuator{channels: n, positions: make(map[int]float64)}
}

func (s *SimulatedActuator) Initialize() models.DeviceStatus { return models.StatusConnected }

func (s *SimulatedActuator) Close() error { return nil }

func (s *SimulatedActuator) Channels() int { return s.channels }

func (s *SimulatedActuator) SetChannel(channel int, degrees float64) error {
	if channel < 0 || channel >= s.channels {
		return ErrChannelOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[channel] = degrees
	s.released = false
	return nil
}

func (s *SimulatedActuator) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

// Position returns the last position written to channel.
func (s *SimulatedActuator) Position(channel int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[channel]
	return p, ok
}

// Released reports whether Release was called after the last write.
func (s *SimulatedActuator) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// AbsentActuator is used when no actuator driver is configured.
type AbsentActuator struct {
	channels int
}

// NewAbsentActuator returns an actuator that is never connected.
func NewAbsentActuator(n int) *AbsentActuator { return &AbsentActuator{channels: n} }

func (a *AbsentActuator) Initialize() models.DeviceStatus { return models.StatusDisconnected }
func (a *AbsentActuator) Close() error                    { return nil }
func (a *AbsentActuator) Channels() int                   { return a.channels }
func (a *AbsentActuator) SetChannel(int, float64) error   { return ErrNotConnected }
func (a *AbsentActuator) Release() error                  { return nil }
