// mock_devices.go - Fake device adapters for testing
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/servo-bridge/backend/internal/device"
	"github.com/servo-bridge/backend/internal/models"
)

// ErrInjected is the default failure returned by fakes told to fail.
var ErrInjected = errors.New("injected failure")

// MockActuator implements device.Actuator and records every write.
type MockActuator struct {
	mu        sync.Mutex
	channels  int
	positions map[int]float64
	writes    int
	released  bool
	closed    bool
	failOn    map[int]error
	status    models.DeviceStatus
}

// NewMockActuator creates a connected fake bank with n channels.
func NewMockActuator(n int) *MockActuator {
	return &MockActuator{
		channels:  n,
		positions: make(map[int]float64),
		failOn:    make(map[int]error),
		status:    models.StatusConnected,
	}
}

// FailChannel makes writes to channel return err until cleared with nil.
func (m *MockActuator) FailChannel(channel int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, channel)
		return
	}
	m.failOn[channel] = err
}

func (m *MockActuator) Initialize() models.DeviceStatus { return m.status }

func (m *MockActuator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockActuator) Channels() int { return m.channels }

func (m *MockActuator) SetChannel(channel int, degrees float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel < 0 || channel >= m.channels {
		return device.ErrChannelOutOfRange
	}
	if err, ok := m.failOn[channel]; ok {
		return err
	}
	m.positions[channel] = degrees
	m.writes++
	m.released = false
	return nil
}

func (m *MockActuator) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	return nil
}

// Position returns the last position written to channel.
func (m *MockActuator) Position(channel int) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[channel]
	return p, ok
}

// Writes returns the number of successful writes.
func (m *MockActuator) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Released reports whether Release was the last call.
func (m *MockActuator) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Closed reports whether Close was called.
func (m *MockActuator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SensorRead is one scripted sensor result.
type SensorRead struct {
	Snapshot models.SensorSnapshot
	Err      error
}

// MockSensor implements device.Sensor. It replays scripted reads and then
// repeats the last one.
type MockSensor struct {
	mu     sync.Mutex
	reads  []SensorRead
	calls  int
	closed bool
}

// NewMockSensor returns a sensor that replays reads in order.
func NewMockSensor(reads ...SensorRead) *MockSensor {
	return &MockSensor{reads: reads}
}

// FailingSensor returns a sensor whose every read fails with err.
func FailingSensor(err error) *MockSensor {
	return NewMockSensor(SensorRead{Err: err})
}

func (m *MockSensor) Initialize() models.DeviceStatus { return models.StatusConnected }

func (m *MockSensor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSensor) Read(ctx context.Context) (models.SensorSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.reads) == 0 {
		return models.SensorSnapshot{}, device.ErrNotConnected
	}
	i := min(m.calls-1, len(m.reads)-1)
	r := m.reads[i]
	return r.Snapshot, r.Err
}

// Calls returns the number of reads performed.
func (m *MockSensor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockController implements device.Controller with queued events.
type MockController struct {
	mu     sync.Mutex
	queue  []device.ControllerEvent
	err    error
	closed bool
}

// NewMockController returns a connected controller with no pending input.
func NewMockController() *MockController { return &MockController{} }

// Push queues events for the next Poll.
func (m *MockController) Push(events ...device.ControllerEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, events...)
}

// SetError makes Poll return err until cleared with nil.
func (m *MockController) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockController) Initialize() models.DeviceStatus { return models.StatusConnected }

func (m *MockController) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockController) Poll() ([]device.ControllerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := m.queue
	m.queue = nil
	return out, nil
}

// Hardware bundles fresh fakes with n actuator channels.
func Hardware(n int) (*device.Hardware, *MockActuator, *MockSensor, *MockController) {
	act := NewMockActuator(n)
	sensor := NewMockSensor(SensorRead{Snapshot: models.SensorSnapshot{Accel: models.Vec3{Z: 1}, Temp: 25, Valid: true}})
	ctrl := NewMockController()
	hw := &device.Hardware{
		Actuator:   act,
		Sensor:     sensor,
		Controller: ctrl,
		Status: models.DeviceStatuses{
			models.DeviceActuator:   models.StatusConnected,
			models.DeviceSensor:     models.StatusConnected,
			models.DeviceController: models.StatusConnected,
		},
	}
	return hw, act, sensor, ctrl
}
