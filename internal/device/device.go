// Package device wraps the actuator bank, inertial sensor and game
// controller behind small capability interfaces. Every adapter tolerates
// absent hardware: Initialize reports the problem as a status instead of
// failing, and later calls return ErrNotConnected.
package device

import (
	"errors"
	"fmt"

	"github.com/servo-bridge/backend/internal/models"
)

var (
	ErrNotConnected      = errors.New("device not connected")
	ErrChannelOutOfRange = errors.New("channel out of range")
	ErrReadTimeout       = errors.New("device read timed out")
	ErrNoController      = errors.New("no controller")
)

// Presence is the contract shared by every adapter.
type Presence interface {
	// Initialize attempts hardware bring-up. It never panics on missing
	// hardware; it reports disconnected or error instead.
	Initialize() models.DeviceStatus
	Close() error
}

// DriverError wraps a failure reported by the underlying bus or driver.
type DriverError struct {
	Device string
	Op     string
	Err    error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Device, e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

func driverErr(device, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Device: device, Op: op, Err: err}
}

// statusFor converts a bring-up error into a device status.
func statusFor(err error) models.DeviceStatus {
	switch {
	case err == nil:
		return models.StatusConnected
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNoController):
		return models.StatusDisconnected
	default:
		return models.StatusError
	}
}
