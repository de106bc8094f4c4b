package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/servo-bridge/backend/internal/models"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// maestroSetTarget is the Pololu compact protocol "set target" command.
const maestroSetTarget = 0x84

// MaestroConfig configures a Pololu Maestro servo controller on a serial port.
type MaestroConfig struct {
	Port     string
	BaudRate int
	Channels int
	Pulses   PulseMap // microseconds
}

// PortOpener opens the serial port. Tests replace it with an in-memory port.
type PortOpener func(path string, baud int) (io.WriteCloser, error)

// OpenSerialPort opens a real serial port with 8N1 framing.
func OpenSerialPort(path string, baud int) (io.WriteCloser, error) {
	return serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Maestro drives servos through a Pololu Maestro USB/serial controller.
type Maestro struct {
	cfg  MaestroConfig
	log  *zap.Logger
	open PortOpener

	mu   sync.Mutex
	port io.WriteCloser
}

// NewMaestro returns an uninitialised Maestro adapter.
func NewMaestro(cfg MaestroConfig, open PortOpener, log *zap.Logger) *Maestro {
	if open == nil {
		open = OpenSerialPort
	}
	return &Maestro{cfg: cfg, open: open, log: log}
}

// Initialize opens the serial port.
func (m *Maestro) Initialize() models.DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	port, err := m.open(m.cfg.Port, m.cfg.BaudRate)
	if err != nil {
		m.log.Warn("maestro serial port unavailable", zap.String("port", m.cfg.Port), zap.Error(err))
		return models.StatusDisconnected
	}
	m.port = port
	m.log.Info("maestro connected", zap.String("port", m.cfg.Port), zap.Int("baud", m.cfg.BaudRate))
	return models.StatusConnected
}

func (m *Maestro) Channels() int { return m.cfg.Channels }

// SetChannel sends a set-target command. Targets are in quarter microseconds.
func (m *Maestro) SetChannel(channel int, degrees float64) error {
	if channel < 0 || channel >= m.cfg.Channels {
		return ErrChannelOutOfRange
	}
	return m.write(channel, m.cfg.Pulses.Pulse(degrees)*4)
}

// Release sets every target to zero, which stops the pulses.
func (m *Maestro) Release() error {
	for ch := 0; ch < m.cfg.Channels; ch++ {
		if err := m.write(ch, 0); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maestro) write(channel, target int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return ErrNotConnected
	}
	cmd := []byte{maestroSetTarget, byte(channel), byte(target & 0x7F), byte((target >> 7) & 0x7F)}
	n, err := m.port.Write(cmd)
	if err != nil {
		return driverErr("maestro", "write", err)
	}
	if n != len(cmd) {
		return driverErr("maestro", "write", fmt.Errorf("short write: %d of %d bytes", n, len(cmd)))
	}
	return nil
}

// Close closes the serial port.
func (m *Maestro) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}
