package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
)

// pwmDriver is the subset of the periph PCA9685 driver in use.
type pwmDriver interface {
	SetPwmFreq(freqHz physic.Frequency) error
	SetPwm(channel int, on, off gpio.Duty) error
	SetAllPwm(on, off gpio.Duty) error
}

// PCA9685Config configures a PCA9685 bank on I2C.
type PCA9685Config struct {
	Buses       []string // tried in order
	Address     uint16
	FrequencyHz int
	Channels    int
	Pulses      PulseMap
}

// PCA9685 drives servos through a PCA9685 16-channel PWM controller.
type PCA9685 struct {
	cfg PCA9685Config
	log *zap.Logger

	mu      sync.Mutex
	bus     i2c.BusCloser
	dev     pwmDriver
	busName string
}

// NewPCA9685 returns an uninitialised PCA9685 adapter.
func NewPCA9685(cfg PCA9685Config, log *zap.Logger) *PCA9685 {
	return &PCA9685{cfg: cfg, log: log}
}

// Initialize scans the configured buses for the controller.
func (p *PCA9685) Initialize() models.DeviceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, name := range p.cfg.Buses {
		bus, _, err := openBus([]string{name})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dev, err := pca9685.NewI2C(bus, p.cfg.Address)
		if err == nil {
			err = dev.SetPwmFreq(physic.Frequency(p.cfg.FrequencyHz) * physic.Hertz)
		}
		if err != nil {
			bus.Close()
			errs = append(errs, fmt.Errorf("bus %q: %w", name, err))
			continue
		}
		p.bus, p.dev, p.busName = bus, dev, name
		p.log.Info("PCA9685 found",
			zap.String("bus", name),
			zap.Uint16("address", p.cfg.Address),
			zap.Int("frequency_hz", p.cfg.FrequencyHz))
		return models.StatusConnected
	}

	err := errors.Join(errs...)
	p.log.Warn("no PCA9685 found on any I2C bus", zap.Error(err))
	return models.StatusDisconnected
}

// Channels returns the configured channel count.
func (p *PCA9685) Channels() int { return p.cfg.Channels }

// SetChannel writes the pulse for degrees to one output.
func (p *PCA9685) SetChannel(channel int, degrees float64) error {
	if channel < 0 || channel >= p.cfg.Channels {
		return ErrChannelOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return ErrNotConnected
	}
	pulse := p.cfg.Pulses.Pulse(degrees)
	return driverErr("pca9685", "set pwm", p.dev.SetPwm(channel, 0, gpio.Duty(pulse)))
}

// Release turns every output off so the servos stop holding torque.
func (p *PCA9685) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return nil
	}
	return driverErr("pca9685", "release", p.dev.SetAllPwm(0, 0))
}

// Close releases the I2C bus.
func (p *PCA9685) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dev = nil
	if p.bus == nil {
		return nil
	}
	err := p.bus.Close()
	p.bus = nil
	return err
}

// Bus returns the bus the controller was found on.
func (p *PCA9685) Bus() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busName
}
