package device

import (
	"errors"
	"strings"
	"time"

	"github.com/servo-bridge/backend/internal/config"
	"github.com/servo-bridge/backend/internal/logger"
	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
)

// Hardware owns the three device adapters for the lifetime of the process.
type Hardware struct {
	Actuator   Actuator
	Sensor     Sensor
	Controller Controller
	// Status holds the result of each adapter's Initialize.
	Status models.DeviceStatuses
}

// Open builds and initialises the adapters selected by cfg. Missing hardware
// is reported through Status, never as an error.
func Open(cfg *config.AppConfig, log *zap.Logger) *Hardware {
	log = logger.Component(log, "device")
	hw := &Hardware{
		Actuator:   newActuator(cfg, log),
		Sensor:     newSensor(cfg, log),
		Controller: newController(cfg, log),
	}
	hw.Status = models.DeviceStatuses{
		models.DeviceActuator:   hw.Actuator.Initialize(),
		models.DeviceSensor:     hw.Sensor.Initialize(),
		models.DeviceController: hw.Controller.Initialize(),
	}
	log.Info("hardware initialized",
		zap.String("actuator", cfg.Actuator.Driver),
		zap.String("actuator_status", string(hw.Status[models.DeviceActuator])),
		zap.String("sensor", cfg.Sensor.Driver),
		zap.String("sensor_status", string(hw.Status[models.DeviceSensor])),
		zap.String("controller", cfg.Controller.Driver),
		zap.String("controller_status", string(hw.Status[models.DeviceController])))
	return hw
}

// Close releases the adapters in reverse order of creation.
func (h *Hardware) Close() error {
	return errors.Join(
		h.Controller.Close(),
		h.Sensor.Close(),
		h.Actuator.Close(),
	)
}

func newActuator(cfg *config.AppConfig, log *zap.Logger) Actuator {
	a := cfg.Actuator
	rng := models.Range{Min: a.MinDegrees, Max: a.MaxDegrees}
	switch a.Driver {
	case "pca9685":
		buses := append([]string{a.I2CBus}, a.FallbackBuses...)
		return NewPCA9685(PCA9685Config{
			Buses:       dedupe(buses),
			Address:     a.Address,
			FrequencyHz: a.FrequencyHz,
			Channels:    a.Channels,
			Pulses:      PulseMap{Range: rng, PulseMin: a.PulseMin, PulseMax: a.PulseMax},
		}, log.Named("pca9685"))
	case "maestro":
		return NewMaestro(MaestroConfig{
			Port:     a.SerialPort,
			BaudRate: a.BaudRate,
			Channels: a.Channels,
			Pulses:   PulseMap{Range: rng, PulseMin: a.PulseMinUS, PulseMax: a.PulseMaxUS},
		}, nil, log.Named("maestro"))
	case "simulated":
		return NewSimulatedActuator(a.Channels)
	default:
		return NewAbsentActuator(a.Channels)
	}
}

func newSensor(cfg *config.AppConfig, log *zap.Logger) Sensor {
	switch cfg.Sensor.Driver {
	case "mpu6050":
		return NewMPU6050(MPU6050Config{Bus: cfg.Sensor.I2CBus, Address: cfg.Sensor.Address}, log.Named("mpu6050"))
	case "simulated":
		return NewSimulatedSensor(uint64(time.Now().UnixNano()))
	default:
		return AbsentSensor{}
	}
}

func newController(cfg *config.AppConfig, log *zap.Logger) Controller {
	c := cfg.Controller
	if c.Driver != "evdev" {
		return NoController{}
	}
	return NewEvdev(EvdevConfig{
		DevicePath:        c.DevicePath,
		NameMatch:         c.NameMatch,
		AxisMax:           c.AxisMax,
		TriggerMax:        c.TriggerMax,
		Deadzone:          c.Deadzone,
		ReconnectInterval: time.Duration(c.ReconnectIntervalSeconds) * time.Second,
		BufferSize:        c.BufferSize,
	}, log.Named("evdev"))
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		n = strings.TrimSpace(n)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
