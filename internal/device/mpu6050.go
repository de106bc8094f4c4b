package device

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
)

// MPU-6050 registers and scale factors at the power-on full-scale ranges
// (±2 g, ±250 deg/s).
const (
	mpuRegPowerMgmt1 = 0x6B
	mpuRegAccelXOut  = 0x3B
	mpuBurstLen      = 14

	mpuAccelLSBPerG   = 16384.0
	mpuGyroLSBPerDegS = 131.0
	mpuTempLSBPerDegC = 340.0
	mpuTempOffset     = 36.53
)

// registerBus is a device on a register-addressed bus.
type registerBus interface {
	Tx(w, r []byte) error
}

// MPU6050Config configures the inertial sensor.
type MPU6050Config struct {
	Bus     string
	Address uint16
}

// MPU6050 reads an InvenSense MPU-6050 over I2C.
type MPU6050 struct {
	cfg MPU6050Config
	log *zap.Logger
	now func() time.Time

	mu    sync.Mutex
	bus   i2c.BusCloser
	dev   registerBus
	guard readGuard
}

// NewMPU6050 returns an uninitialised MPU-6050 adapter.
func NewMPU6050(cfg MPU6050Config, log *zap.Logger) *MPU6050 {
	return &MPU6050{cfg: cfg, log: log, now: time.Now}
}

// Initialize opens the bus and wakes the chip from sleep.
func (m *MPU6050) Initialize() models.DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	bus, name, err := openBus([]string{m.cfg.Bus})
	if err != nil {
		m.log.Warn("MPU6050 bus unavailable", zap.String("bus", m.cfg.Bus), zap.Error(err))
		return models.StatusDisconnected
	}
	dev := &i2c.Dev{Bus: bus, Addr: m.cfg.Address}
	if err := dev.Tx([]byte{mpuRegPowerMgmt1, 0}, nil); err != nil {
		bus.Close()
		m.log.Warn("MPU6050 not responding", zap.String("bus", name), zap.Uint16("address", m.cfg.Address), zap.Error(err))
		return models.StatusDisconnected
	}
	m.bus, m.dev = bus, dev
	m.log.Info("MPU6050 initialized", zap.String("bus", name), zap.Uint16("address", m.cfg.Address))
	return models.StatusConnected
}

// Read burst-reads accelerometer, temperature and gyroscope registers.
func (m *MPU6050) Read(ctx context.Context) (models.SensorSnapshot, error) {
	m.mu.Lock()
	dev := m.dev
	m.mu.Unlock()
	if dev == nil {
		return models.SensorSnapshot{}, ErrNotConnected
	}

	return m.guard.do(ctx, func() (models.SensorSnapshot, error) {
		buf := make([]byte, mpuBurstLen)
		if err := dev.Tx([]byte{mpuRegAccelXOut}, buf); err != nil {
			return models.SensorSnapshot{}, driverErr("mpu6050", "read", err)
		}
		return decodeMPU6050(buf, m.now()), nil
	})
}

// Close releases the bus.
func (m *MPU6050) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dev = nil
	if m.bus == nil {
		return nil
	}
	err := m.bus.Close()
	m.bus = nil
	return err
}

// decodeMPU6050 converts the 14-byte register block starting at ACCEL_XOUT_H.
func decodeMPU6050(buf []byte, at time.Time) models.SensorSnapshot {
	word := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(buf[i:])))
	}
	return models.SensorSnapshot{
		Accel: models.Vec3{
			X: word(0) / mpuAccelLSBPerG,
			Y: word(2) / mpuAccelLSBPerG,
			Z: word(4) / mpuAccelLSBPerG,
		},
		Temp: word(6)/mpuTempLSBPerDegC + mpuTempOffset,
		Gyro: models.Vec3{
			X: word(8) / mpuGyroLSBPerDegS,
			Y: word(10) / mpuGyroLSBPerDegS,
			Z: word(12) / mpuGyroLSBPerDegS,
		},
		Valid: true,
		At:    at,
	}
}
