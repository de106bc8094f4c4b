package device

import (
	"testing"

	"github.com/servo-bridge/backend/internal/config"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenSimulated(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Simulate()

	hw := Open(cfg, zap.NewNop())
	require.NotNil(t, hw)

	assert.IsType(t, &SimulatedActuator{}, hw.Actuator)
	assert.IsType(t, &SimulatedSensor{}, hw.Sensor)
	assert.IsType(t, NoController{}, hw.Controller)
	assert.Equal(t, models.DeviceStatuses{
		models.DeviceActuator:   models.StatusConnected,
		models.DeviceSensor:     models.StatusConnected,
		models.DeviceController: models.StatusDisconnected,
	}, hw.Status)
	assert.Equal(t, cfg.Actuator.Channels, hw.Actuator.Channels())
	assert.NoError(t, hw.Close())
}

func TestOpenNone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Actuator.Driver = "none"
	cfg.Sensor.Driver = "none"
	cfg.Controller.Driver = "none"

	hw := Open(cfg, zap.NewNop())
	for _, kind := range models.AllDeviceKinds() {
		assert.Equal(t, models.StatusDisconnected, hw.Status[kind], kind)
	}
	assert.ErrorIs(t, hw.Actuator.SetChannel(0, 90), ErrNotConnected)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"1", "0", "2"}, dedupe([]string{"1", "0", " 1", "2", "0"}))
}
