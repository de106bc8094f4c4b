package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pca9685", cfg.Actuator.Driver)
	assert.Equal(t, 4, cfg.Actuator.Channels)
	assert.Equal(t, 0.0, cfg.Actuator.MinDegrees)
	assert.Equal(t, 180.0, cfg.Actuator.MaxDegrees)
	assert.Equal(t, 90.0, cfg.Actuator.InitialDegrees)
	assert.Equal(t, uint16(0x40), cfg.Actuator.Address)
	assert.Equal(t, []string{"0", "2"}, cfg.Actuator.FallbackBuses)
	assert.Equal(t, uint16(0x68), cfg.Sensor.Address)
	assert.Equal(t, 3, cfg.Sensor.FailureThreshold)
	assert.Equal(t, []string{"xbox", "microsoft"}, cfg.Controller.NameMatch)
	assert.Equal(t, 100, cfg.Poll.IntervalMs)
	assert.Equal(t, 100, cfg.Broadcast.IntervalMs)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servo-bridge.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")
	assert.Equal(t, 4, cfg.Actuator.Channels)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "journal.db"), cfg.Journal.Path)

	// Reloading the generated file yields the same settings.
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servo-bridge.yaml")
	content := []byte(`
actuator:
  driver: simulated
  channels: 16
  max_degrees: 270
sensor:
  driver: none
poll:
  interval_ms: 200
`)
	require.NoError(t, os.WriteFile(path, content, 0644))
	t.Setenv("SERVOBRIDGE_SERVER_PORT", "9090")
	t.Setenv("SERVOBRIDGE_BROADCAST_INTERVAL_MS", "250")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "simulated", cfg.Actuator.Driver)
	assert.Equal(t, 16, cfg.Actuator.Channels)
	assert.Equal(t, 270.0, cfg.Actuator.MaxDegrees)
	assert.Equal(t, "none", cfg.Sensor.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Broadcast.IntervalMs)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddr())
	// untouched keys keep defaults
	assert.Equal(t, 90.0, cfg.Actuator.InitialDegrees)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"too many channels", func(c *AppConfig) { c.Actuator.Channels = 17 }, "actuator.channels"},
		{"no channels", func(c *AppConfig) { c.Actuator.Channels = 0 }, "actuator.channels"},
		{"inverted range", func(c *AppConfig) { c.Actuator.MinDegrees = 180; c.Actuator.MaxDegrees = 0 }, "min_degrees"},
		{"initial outside range", func(c *AppConfig) { c.Actuator.InitialDegrees = 200 }, "initial_degrees"},
		{"unknown actuator driver", func(c *AppConfig) { c.Actuator.Driver = "gpio" }, "actuator.driver"},
		{"sensor timeout not shorter than poll", func(c *AppConfig) { c.Sensor.ReadTimeoutMs = 100 }, "read_timeout_ms"},
		{"zero threshold", func(c *AppConfig) { c.Sensor.FailureThreshold = 0 }, "failure_threshold"},
		{"unknown journal driver", func(c *AppConfig) { c.Journal.Driver = "postgres" }, "journal.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSimulate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulate()
	assert.Equal(t, "simulated", cfg.Actuator.Driver)
	assert.Equal(t, "simulated", cfg.Sensor.Driver)
	assert.Equal(t, "none", cfg.Controller.Driver)
	assert.NoError(t, cfg.Validate())
}
