// Package config loads the servo bridge configuration from a YAML file,
// an optional .env file and SERVOBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/servo-bridge/backend/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SERVOBRIDGE_SERVER_PORT.
const EnvPrefix = "SERVOBRIDGE"

// MaxChannels is the number of outputs on a PCA9685 bank.
const MaxChannels = 16

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        logger.Config    `mapstructure:"log" yaml:"log"`
	Actuator   ActuatorConfig   `mapstructure:"actuator" yaml:"actuator"`
	Sensor     SensorConfig     `mapstructure:"sensor" yaml:"sensor"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Poll       PollConfig       `mapstructure:"poll" yaml:"poll"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast" yaml:"broadcast"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port                 int    `mapstructure:"port" yaml:"port" default:"8080"`
	BindAddress          string `mapstructure:"bind_address" yaml:"bind_address" default:"0.0.0.0"`
	EnableCORS           bool   `mapstructure:"enable_cors" yaml:"enable_cors" default:"true"`
	AllowOrigins         string `mapstructure:"allow_origins" yaml:"allow_origins" default:"*"`
	ReadTimeout          int    `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds" default:"15"`
	WriteTimeout         int    `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds" default:"15"`
	IdleTimeout          int    `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds" default:"120"`
	BodyLimit            string `mapstructure:"body_limit" yaml:"body_limit" default:"64K"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging" yaml:"enable_request_logging" default:"true"`
}

// ActuatorConfig selects and tunes the PWM actuator bank.
type ActuatorConfig struct {
	// Driver is one of pca9685, maestro, simulated or none.
	Driver            string  `mapstructure:"driver" yaml:"driver" default:"pca9685"`
	Channels          int     `mapstructure:"channels" yaml:"channels" default:"4"`
	MinDegrees        float64 `mapstructure:"min_degrees" yaml:"min_degrees" default:"0"`
	MaxDegrees        float64 `mapstructure:"max_degrees" yaml:"max_degrees" default:"180"`
	InitialDegrees    float64 `mapstructure:"initial_degrees" yaml:"initial_degrees" default:"90"`
	SafeDegrees       float64 `mapstructure:"safe_degrees" yaml:"safe_degrees" default:"90"`
	ReleaseOnShutdown bool    `mapstructure:"release_on_shutdown" yaml:"release_on_shutdown" default:"true"`

	// PCA9685
	I2CBus        string   `mapstructure:"i2c_bus" yaml:"i2c_bus" default:"1"`
	FallbackBuses []string `mapstructure:"fallback_buses" yaml:"fallback_buses" default:"0,2"`
	Address       uint16   `mapstructure:"address" yaml:"address" default:"64"`
	FrequencyHz   int      `mapstructure:"frequency_hz" yaml:"frequency_hz" default:"50"`
	PulseMin      int      `mapstructure:"pulse_min" yaml:"pulse_min" default:"150"`
	PulseMax      int      `mapstructure:"pulse_max" yaml:"pulse_max" default:"600"`

	// Maestro
	SerialPort string `mapstructure:"serial_port" yaml:"serial_port" default:"/dev/ttyACM0"`
	BaudRate   int    `mapstructure:"baud_rate" yaml:"baud_rate" default:"9600"`
	PulseMinUS int    `mapstructure:"pulse_min_us" yaml:"pulse_min_us" default:"500"`
	PulseMaxUS int    `mapstructure:"pulse_max_us" yaml:"pulse_max_us" default:"2500"`
}

// SensorConfig selects and tunes the inertial sensor.
type SensorConfig struct {
	// Driver is one of mpu6050, simulated or none.
	Driver           string `mapstructure:"driver" yaml:"driver" default:"mpu6050"`
	I2CBus           string `mapstructure:"i2c_bus" yaml:"i2c_bus" default:"1"`
	Address          uint16 `mapstructure:"address" yaml:"address" default:"104"`
	ReadTimeoutMs    int    `mapstructure:"read_timeout_ms" yaml:"read_timeout_ms" default:"50"`
	FailureThreshold int    `mapstructure:"failure_threshold" yaml:"failure_threshold" default:"3"`
}

// ControllerConfig selects and tunes the game controller input.
type ControllerConfig struct {
	// Driver is one of evdev or none.
	Driver                   string   `mapstructure:"driver" yaml:"driver" default:"evdev"`
	DevicePath               string   `mapstructure:"device_path" yaml:"device_path" default:""`
	NameMatch                []string `mapstructure:"name_match" yaml:"name_match" default:"xbox,microsoft"`
	AxisMax                  int      `mapstructure:"axis_max" yaml:"axis_max" default:"32767"`
	TriggerMax               int      `mapstructure:"trigger_max" yaml:"trigger_max" default:"1023"`
	Deadzone                 float64  `mapstructure:"deadzone" yaml:"deadzone" default:"0.05"`
	NudgeStepDegrees         float64  `mapstructure:"nudge_step_degrees" yaml:"nudge_step_degrees" default:"5"`
	ReconnectIntervalSeconds int      `mapstructure:"reconnect_interval_seconds" yaml:"reconnect_interval_seconds" default:"5"`
	BufferSize               int      `mapstructure:"buffer_size" yaml:"buffer_size" default:"256"`
}

// PollConfig controls the hardware poll loop.
type PollConfig struct {
	IntervalMs int `mapstructure:"interval_ms" yaml:"interval_ms" default:"100"`
}

// BroadcastConfig controls telemetry delivery to stream clients.
type BroadcastConfig struct {
	IntervalMs         int `mapstructure:"interval_ms" yaml:"interval_ms" default:"100"`
	SendQueue          int `mapstructure:"send_queue" yaml:"send_queue" default:"16"`
	WriteTimeoutMs     int `mapstructure:"write_timeout_ms" yaml:"write_timeout_ms" default:"1000"`
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds" default:"0"`
	MaxMessageSizeKB   int `mapstructure:"max_message_size_kb" yaml:"max_message_size_kb" default:"64"`
}

// JournalConfig controls the persistent event journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" default:"true"`
	// Driver is sqlite or duckdb.
	Driver     string `mapstructure:"driver" yaml:"driver" default:"sqlite"`
	Path       string `mapstructure:"path" yaml:"path" default:"./data/journal.db"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size" default:"1024"`
	FlushMs    int    `mapstructure:"flush_ms" yaml:"flush_ms" default:"500"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" default:"true"`
	Path    string `mapstructure:"path" yaml:"path" default:"/metrics"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults come from struct tags; failing here is a programming error
		panic(fmt.Sprintf("config: invalid default tags: %v", err))
	}
	return cfg
}

// LoadConfig loads configuration from a YAML file. A missing file is
// created with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	// Ignore error if file doesn't exist
	_ = godotenv.Load(filepath.Join(filepath.Dir(configPath), ".env"))

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.resolvePaths(filepath.Dir(configPath))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	header := []byte("# servo-bridge configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, out...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	a := c.Actuator
	if a.Channels < 1 || a.Channels > MaxChannels {
		errs = append(errs, fmt.Errorf("actuator.channels must be between 1 and %d, got %d", MaxChannels, a.Channels))
	}
	if a.MinDegrees >= a.MaxDegrees {
		errs = append(errs, fmt.Errorf("actuator.min_degrees (%g) must be below max_degrees (%g)", a.MinDegrees, a.MaxDegrees))
	}
	if a.InitialDegrees < a.MinDegrees || a.InitialDegrees > a.MaxDegrees {
		errs = append(errs, fmt.Errorf("actuator.initial_degrees %g outside [%g, %g]", a.InitialDegrees, a.MinDegrees, a.MaxDegrees))
	}
	if a.SafeDegrees < a.MinDegrees || a.SafeDegrees > a.MaxDegrees {
		errs = append(errs, fmt.Errorf("actuator.safe_degrees %g outside [%g, %g]", a.SafeDegrees, a.MinDegrees, a.MaxDegrees))
	}
	if a.PulseMin >= a.PulseMax {
		errs = append(errs, errors.New("actuator.pulse_min must be below pulse_max"))
	}
	if a.PulseMinUS >= a.PulseMaxUS {
		errs = append(errs, errors.New("actuator.pulse_min_us must be below pulse_max_us"))
	}
	if !oneOf(a.Driver, "pca9685", "maestro", "simulated", "none") {
		errs = append(errs, fmt.Errorf("actuator.driver %q is not supported", a.Driver))
	}
	if !oneOf(c.Sensor.Driver, "mpu6050", "simulated", "none") {
		errs = append(errs, fmt.Errorf("sensor.driver %q is not supported", c.Sensor.Driver))
	}
	if !oneOf(c.Controller.Driver, "evdev", "none") {
		errs = append(errs, fmt.Errorf("controller.driver %q is not supported", c.Controller.Driver))
	}
	if c.Poll.IntervalMs <= 0 {
		errs = append(errs, errors.New("poll.interval_ms must be positive"))
	}
	if c.Broadcast.IntervalMs <= 0 {
		errs = append(errs, errors.New("broadcast.interval_ms must be positive"))
	}
	if c.Sensor.ReadTimeoutMs <= 0 || c.Sensor.ReadTimeoutMs >= c.Poll.IntervalMs {
		errs = append(errs, fmt.Errorf("sensor.read_timeout_ms (%d) must be positive and shorter than poll.interval_ms (%d)",
			c.Sensor.ReadTimeoutMs, c.Poll.IntervalMs))
	}
	if c.Sensor.FailureThreshold < 1 {
		errs = append(errs, errors.New("sensor.failure_threshold must be at least 1"))
	}
	if c.Broadcast.SendQueue < 1 {
		errs = append(errs, errors.New("broadcast.send_queue must be at least 1"))
	}
	if c.Journal.Enabled && !oneOf(c.Journal.Driver, "sqlite", "duckdb") {
		errs = append(errs, fmt.Errorf("journal.driver %q is not supported", c.Journal.Driver))
	}
	return errors.Join(errs...)
}

// Simulate switches every hardware driver to its simulated variant.
func (c *AppConfig) Simulate() {
	c.Actuator.Driver = "simulated"
	c.Sensor.Driver = "simulated"
	c.Controller.Driver = "none"
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// PollInterval returns the hardware poll period.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// BroadcastInterval returns the telemetry tick period.
func (c *AppConfig) BroadcastInterval() time.Duration {
	return time.Duration(c.Broadcast.IntervalMs) * time.Millisecond
}

// SensorReadTimeout bounds a single sensor transaction.
func (c *AppConfig) SensorReadTimeout() time.Duration {
	return time.Duration(c.Sensor.ReadTimeoutMs) * time.Millisecond
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if c.Journal.Path != "" && c.Journal.Path != ":memory:" && !filepath.IsAbs(c.Journal.Path) {
		c.Journal.Path = filepath.Join(configDir, c.Journal.Path)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	bindValues(v, AppConfig{}, "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindValues walks the struct and registers every mapstructure key with its
// `default` tag so AutomaticEnv can see it.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
