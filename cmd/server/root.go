package main

import (
	"fmt"

	"github.com/servo-bridge/backend/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configPath string
	simulate   bool
)

var rootCmd = &cobra.Command{
	Use:   "servo-bridge",
	Short: "Servo, IMU and game controller bridge server",
	Long: `servo-bridge drives a PWM servo bank, samples an IMU and maps a game
controller onto the servos, exposing everything over HTTP and a
WebSocket telemetry stream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "servo-bridge %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use simulated actuator and sensor, no controller")

	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if simulate {
		cfg.Simulate()
	}
	return cfg, nil
}
