package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TelemetryTransport selects how the daemon republishes EngineState.
type TelemetryTransport string

const (
	TelemetryWebsocket TelemetryTransport = "websocket"
	TelemetryCAN       TelemetryTransport = "can"
	TelemetryBoth      TelemetryTransport = "both"
)

// RuntimeConfig is the daemon's own operating parameters, distinct from the
// vehicle's ProjectConfig (§9). Loaded once at start-up from YAML and never
// mutated, the same role sagostin-goefidash's server.Config plays for the
// dashboard process.
type RuntimeConfig struct {
	LogLevel  string             `yaml:"log_level"`
	Telemetry TelemetryTransport `yaml:"telemetry_transport"`

	ProjectBundlePath string `yaml:"project_bundle_path"`

	Websocket struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"websocket"`

	CAN struct {
		Interface string `yaml:"interface"`
		BaseID    uint32 `yaml:"base_id"`
	} `yaml:"can"`

	Bench struct {
		Enabled    bool   `yaml:"enabled"`
		SerialPort string `yaml:"serial_port"`
		BaudRate   int    `yaml:"baud_rate"`
	} `yaml:"bench"`
}

// DefaultRuntimeConfig mirrors goefidash's DefaultConfig: every field has a
// sane standalone-bench default so the daemon runs without a config file.
func DefaultRuntimeConfig() *RuntimeConfig {
	cfg := &RuntimeConfig{
		LogLevel:          "info",
		Telemetry:         TelemetryWebsocket,
		ProjectBundlePath: "project.json",
	}
	cfg.Websocket.ListenAddr = ":8090"
	cfg.CAN.Interface = "can0"
	cfg.CAN.BaseID = 0x500
	cfg.Bench.BaudRate = 115200
	return cfg
}

// LoadRuntimeConfig reads a RuntimeConfig from a YAML file, falling back to
// DefaultRuntimeConfig when path does not exist.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading runtime config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding runtime config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg back to path as YAML.
func (c *RuntimeConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encoding runtime config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
