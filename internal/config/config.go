// Package config provides configuration management for espdeploy.
//
// Settings come from a YAML file, then ESPDEPLOY_* environment variables and
// command line flags layered on top through viper.
//
// Config file locations (priority order):
//  1. $ESPDEPLOY_CONFIG
//  2. ./espdeploy.yaml
//  3. $XDG_CONFIG_HOME/espdeploy/config.yaml
//  4. ~/.config/espdeploy/config.yaml
//  5. /etc/espdeploy/config.yaml
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"espdeploy/internal/domain"
	"espdeploy/internal/serial"
	"espdeploy/internal/toolchain"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}

	setString(&c.Toolchain.CLIPath, toolchain.DefaultCLI)
	setDuration(&c.Toolchain.BootWait, 5*time.Second)

	d := &c.Discovery
	setInt(&d.Port, domain.DefaultHTTPPort)
	setInt(&d.Workers, 16)
	setDuration(&d.IdentifyTimeout, 3*time.Second)
	setDuration(&d.MDNSWindow, 1500*time.Millisecond)
	setDuration(&d.Tiers.Known.Timeout, 500*time.Millisecond)
	setDuration(&d.Tiers.Known.Budget, 3*time.Second)
	setDuration(&d.Tiers.Priority.Timeout, 1500*time.Millisecond)
	setDuration(&d.Tiers.Priority.Budget, 5*time.Second)
	setDuration(&d.Tiers.Comprehensive.Timeout, 800*time.Millisecond)
	setDuration(&d.Tiers.Comprehensive.Budget, 7*time.Second)

	setInt(&c.Testing.Attempts, 3)
	setDuration(&c.Testing.Delay, 300*time.Millisecond)
	setDuration(&c.Testing.Timeout, 2*time.Second)
	setDuration(&c.Testing.PingTimeout, 2*time.Second)

	s := &c.Serial
	setInt(&s.Baud, serial.BaudESP8266)
	setInt(&s.ChunkSize, 512)
	setInt(&s.OpenAttempts, 5)
	setString(&s.Handshake, string(serial.HandshakeDelay))
	timing := serial.DefaultTiming()
	setDuration(&s.Timing.OpenSettle, timing.OpenSettle)
	setDuration(&s.Timing.CommandSettle, timing.CommandSettle)
	setDuration(&s.Timing.SizeSettle, timing.SizeSettle)
	setDuration(&s.Timing.ChunkDelay, timing.ChunkDelay)
	setDuration(&s.Timing.FinalSettle, timing.FinalSettle)
	setDuration(&s.Timing.AckTimeout, timing.AckTimeout)

	setString(&c.Assets.DataDir, "data")

	setString(&c.Report.Format, "json")
	setString(&c.Report.MQTT.Topic, "espdeploy/reports")
	setString(&c.Report.MQTT.ClientID, "espdeploy")

	setInt(&c.Remote.Port, 22)
	setDuration(&c.Remote.Timeout, 10*time.Second)
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	if _, err := serial.ParseHandshake(c.Serial.Handshake); err != nil {
		return err
	}
	if c.Serial.ChunkSize <= 0 {
		return &domain.ConfigurationError{What: fmt.Sprintf("serial.chunk_size must be positive, got %d", c.Serial.ChunkSize)}
	}
	if c.Serial.Baud <= 0 {
		return &domain.ConfigurationError{What: fmt.Sprintf("serial.baud must be positive, got %d", c.Serial.Baud)}
	}
	if c.Discovery.Workers <= 0 {
		return &domain.ConfigurationError{What: fmt.Sprintf("discovery.workers must be positive, got %d", c.Discovery.Workers)}
	}
	if c.Testing.Attempts <= 0 {
		return &domain.ConfigurationError{What: fmt.Sprintf("testing.attempts must be positive, got %d", c.Testing.Attempts)}
	}
	if c.Report.MQTT.QoS < 0 || c.Report.MQTT.QoS > 2 {
		return &domain.ConfigurationError{What: fmt.Sprintf("report.mqtt.qos must be 0, 1 or 2, got %d", c.Report.MQTT.QoS)}
	}
	switch c.Report.Format {
	case "json", "yaml", "yml":
	default:
		return &domain.ConfigurationError{What: fmt.Sprintf("report.format must be json or yaml, got %q", c.Report.Format)}
	}
	if _, err := c.KnownAddresses(); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *Duration, def time.Duration) {
	if *dst == 0 {
		*dst = Duration(def)
	}
}
