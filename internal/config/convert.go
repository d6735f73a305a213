package config

import (
	"espdeploy/internal/command"
	"espdeploy/internal/device"
	"espdeploy/internal/discovery"
	"espdeploy/internal/domain"
	"espdeploy/internal/logging"
	"espdeploy/internal/probe"
	"espdeploy/internal/serial"
	"espdeploy/internal/toolchain"
)

// LoggingOptions maps log settings onto the logger
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Verbose: c.Log.Verbose,
		Debug:   c.Log.Debug,
		Quiet:   c.Log.Quiet,
		JSON:    c.Log.JSON,
		NoColor: c.Report.NoColor,
	}
}

// Board resolves the configured board; ok is false when it should be
// detected from the sketch instead
func (c *Config) Board() (toolchain.Board, bool) {
	if c.Toolchain.Board == "" {
		return toolchain.Board{}, false
	}
	return toolchain.LookupBoard(c.Toolchain.Board), true
}

// KnownAddresses parses discovery.known, applying discovery.port where an
// entry has no port of its own
func (c *Config) KnownAddresses() ([]domain.NetworkAddress, error) {
	out := make([]domain.NetworkAddress, 0, len(c.Discovery.Known))
	for _, s := range c.Discovery.Known {
		addr, err := domain.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		if c.Discovery.Port != 0 && addr.Port() == domain.DefaultHTTPPort && c.Discovery.Port != domain.DefaultHTTPPort {
			addr = addr.WithPort(c.Discovery.Port)
		}
		out = append(out, addr)
	}
	return out, nil
}

// TierPlan maps discovery settings onto the three tiers. MDNS and the nmap
// sweeper are attached by the caller since they need live resources.
func (c *Config) TierPlan() discovery.TierPlan {
	plan := discovery.DefaultTierPlan()
	t := c.Discovery.Tiers
	plan.Known = discovery.TierSettings{Timeout: t.Known.Timeout.Duration(), Budget: t.Known.Budget.Duration()}
	plan.Priority = discovery.TierSettings{Timeout: t.Priority.Timeout.Duration(), Budget: t.Priority.Budget.Duration()}
	plan.Comprehensive = discovery.TierSettings{Timeout: t.Comprehensive.Timeout.Duration(), Budget: t.Comprehensive.Budget.Duration()}
	if c.Discovery.Port != domain.DefaultHTTPPort {
		plan.Port = c.Discovery.Port
	}
	return plan
}

// ScannerConfig maps worker and identify settings
func (c *Config) ScannerConfig() discovery.Config {
	return discovery.Config{
		Workers:         c.Discovery.Workers,
		IdentifyTimeout: c.Discovery.IdentifyTimeout.Duration(),
	}
}

// HTTPOptions maps the per-endpoint retry policy
func (c *Config) HTTPOptions() probe.HTTPOptions {
	return probe.HTTPOptions{
		Timeout:  c.Testing.Timeout.Duration(),
		Attempts: c.Testing.Attempts,
		Delay:    c.Testing.Delay.Duration(),
	}
}

// TesterConfig maps the functional matrix settings
func (c *Config) TesterConfig() device.TesterConfig {
	tc := device.DefaultTesterConfig()
	tc.HTTP = c.HTTPOptions()
	tc.PingTimeout = c.Testing.PingTimeout.Duration()
	return tc
}

// ProvisionerConfig maps serial settings. The handshake was checked by Validate.
func (c *Config) ProvisionerConfig() serial.Config {
	handshake, _ := serial.ParseHandshake(c.Serial.Handshake)
	t := c.Serial.Timing
	return serial.Config{
		ChunkSize:    c.Serial.ChunkSize,
		Baud:         c.Serial.Baud,
		OpenAttempts: c.Serial.OpenAttempts,
		Handshake:    handshake,
		Timing: serial.Timing{
			OpenSettle:    t.OpenSettle.Duration(),
			CommandSettle: t.CommandSettle.Duration(),
			SizeSettle:    t.SizeSettle.Duration(),
			ChunkDelay:    t.ChunkDelay.Duration(),
			FinalSettle:   t.FinalSettle.Duration(),
			AckTimeout:    t.AckTimeout.Duration(),
		},
	}
}

// SSHConfig maps the remote build host
func (c *Config) SSHConfig() command.SSHConfig {
	return command.SSHConfig{
		Host:           c.Remote.Host,
		Port:           c.Remote.Port,
		User:           c.Remote.User,
		Password:       c.Remote.Password,
		PrivateKeyPath: c.Remote.KeyPath,
		Passphrase:     c.Remote.Passphrase,
		Timeout:        c.Remote.Timeout.Duration(),
	}
}
