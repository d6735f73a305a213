package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int             `yaml:"version"`
	Log       LogConfig       `yaml:"log"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Testing   TestingConfig   `yaml:"testing"`
	Serial    SerialConfig    `yaml:"serial"`
	Assets    AssetsConfig    `yaml:"assets"`
	Report    ReportConfig    `yaml:"report"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Remote    RemoteConfig    `yaml:"remote"`
}

// LogConfig controls log output
type LogConfig struct {
	Verbose bool `yaml:"verbose"`
	Debug   bool `yaml:"debug"`
	Quiet   bool `yaml:"quiet"`
	JSON    bool `yaml:"json"`
}

// ToolchainConfig holds arduino-cli settings
type ToolchainConfig struct {
	CLIPath string `yaml:"cli_path"`
	// Board is a board key or FQBN; empty means detect from the sketch name
	Board    string   `yaml:"board,omitempty"`
	BootWait Duration `yaml:"boot_wait"`
	TempDir  string   `yaml:"temp_dir,omitempty"`
}

// TierConfig bounds one discovery tier
type TierConfig struct {
	Timeout Duration `yaml:"timeout"`
	Budget  Duration `yaml:"budget"`
}

// TiersConfig holds the three discovery tiers
type TiersConfig struct {
	Known         TierConfig `yaml:"known"`
	Priority      TierConfig `yaml:"priority"`
	Comprehensive TierConfig `yaml:"comprehensive"`
}

// DiscoveryConfig holds network scan settings
type DiscoveryConfig struct {
	// Known addresses are probed before any generated candidate
	Known []string `yaml:"known,omitempty"`
	// Prefixes are extra three-octet subnets, e.g. "192.168.4"
	Prefixes        []string    `yaml:"prefixes,omitempty"`
	Port            int         `yaml:"port"`
	Workers         int         `yaml:"workers"`
	IdentifyTimeout Duration    `yaml:"identify_timeout"`
	Exhaustive      bool        `yaml:"exhaustive"`
	MDNS            bool        `yaml:"mdns"`
	MDNSWindow      Duration    `yaml:"mdns_window"`
	Nmap            bool        `yaml:"nmap"`
	Tiers           TiersConfig `yaml:"tiers"`
}

// TestingConfig bounds the functional matrix
type TestingConfig struct {
	Attempts    int      `yaml:"attempts"`
	Delay       Duration `yaml:"delay"`
	Timeout     Duration `yaml:"timeout"`
	PingTimeout Duration `yaml:"ping_timeout"`
}

// TimingConfig holds the upload protocol delays
type TimingConfig struct {
	OpenSettle    Duration `yaml:"open_settle"`
	CommandSettle Duration `yaml:"command_settle"`
	SizeSettle    Duration `yaml:"size_settle"`
	ChunkDelay    Duration `yaml:"chunk_delay"`
	FinalSettle   Duration `yaml:"final_settle"`
	AckTimeout    Duration `yaml:"ack_timeout"`
}

// SerialConfig holds serial provisioning settings
type SerialConfig struct {
	// Port is the device path; empty means auto-detect
	Port         string       `yaml:"port,omitempty"`
	Baud         int          `yaml:"baud"`
	ChunkSize    int          `yaml:"chunk_size"`
	OpenAttempts int          `yaml:"open_attempts"`
	Handshake    string       `yaml:"handshake"`
	Timing       TimingConfig `yaml:"timing"`
}

// AssetsConfig locates the files pushed to the device filesystem
type AssetsConfig struct {
	DataDir string `yaml:"data_dir"`
	// SourceDir holds user-maintained originals copied into DataDir
	SourceDir string `yaml:"source_dir,omitempty"`
}

// MQTTConfig holds the report broker settings
type MQTTConfig struct {
	Broker   string `yaml:"broker,omitempty"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// ReportConfig controls report output and sinks
type ReportConfig struct {
	// Path exports the report to a file; the extension picks the format
	Path    string     `yaml:"path,omitempty"`
	Format  string     `yaml:"format"`
	NoColor bool       `yaml:"no_color"`
	MQTT    MQTTConfig `yaml:"mqtt"`
}

// MetricsConfig holds the metrics endpoint
type MetricsConfig struct {
	// Listen enables /metrics on this address, e.g. ":9464"
	Listen string `yaml:"listen,omitempty"`
}

// RemoteConfig runs the toolchain on an SSH host the board is attached to
type RemoteConfig struct {
	Host       string   `yaml:"host,omitempty"`
	Port       int      `yaml:"port"`
	User       string   `yaml:"user,omitempty"`
	KeyPath    string   `yaml:"key_path,omitempty"`
	Password   string   `yaml:"password,omitempty"`
	Passphrase string   `yaml:"passphrase,omitempty"`
	Timeout    Duration `yaml:"timeout"`
}

// Enabled reports whether a remote host is configured
func (r RemoteConfig) Enabled() bool {
	return r.Host != ""
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
