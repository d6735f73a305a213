package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ESPDEPLOY_SERIAL_PORT
const EnvPrefix = "ESPDEPLOY"

// NewViper returns a viper instance reading ESPDEPLOY_* variables. Keys use
// the YAML paths, e.g. "serial.port"; callers bind flags onto the same keys.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v over the loaded file values
func (c *Config) ApplyOverrides(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	dur := func(key string, dst *Duration) {
		if v.IsSet(key) {
			*dst = Duration(v.GetDuration(key))
		}
	}
	list := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = splitList(v.GetStringSlice(key))
		}
	}

	flag("log.verbose", &c.Log.Verbose)
	flag("log.debug", &c.Log.Debug)
	flag("log.quiet", &c.Log.Quiet)
	flag("log.json", &c.Log.JSON)

	str("toolchain.cli_path", &c.Toolchain.CLIPath)
	str("toolchain.board", &c.Toolchain.Board)
	dur("toolchain.boot_wait", &c.Toolchain.BootWait)
	str("toolchain.temp_dir", &c.Toolchain.TempDir)

	list("discovery.known", &c.Discovery.Known)
	list("discovery.prefixes", &c.Discovery.Prefixes)
	num("discovery.port", &c.Discovery.Port)
	num("discovery.workers", &c.Discovery.Workers)
	dur("discovery.identify_timeout", &c.Discovery.IdentifyTimeout)
	flag("discovery.exhaustive", &c.Discovery.Exhaustive)
	flag("discovery.mdns", &c.Discovery.MDNS)
	dur("discovery.mdns_window", &c.Discovery.MDNSWindow)
	flag("discovery.nmap", &c.Discovery.Nmap)

	num("testing.attempts", &c.Testing.Attempts)
	dur("testing.delay", &c.Testing.Delay)
	dur("testing.timeout", &c.Testing.Timeout)

	str("serial.port", &c.Serial.Port)
	num("serial.baud", &c.Serial.Baud)
	num("serial.chunk_size", &c.Serial.ChunkSize)
	str("serial.handshake", &c.Serial.Handshake)

	str("assets.data_dir", &c.Assets.DataDir)
	str("assets.source_dir", &c.Assets.SourceDir)

	str("report.path", &c.Report.Path)
	str("report.format", &c.Report.Format)
	flag("report.no_color", &c.Report.NoColor)
	str("report.mqtt.broker", &c.Report.MQTT.Broker)
	str("report.mqtt.topic", &c.Report.MQTT.Topic)
	str("report.mqtt.username", &c.Report.MQTT.Username)
	str("report.mqtt.password", &c.Report.MQTT.Password)

	str("metrics.listen", &c.Metrics.Listen)

	str("remote.host", &c.Remote.Host)
	num("remote.port", &c.Remote.Port)
	str("remote.user", &c.Remote.User)
	str("remote.key_path", &c.Remote.KeyPath)
	str("remote.password", &c.Remote.Password)
}

// splitList accepts both repeated values and comma separated env values
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
