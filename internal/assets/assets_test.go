package assets

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"espdeploy/internal/domain"
)

func TestPrepareGeneratesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	m := NewManager(dir, "", logr.Discard())

	p, err := m.Prepare()
	require.NoError(t, err)
	assert.True(t, p.Fallback)
	assert.ElementsMatch(t, []string{m.ConfigPath(), m.HTMLPath()}, p.Created)

	raw, err := os.ReadFile(m.ConfigPath())
	require.NoError(t, err)
	var cfg DeviceConfig
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, PlaceholderSSID, cfg.WiFi.SSID)
	assert.Equal(t, "ESP8266-Complete", cfg.Device.Name)
	assert.Equal(t, 5000, cfg.Sensors.Interval)
	assert.Equal(t, 12.0, cfg.Pins["relay"])

	html, err := os.ReadFile(m.HTMLPath())
	require.NoError(t, err)
	assert.Contains(t, string(html), "/api/status")
}

func TestPrepareKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`{"wifi":{"ssid":"home"}}`), 0o644))

	m := NewManager(dir, "", logr.Discard())
	p, err := m.Prepare()
	require.NoError(t, err)
	assert.Equal(t, []string{m.HTMLPath()}, p.Created)

	raw, _ := os.ReadFile(m.ConfigPath())
	assert.JSONEq(t, `{"wifi":{"ssid":"home"}}`, string(raw))
}

func TestPrepareCopiesFromSource(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, HTMLFile), []byte("<h1>custom</h1>"), 0o644))

	m := NewManager(filepath.Join(t.TempDir(), "data"), src, logr.Discard())
	p, err := m.Prepare()
	require.NoError(t, err)
	assert.False(t, p.Fallback)

	html, _ := os.ReadFile(m.HTMLPath())
	assert.Equal(t, "<h1>custom</h1>", string(html))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		html      string
		wantFatal bool
		wantWarn  bool
	}{
		{name: "valid", config: `{"wifi":{"ssid":"home","password":"x"}}`, html: "<html></html>"},
		{name: "placeholder ssid warns", config: `{"wifi":{"ssid":"YOUR_WIFI_SSID"}}`, html: "<html></html>", wantWarn: true},
		{name: "missing ssid", config: `{"wifi":{}}`, html: "<html></html>", wantFatal: true},
		{name: "missing wifi", config: `{"device":{"name":"x"}}`, html: "<html></html>", wantFatal: true},
		{name: "invalid json", config: `{"wifi":`, html: "<html></html>", wantFatal: true},
		{name: "empty page", config: `{"wifi":{"ssid":"home"}}`, html: "", wantFatal: true},
		{name: "missing config", html: "<html></html>", wantFatal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.config != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte(tt.config), 0o644))
			}
			require.NoError(t, os.WriteFile(filepath.Join(dir, HTMLFile), []byte(tt.html), 0o644))

			issues, err := NewManager(dir, "", logr.Discard()).Validate()
			if tt.wantFatal {
				var cfgErr *domain.ConfigurationError
				assert.True(t, errors.As(err, &cfgErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			if tt.wantWarn {
				require.Len(t, issues, 1)
				assert.False(t, issues[0].Fatal)
			} else {
				assert.Empty(t, issues)
			}
		})
	}
}

func TestValidateMissingDir(t *testing.T) {
	issues, err := NewManager(filepath.Join(t.TempDir(), "nope"), "", logr.Discard()).Validate()
	assert.Error(t, err)
	assert.Len(t, issues, 2)
}

func TestPreparedFilesValidate(t *testing.T) {
	m := NewManager(t.TempDir(), "", logr.Discard())
	_, err := m.Prepare()
	require.NoError(t, err)

	issues, err := m.Validate()
	require.NoError(t, err)
	require.Len(t, issues, 1, "placeholder ssid is only a warning")
}

func TestTroubleshooting(t *testing.T) {
	lines := Troubleshooting()
	assert.NotEmpty(t, lines)
	assert.Contains(t, lines, "- Verify the device path is /arduino.html, not /data/arduino.html")
}
