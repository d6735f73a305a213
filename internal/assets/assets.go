// Package assets prepares the files pushed into the board's flash filesystem:
// the WiFi configuration document and the dashboard page.
package assets

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"

	"espdeploy/internal/domain"
)

// File names inside the data directory
const (
	ConfigFile = "wifi_config.json"
	HTMLFile   = "arduino.html"
)

// Placeholder credentials written into a fresh config
const (
	PlaceholderSSID     = "YOUR_WIFI_SSID"
	PlaceholderPassword = "YOUR_WIFI_PASSWORD"
)

// largeHTML is the size above which the page is worth minifying
const largeHTML = 64 << 10

//go:embed fallback.html
var fallbackHTML []byte

// DeviceConfig is the document the firmware reads from /wifi_config.json
type DeviceConfig struct {
	WiFi struct {
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	} `json:"wifi"`
	Device struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Port    int    `json:"port"`
	} `json:"device"`
	Sensors struct {
		Interval  int  `json:"interval"`
		AutoRelay bool `json:"auto_relay"`
	} `json:"sensors"`
	Pins map[string]any `json:"pins"`
}

// DefaultDeviceConfig returns the starter configuration
func DefaultDeviceConfig() DeviceConfig {
	var c DeviceConfig
	c.WiFi.SSID = PlaceholderSSID
	c.WiFi.Password = PlaceholderPassword
	c.Device.Name = "ESP8266-Complete"
	c.Device.Version = "1.0.0"
	c.Device.Port = 80
	c.Sensors.Interval = 5000
	c.Pins = map[string]any{
		"led":    "LED_BUILTIN",
		"relay":  12,
		"button": 0,
		"sensor": 14,
		"pwm":    13,
		"analog": "A0",
	}
	return c
}

// Manager owns a data directory and an optional source directory whose
// arduino.html and wifi_config.json are copied in when present
type Manager struct {
	DataDir   string
	SourceDir string
	log       logr.Logger
}

// NewManager creates a manager for dataDir
func NewManager(dataDir, sourceDir string, log logr.Logger) *Manager {
	return &Manager{DataDir: dataDir, SourceDir: sourceDir, log: log}
}

// ConfigPath returns the prepared config file path
func (m *Manager) ConfigPath() string {
	return filepath.Join(m.DataDir, ConfigFile)
}

// HTMLPath returns the prepared page path
func (m *Manager) HTMLPath() string {
	return filepath.Join(m.DataDir, HTMLFile)
}

// Prepared lists what Prepare wrote
type Prepared struct {
	ConfigPath string
	HTMLPath   string
	Created    []string
	Fallback   bool
}

// Prepare fills the data directory. Existing files are never overwritten;
// missing ones are copied from the source directory or generated.
func (m *Manager) Prepare() (*Prepared, error) {
	if err := os.MkdirAll(m.DataDir, 0o755); err != nil {
		return nil, &domain.ConfigurationError{What: "data directory " + m.DataDir, Err: err}
	}

	out := &Prepared{ConfigPath: m.ConfigPath(), HTMLPath: m.HTMLPath()}

	created, err := m.ensure(out.ConfigPath, ConfigFile, func() ([]byte, error) {
		return json.MarshalIndent(DefaultDeviceConfig(), "", "  ")
	})
	if err != nil {
		return nil, err
	}
	if created {
		out.Created = append(out.Created, out.ConfigPath)
		m.log.Info("Created default WiFi config, edit it with your credentials", "path", out.ConfigPath)
	}

	created, err = m.ensure(out.HTMLPath, HTMLFile, func() ([]byte, error) {
		out.Fallback = true
		return fallbackHTML, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		out.Created = append(out.Created, out.HTMLPath)
		if out.Fallback {
			m.log.Info("Dashboard page not found, using fallback page", "path", out.HTMLPath)
		}
	}

	if info, err := os.Stat(out.HTMLPath); err == nil && info.Size() > largeHTML {
		m.log.Info("Dashboard page is large, consider minifying", "size", humanize.IBytes(uint64(info.Size())))
	}
	return out, nil
}

// ensure writes path when absent, preferring a copy from the source directory
func (m *Manager) ensure(path, name string, generate func() ([]byte, error)) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, &domain.ConfigurationError{What: path, Err: err}
	}

	if m.SourceDir != "" {
		src := filepath.Join(m.SourceDir, name)
		if _, err := os.Stat(src); err == nil {
			if err := copyFile(src, path); err != nil {
				return false, &domain.ConfigurationError{What: "copy " + src, Err: err}
			}
			m.log.V(1).Info("Copied asset", "from", src, "to", path)
			return true, nil
		}
	}

	data, err := generate()
	if err != nil {
		return false, fmt.Errorf("generate %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, &domain.ConfigurationError{What: path, Err: err}
	}
	return true, nil
}

// Issue is one validation finding
type Issue struct {
	Path    string
	Message string
	// Fatal issues block provisioning; others are warnings
	Fatal bool
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Validate checks both files exist and the config names a WiFi network.
// It returns a ConfigurationError when any fatal issue is found.
func (m *Manager) Validate() ([]Issue, error) {
	var issues []Issue

	html, err := os.Stat(m.HTMLPath())
	switch {
	case err != nil:
		issues = append(issues, Issue{Path: m.HTMLPath(), Message: "not found, run `espdeploy assets init`", Fatal: true})
	case html.Size() == 0:
		issues = append(issues, Issue{Path: m.HTMLPath(), Message: "file is empty", Fatal: true})
	case html.Size() > largeHTML:
		issues = append(issues, Issue{Path: m.HTMLPath(), Message: "large page (" + humanize.IBytes(uint64(html.Size())) + "), consider minifying"})
	}

	raw, err := os.ReadFile(m.ConfigPath())
	if err != nil {
		issues = append(issues, Issue{Path: m.ConfigPath(), Message: "not found, run `espdeploy assets init`", Fatal: true})
	} else {
		issues = append(issues, checkConfig(m.ConfigPath(), raw)...)
	}

	for _, i := range issues {
		if i.Fatal {
			return issues, &domain.ConfigurationError{What: "assets in " + m.DataDir + ": " + i.String()}
		}
	}
	return issues, nil
}

func checkConfig(path string, raw []byte) []Issue {
	var doc struct {
		WiFi *struct {
			SSID *string `json:"ssid"`
		} `json:"wifi"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Issue{{Path: path, Message: "invalid JSON: " + err.Error(), Fatal: true}}
	}
	if doc.WiFi == nil || doc.WiFi.SSID == nil {
		return []Issue{{Path: path, Message: "missing wifi.ssid", Fatal: true}}
	}
	if *doc.WiFi.SSID == PlaceholderSSID || *doc.WiFi.SSID == "" {
		return []Issue{{Path: path, Message: "wifi.ssid is still the placeholder"}}
	}
	return nil
}

// Troubleshooting returns guidance for failed filesystem uploads
func Troubleshooting() []string {
	return []string{
		"If the upload fails:",
		"- Make sure the correct board is selected",
		"- Check that no serial monitor is holding the port",
		"- Hold the BOOT button if the board does not respond",
		"- Try a lower upload speed (115200 or 57600)",
		"",
		"If the file is not found after upload:",
		"- Check the serial console for filesystem messages",
		"- Verify the device path is /arduino.html, not /data/arduino.html",
		"- Reformat the filesystem from the sketch with SPIFFS.format()",
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
