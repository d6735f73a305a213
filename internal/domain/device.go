package domain

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Device HTTP endpoints
const (
	PathRoot        = "/"
	PathStatus      = "/api/status"
	PathSystem      = "/api/system"
	PathWiFi        = "/api/wifi"
	PathLEDToggle   = "/led/toggle"
	PathLEDOn       = "/led/on"
	PathLEDOff      = "/led/off"
	PathRelayToggle = "/relay/toggle"
	PathRelayOn     = "/relay/on"
	PathRelayOff    = "/relay/off"
)

// DeviceRecord is what a confirmed device reports about itself
type DeviceRecord struct {
	Address         NetworkAddress `json:"address" yaml:"address"`
	DeviceName      string         `json:"device_name" yaml:"device_name"`
	FirmwareVersion string         `json:"firmware_version" yaml:"firmware_version"`
	UptimeSeconds   int64          `json:"uptime_seconds" yaml:"uptime_seconds"`
	FreeHeapBytes   int64          `json:"free_heap_bytes" yaml:"free_heap_bytes"`
	WiFiRSSI        int            `json:"wifi_rssi" yaml:"wifi_rssi"`
	LEDState        bool           `json:"led_state" yaml:"led_state"`
	RelayState      bool           `json:"relay_state" yaml:"relay_state"`
	AnalogValue     int            `json:"analog_value" yaml:"analog_value"`
	ChipID          string         `json:"chip_id,omitempty" yaml:"chip_id,omitempty"`
	Endpoints       []string       `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// NewDeviceRecord creates an empty record for a confirmed address
func NewDeviceRecord(addr NetworkAddress) *DeviceRecord {
	return &DeviceRecord{Address: addr}
}

// DeviceRecordFromStatus builds a record from an /api/status body.
// Fields that are missing or of the wrong type keep their zero value; a body
// that is not a JSON object yields an empty record rather than an error.
func DeviceRecordFromStatus(addr NetworkAddress, body []byte) *DeviceRecord {
	rec := NewDeviceRecord(addr)

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return rec
	}

	rec.DeviceName = stringField(fields, "device_name")
	rec.FirmwareVersion = stringField(fields, "version")
	rec.UptimeSeconds = intField(fields, "uptime")
	rec.FreeHeapBytes = intField(fields, "free_heap")
	rec.WiFiRSSI = int(intField(fields, "wifi_rssi"))
	rec.LEDState = boolField(fields, "led_state")
	rec.RelayState = boolField(fields, "relay_state")
	rec.AnalogValue = int(intField(fields, "analog_value"))
	rec.ChipID = stringField(fields, "chip_id")
	if rec.ChipID == "" {
		if n := intField(fields, "chip_id"); n != 0 {
			rec.ChipID = strconv.FormatInt(n, 10)
		}
	}

	return rec
}

// AddEndpoint records a path as confirmed available
func (d *DeviceRecord) AddEndpoint(path string) {
	i := sort.SearchStrings(d.Endpoints, path)
	if i < len(d.Endpoints) && d.Endpoints[i] == path {
		return
	}
	d.Endpoints = append(d.Endpoints, "")
	copy(d.Endpoints[i+1:], d.Endpoints[i:])
	d.Endpoints[i] = path
}

// HasEndpoint reports whether a path was confirmed available
func (d *DeviceRecord) HasEndpoint(path string) bool {
	i := sort.SearchStrings(d.Endpoints, path)
	return i < len(d.Endpoints) && d.Endpoints[i] == path
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func intField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func boolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}
	return false
}
