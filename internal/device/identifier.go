// Package device confirms ESP8266 firmware identity and exercises the device's
// HTTP API.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"espdeploy/internal/domain"
	"espdeploy/internal/probe"
)

// Telemetry keys the firmware reports next to device_name. A body with only
// an identity key is not enough to confirm a device.
var telemetryKeys = []string{"uptime", "free_heap", "wifi_rssi", "chip_id"}

// Product markers matched against the root page when /api/status is unavailable
var pageMarkers = [][]byte{
	[]byte("ESP8266"),
	[]byte("NodeMCU"),
	[]byte("ESP32"),
}

// Method names how a device was confirmed
type Method string

const (
	MethodStatus   Method = "status"
	MethodRootPage Method = "root-page"
)

// Identification is a confirmed identity
type Identification struct {
	Record *domain.DeviceRecord
	Method Method
}

// Identifier decides whether an address hosts the expected firmware
type Identifier struct {
	engine  *probe.Engine
	timeout time.Duration
	log     logr.Logger
}

// NewIdentifier creates an identifier with a per-request timeout
func NewIdentifier(engine *probe.Engine, timeout time.Duration, log logr.Logger) *Identifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Identifier{engine: engine, timeout: timeout, log: log}
}

// Identify checks the status endpoint, falling back to the root page only when
// the status endpoint cannot be reached. Returns IdentityMismatchError for a
// reachable host that does not match and ConnectivityError when nothing answers.
func (i *Identifier) Identify(ctx context.Context, addr domain.NetworkAddress) (*Identification, error) {
	opts := probe.HTTPOptions{Timeout: i.timeout, Attempts: 1}

	resp, err := i.engine.Get(ctx, addr.URL(domain.PathStatus), opts)
	if err == nil {
		if !MatchesStatus(resp.Body) {
			return nil, &domain.IdentityMismatchError{
				Address: addr.String(),
				Reason:  "status response lacks device_name and firmware telemetry",
			}
		}
		rec := domain.DeviceRecordFromStatus(addr, resp.Body)
		rec.AddEndpoint(domain.PathStatus)
		i.log.V(1).Info("Device confirmed via status endpoint", "address", addr.String(), "name", rec.DeviceName)
		return &Identification{Record: rec, Method: MethodStatus}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	i.log.V(2).Info("Status endpoint unreachable, checking root page", "address", addr.String(), "error", err.Error())

	page, pageErr := i.engine.Get(ctx, addr.URL(domain.PathRoot), opts)
	if pageErr != nil {
		var connErr *domain.ConnectivityError
		if errors.As(pageErr, &connErr) {
			return nil, pageErr
		}
		return nil, &domain.ConnectivityError{Address: addr.String(), Err: pageErr}
	}
	if !MatchesPage(page.Body) {
		return nil, &domain.IdentityMismatchError{
			Address: addr.String(),
			Reason:  "root page has no ESP8266 product marker",
		}
	}

	rec := domain.NewDeviceRecord(addr)
	rec.AddEndpoint(domain.PathRoot)
	i.log.V(1).Info("Device confirmed via root page", "address", addr.String())
	return &Identification{Record: rec, Method: MethodRootPage}, nil
}

// MatchesStatus reports whether a status body is a JSON object with a
// non-empty device_name and at least one firmware telemetry key. Values are
// never inspected for markers.
func MatchesStatus(body []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}

	var name string
	if err := json.Unmarshal(fields["device_name"], &name); err != nil || strings.TrimSpace(name) == "" {
		return false
	}
	for _, key := range telemetryKeys {
		if v, ok := fields[key]; ok && string(v) != "null" {
			return true
		}
	}
	return false
}

// MatchesPage reports whether a root page mentions a known product
func MatchesPage(body []byte) bool {
	for _, m := range pageMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}
