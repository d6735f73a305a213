package device

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"espdeploy/internal/domain"
	"espdeploy/internal/probe"
)

const statusBody = `{"device_name":"ESP-Test","version":"1.4.0","uptime":120,"free_heap":30000,` +
	`"wifi_rssi":-58,"led_state":true,"relay_state":false,"analog_value":17}`

// fakeDevice emulates the firmware's web server
type fakeDevice struct {
	routes    map[string]http.HandlerFunc
	wifiCalls int32
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{routes: map[string]http.HandlerFunc{}}
	d.routes[domain.PathRoot] = text("<html><h1>ESP8266 Control Panel</h1></html>")
	d.routes[domain.PathStatus] = text(statusBody)
	d.routes[domain.PathSystem] = text(`{"chip_id":1458400,"flash_size":4194304}`)
	d.routes[domain.PathWiFi] = text(`{"ssid":"home","rssi":-58}`)
	d.routes[domain.PathLEDToggle] = text("LED toggled")
	d.routes[domain.PathRelayToggle] = text("Relay toggled")
	d.routes[domain.PathLEDOn] = text("LED ON")
	d.routes[domain.PathRelayOff] = text("Relay OFF")
	return d
}

func text(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == domain.PathWiFi {
		atomic.AddInt32(&d.wifiCalls, 1)
	}
	h, ok := d.routes[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func start(t *testing.T, h http.Handler) domain.NetworkAddress {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	addr, err := domain.ParseAddress(srv.Listener.Addr().String())
	require.NoError(t, err)
	return addr
}

func testEngine() *probe.Engine {
	return probe.New()
}

func fastTesterConfig() TesterConfig {
	return TesterConfig{
		HTTP:        probe.HTTPOptions{Timeout: 150 * time.Millisecond, Attempts: 3, Delay: 5 * time.Millisecond},
		ConnectWait: 200 * time.Millisecond,
		PingTimeout: time.Second,
		MaxResponse: 2048,
	}
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name       string
		routes     map[string]http.HandlerFunc
		wantMethod Method
		wantName   string
		wantErr    interface{}
	}{
		{
			name: "status with identity and telemetry",
			routes: map[string]http.HandlerFunc{
				domain.PathStatus: text(`{"device_name":"ESP-Test","free_heap":30000}`),
			},
			wantMethod: MethodStatus,
			wantName:   "ESP-Test",
		},
		{
			name: "identity field alone is rejected",
			routes: map[string]http.HandlerFunc{
				domain.PathStatus: text(`{"device_name":"printer","state":"idle"}`),
				domain.PathRoot:   text("ESP8266"),
			},
			wantErr: &domain.IdentityMismatchError{},
		},
		{
			name: "product name in the identity value is not telemetry",
			routes: map[string]http.HandlerFunc{
				domain.PathStatus: text(`{"device_name":"ESP8266 print server"}`),
			},
			wantErr: &domain.IdentityMismatchError{},
		},
		{
			name: "generic server mentioning device",
			routes: map[string]http.HandlerFunc{
				domain.PathStatus: text(`{"device":"router","uptime":5}`),
			},
			wantErr: &domain.IdentityMismatchError{},
		},
		{
			name: "root page fallback when status missing",
			routes: map[string]http.HandlerFunc{
				domain.PathRoot: text("<title>NodeMCU dashboard</title>"),
			},
			wantMethod: MethodRootPage,
		},
		{
			name: "root page without marker",
			routes: map[string]http.HandlerFunc{
				domain.PathRoot: text("<title>Welcome to nginx</title>"),
			},
			wantErr: &domain.IdentityMismatchError{},
		},
		{
			name:    "nothing answers",
			routes:  map[string]http.HandlerFunc{},
			wantErr: &domain.ConnectivityError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDevice{routes: tt.routes}
			addr := start(t, d)
			id := NewIdentifier(testEngine(), time.Second, logr.Discard())

			got, err := id.Identify(context.Background(), addr)
			switch want := tt.wantErr.(type) {
			case *domain.IdentityMismatchError:
				require.Error(t, err)
				assert.True(t, errors.As(err, &want), "got %T: %v", err, err)
				assert.Nil(t, got)
			case *domain.ConnectivityError:
				require.Error(t, err)
				assert.True(t, errors.As(err, &want), "got %T: %v", err, err)
				assert.Nil(t, got)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantMethod, got.Method)
				assert.Equal(t, tt.wantName, got.Record.DeviceName)
				assert.Equal(t, addr, got.Record.Address)
			}
		})
	}
}

func TestIdentifyNeverFromTCPAlone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	addr := domain.MustParseAddress(ln.Addr().String())
	id := NewIdentifier(testEngine(), 200*time.Millisecond, logr.Discard())
	got, err := id.Identify(context.Background(), addr)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestMatchesStatus(t *testing.T) {
	assert.True(t, MatchesStatus([]byte(`{"device_name":"x","uptime":1}`)))
	assert.True(t, MatchesStatus([]byte(`{"device_name":"x","chip_id":99}`)))
	assert.True(t, MatchesStatus([]byte(`{"device_name":"x","wifi_rssi":-60}`)))
	assert.False(t, MatchesStatus([]byte(`{"device_name":"x"}`)))
	assert.False(t, MatchesStatus([]byte(`{"free_heap":1}`)))
	assert.False(t, MatchesStatus([]byte(`{"device_name":"x","board":"ESP8266"}`)))
	assert.False(t, MatchesStatus([]byte(`{"device_name":"ESP8266-Complete"}`)))
	assert.False(t, MatchesStatus([]byte(`{"device_name":"printer","description":"shows uptime on its LCD"}`)))
	assert.False(t, MatchesStatus([]byte(`{"device_name":"","uptime":5}`)))
	assert.False(t, MatchesStatus([]byte(`{"device_name":42,"uptime":5}`)))
	assert.False(t, MatchesStatus([]byte(`{"device_name":"x","uptime":null}`)))
	assert.False(t, MatchesStatus([]byte(`device_name=esp uptime=5`)))
	assert.False(t, MatchesStatus([]byte(`["device_name","uptime"]`)))
}

func TestTesterFullMatrix(t *testing.T) {
	addr := start(t, newFakeDevice())
	tester := NewTester(testEngine(), fastTesterConfig(), nil, logr.Discard())

	r := tester.Test(context.Background(), addr)
	assert.True(t, r.PingSuccess)
	assert.True(t, r.MainPageAccessible)
	assert.True(t, r.Status.Success)
	assert.True(t, r.Status.ValidJSON)
	assert.False(t, r.MainPage.ValidJSON)
	assert.True(t, r.System.Success)
	assert.True(t, r.WiFi.Success)
	assert.True(t, r.LEDControlOK)
	assert.True(t, r.RelayControlOK)
	assert.True(t, r.IsFullyFunctional())

	require.NotNil(t, r.DeviceStatus)
	assert.Equal(t, "ESP-Test", r.DeviceStatus.DeviceName)
	assert.Equal(t, "1.4.0", r.DeviceStatus.FirmwareVersion)
	assert.Equal(t, int64(30000), r.DeviceStatus.FreeHeapBytes)
	assert.Equal(t, -58, r.DeviceStatus.WiFiRSSI)
	assert.True(t, r.DeviceStatus.LEDState)
	assert.Equal(t, 17, r.DeviceStatus.AnalogValue)
	assert.True(t, r.DeviceStatus.HasEndpoint(domain.PathRelayToggle))
}

// A wifi endpoint that times out on every attempt is reported as failed but
// does not affect the aggregate verdict.
func TestTesterWiFiTimeoutStillFunctional(t *testing.T) {
	d := newFakeDevice()
	d.routes[domain.PathWiFi] = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	addr := start(t, d)
	tester := NewTester(testEngine(), fastTesterConfig(), nil, logr.Discard())

	r := tester.Test(context.Background(), addr)
	assert.False(t, r.WiFi.Success)
	assert.Equal(t, 3, r.WiFi.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&d.wifiCalls))
	assert.NotEmpty(t, r.WiFi.Error)
	assert.True(t, r.Status.Success)
	assert.True(t, r.IsFullyFunctional())
}

func TestTesterStatusFailureDefaultsSnapshot(t *testing.T) {
	d := newFakeDevice()
	delete(d.routes, domain.PathStatus)
	delete(d.routes, domain.PathRelayToggle)
	addr := start(t, d)
	tester := NewTester(testEngine(), fastTesterConfig(), nil, logr.Discard())

	r := tester.Test(context.Background(), addr)
	assert.True(t, r.MainPageAccessible)
	assert.False(t, r.Status.Success)
	assert.Equal(t, http.StatusNotFound, r.Status.StatusCode)
	assert.False(t, r.RelayControlOK)
	assert.Nil(t, r.DeviceStatus)
	assert.False(t, r.IsFullyFunctional())
}

func TestTesterUnparseableStatusKeepsDefaults(t *testing.T) {
	d := newFakeDevice()
	d.routes[domain.PathStatus] = text("device_name=esp uptime=5")
	addr := start(t, d)
	tester := NewTester(testEngine(), fastTesterConfig(), nil, logr.Discard())

	r := tester.Test(context.Background(), addr)
	assert.True(t, r.Status.Success)
	assert.False(t, r.Status.ValidJSON)
	require.NotNil(t, r.DeviceStatus)
	assert.Equal(t, "", r.DeviceStatus.DeviceName)
	assert.Equal(t, int64(0), r.DeviceStatus.UptimeSeconds)
	assert.False(t, r.DeviceStatus.LEDState)
}

func TestControllerActions(t *testing.T) {
	addr := start(t, newFakeDevice())
	engine := testEngine()
	opts := probe.HTTPOptions{Timeout: time.Second, Attempts: 1}
	c := NewController(engine, NewIdentifier(engine, time.Second, logr.Discard()), opts)
	ctx := context.Background()

	reply, err := c.LED(ctx, addr, ActionOn)
	require.NoError(t, err)
	assert.Equal(t, "LED ON", reply)

	reply, err = c.Relay(ctx, addr, ActionOff)
	require.NoError(t, err)
	assert.Equal(t, "Relay OFF", reply)

	_, err = c.Relay(ctx, addr, ActionOn)
	assert.Error(t, err, "relay/on is not served by the fake")

	_, err = c.LED(ctx, addr, Action("blink"))
	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	sys, err := c.System(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 1458400.0, sys["chip_id"])

	rec, err := c.Inspect(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/api/status", "/api/system", "/api/wifi"}, rec.Endpoints)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Toggle ")
	require.NoError(t, err)
	assert.Equal(t, ActionToggle, a)

	_, err = ParseAction("dim")
	assert.Error(t, err)
}
