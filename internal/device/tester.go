package device

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"

	"espdeploy/internal/domain"
	"espdeploy/internal/metrics"
	"espdeploy/internal/probe"
)

// TesterConfig bounds the functional matrix
type TesterConfig struct {
	HTTP        probe.HTTPOptions
	ConnectWait time.Duration
	PingTimeout time.Duration
	// MaxResponse truncates stored raw responses
	MaxResponse int
}

// DefaultTesterConfig returns three attempts per endpoint, 2s each
func DefaultTesterConfig() TesterConfig {
	return TesterConfig{
		HTTP:        probe.DefaultHTTPOptions(),
		ConnectWait: time.Second,
		PingTimeout: 2 * time.Second,
		MaxResponse: 2048,
	}
}

// Tester runs the endpoint matrix against a confirmed device
type Tester struct {
	engine  *probe.Engine
	config  TesterConfig
	metrics metrics.Collector
	log     logr.Logger
}

// NewTester creates a functional tester
func NewTester(engine *probe.Engine, config TesterConfig, m metrics.Collector, log logr.Logger) *Tester {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Tester{engine: engine, config: config, metrics: m, log: log}
}

// Test probes every endpoint of the matrix. Endpoint failures are recorded in
// the result and never returned as errors.
func (t *Tester) Test(ctx context.Context, addr domain.NetworkAddress) *domain.TestResult {
	result := domain.NewTestResult(addr)

	result.PingSuccess, result.PingLatency = t.ping(ctx, addr)
	if !result.PingSuccess {
		t.log.Info("Device unreachable, skipping endpoint matrix", "address", addr.String())
		return result
	}

	result.MainPage, _ = t.endpoint(ctx, addr, domain.PathRoot)
	result.MainPageAccessible = result.MainPage.Success

	var statusBody []byte
	result.Status, statusBody = t.endpoint(ctx, addr, domain.PathStatus)
	result.System, _ = t.endpoint(ctx, addr, domain.PathSystem)
	result.WiFi, _ = t.endpoint(ctx, addr, domain.PathWiFi)

	result.LEDControl, _ = t.endpoint(ctx, addr, domain.PathLEDToggle)
	result.LEDControlOK = result.LEDControl.Success
	result.RelayControl, _ = t.endpoint(ctx, addr, domain.PathRelayToggle)
	result.RelayControlOK = result.RelayControl.Success

	if result.Status.Success {
		result.DeviceStatus = domain.DeviceRecordFromStatus(addr, statusBody)
		for _, e := range result.Endpoints() {
			if e.Success {
				result.DeviceStatus.AddEndpoint(e.Path)
			}
		}
	}

	t.log.V(1).Info("Functional test finished", "address", addr.String(), "fully_functional", result.IsFullyFunctional())
	return result
}

// ping tries TCP port 80 first and falls back to ICMP
func (t *Tester) ping(ctx context.Context, addr domain.NetworkAddress) (bool, time.Duration) {
	if res := t.engine.DialTCP(ctx, addr, t.config.ConnectWait); res.TransportReachable {
		return true, res.Latency
	}

	ok, latency, err := t.engine.Ping(ctx, addr.String(), t.config.PingTimeout)
	if err != nil {
		t.log.V(1).Info("System ping unavailable", "error", err.Error())
		return false, 0
	}
	return ok, latency
}

func (t *Tester) endpoint(ctx context.Context, addr domain.NetworkAddress, path string) (domain.ApiTestResult, []byte) {
	res := domain.ApiTestResult{Path: path}

	resp, err := t.engine.Get(ctx, addr.URL(path), t.config.HTTP)
	res.Attempts = resp.Attempts
	res.StatusCode = resp.StatusCode
	res.Latency = resp.Latency

	if err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
		res.ValidJSON = json.Valid(resp.Body)
		res.RawResponse = string(truncate(resp.Body, t.config.MaxResponse))
	}

	t.metrics.EndpointTested(path, res.Success, res.Attempts)
	t.log.V(1).Info("Endpoint tested", "path", path, "success", res.Success, "attempts", res.Attempts)
	return res, resp.Body
}

func truncate(b []byte, n int) []byte {
	if n <= 0 || len(b) <= n {
		return b
	}
	return b[:n]
}
