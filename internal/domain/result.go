package domain

import "time"

// ProbeResult is one reachability attempt against an address
type ProbeResult struct {
	Address            NetworkAddress `json:"address" yaml:"address"`
	TransportReachable bool           `json:"transport_reachable" yaml:"transport_reachable"`
	HTTPOK             bool           `json:"http_ok" yaml:"http_ok"`
	Latency            time.Duration  `json:"latency" yaml:"latency"`
	Attempts           int            `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// ApiTestResult is the outcome of probing one endpoint of the matrix
type ApiTestResult struct {
	Path        string        `json:"path" yaml:"path"`
	Success     bool          `json:"success" yaml:"success"`
	StatusCode  int           `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	RawResponse string        `json:"raw_response,omitempty" yaml:"raw_response,omitempty"`
	ValidJSON   bool          `json:"valid_json" yaml:"valid_json"`
	Attempts    int           `json:"attempts" yaml:"attempts"`
	Latency     time.Duration `json:"latency" yaml:"latency"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// TestResult aggregates the functional matrix for one device
type TestResult struct {
	Address            NetworkAddress `json:"address" yaml:"address"`
	PingSuccess        bool           `json:"ping_success" yaml:"ping_success"`
	PingLatency        time.Duration  `json:"ping_latency,omitempty" yaml:"ping_latency,omitempty"`
	MainPageAccessible bool           `json:"main_page_accessible" yaml:"main_page_accessible"`
	MainPage           ApiTestResult  `json:"main_page" yaml:"main_page"`
	Status             ApiTestResult  `json:"api_status" yaml:"api_status"`
	System             ApiTestResult  `json:"api_system" yaml:"api_system"`
	WiFi               ApiTestResult  `json:"api_wifi" yaml:"api_wifi"`
	LEDControl         ApiTestResult  `json:"led_control" yaml:"led_control"`
	RelayControl       ApiTestResult  `json:"relay_control" yaml:"relay_control"`
	LEDControlOK       bool           `json:"led_control_ok" yaml:"led_control_ok"`
	RelayControlOK     bool           `json:"relay_control_ok" yaml:"relay_control_ok"`
	DeviceStatus       *DeviceRecord  `json:"device_status,omitempty" yaml:"device_status,omitempty"`
}

// NewTestResult creates a result with every check unset
func NewTestResult(addr NetworkAddress) *TestResult {
	return &TestResult{
		Address:      addr,
		MainPage:     ApiTestResult{Path: PathRoot},
		Status:       ApiTestResult{Path: PathStatus},
		System:       ApiTestResult{Path: PathSystem},
		WiFi:         ApiTestResult{Path: PathWiFi},
		LEDControl:   ApiTestResult{Path: PathLEDToggle},
		RelayControl: ApiTestResult{Path: PathRelayToggle},
	}
}

// IsFullyFunctional reports basic functional confirmation. WiFi, system, LED
// and relay results are reported but do not count.
func (r *TestResult) IsFullyFunctional() bool {
	return r.PingSuccess && r.MainPageAccessible && r.Status.Success
}

// Endpoints returns the matrix results in probe order
func (r *TestResult) Endpoints() []ApiTestResult {
	return []ApiTestResult{r.MainPage, r.Status, r.System, r.WiFi, r.LEDControl, r.RelayControl}
}
