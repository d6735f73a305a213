package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"espdeploy/internal/assets"
	"espdeploy/internal/codec"
	"espdeploy/internal/command/commandtest"
	"espdeploy/internal/discovery"
	"espdeploy/internal/domain"
	"espdeploy/internal/toolchain"
)

var deviceAddr = domain.MustParseAddress("192.168.1.238")

type fakeToolchain struct {
	mu         sync.Mutex
	calls      []string
	compileErr error
	uploadErr  error
}

func (f *fakeToolchain) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeToolchain) Version(context.Context) (string, error) {
	f.record("version")
	return "arduino-cli Version: 1.1.1", nil
}

func (f *fakeToolchain) EnsureCore(_ context.Context, core, _ string) (bool, error) {
	f.record("core " + core)
	return false, nil
}

func (f *fakeToolchain) Compile(_ context.Context, fqbn, _ string) error {
	f.record("compile " + fqbn)
	return f.compileErr
}

func (f *fakeToolchain) Upload(_ context.Context, fqbn, port, _ string) error {
	f.record("upload " + fqbn + " " + port)
	return f.uploadErr
}

type fakeScanner struct {
	found []domain.NetworkAddress
	err   error
	opts  discovery.ScanOptions
	calls int
}

func (f *fakeScanner) Scan(_ context.Context, opts discovery.ScanOptions) (*discovery.Result, error) {
	f.calls++
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	res := &discovery.Result{Prefixes: []string{"192.168.1"}}
	for _, a := range f.found {
		res.Devices = append(res.Devices, discovery.Found{Address: a, Tier: discovery.TierKnown})
	}
	return res, nil
}

type fakeTester struct {
	functional map[domain.NetworkAddress]bool
	tested     []domain.NetworkAddress
}

func (f *fakeTester) Test(_ context.Context, addr domain.NetworkAddress) *domain.TestResult {
	f.tested = append(f.tested, addr)
	r := domain.NewTestResult(addr)
	if f.functional[addr] {
		r.PingSuccess = true
		r.MainPageAccessible = true
		r.MainPage.Success = true
		r.Status.Success = true
	}
	return r
}

type fakeProvisioner struct {
	configErr error
	uploads   []string
}

func (f *fakeProvisioner) session(target string, err error) (*domain.UploadSession, error) {
	s := domain.NewUploadSession(target, 100, 512)
	_ = s.Begin()
	if err != nil {
		_ = s.Fail(err)
		return s, err
	}
	_ = s.Advance(100)
	_ = s.Complete()
	return s, nil
}

func (f *fakeProvisioner) UploadConfig(_ context.Context, device, local string) (*domain.UploadSession, error) {
	f.uploads = append(f.uploads, device+" "+filepath.Base(local))
	return f.session(serialTargetConfig, f.configErr)
}

func (f *fakeProvisioner) UploadHTML(_ context.Context, device, local string) (*domain.UploadSession, error) {
	f.uploads = append(f.uploads, device+" "+filepath.Base(local))
	return f.session(serialTargetHTML, nil)
}

const (
	serialTargetConfig = "/wifi_config.json"
	serialTargetHTML   = "/arduino.html"
)

type staticPorts string

func (s staticPorts) Find() (string, error) {
	if s == "" {
		return "", &domain.ConfigurationError{What: "no serial ports found"}
	}
	return string(s), nil
}

type failingSink struct{}

func (failingSink) Name() string { return "broken" }
func (failingSink) Publish(context.Context, *domain.Report) error {
	return errors.New("broker down")
}

type fixture struct {
	tc      *fakeToolchain
	scanner *fakeScanner
	tester  *fakeTester
	prov    *fakeProvisioner
	runner  *commandtest.Runner
	deps    Deps
	config  Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tc:      &fakeToolchain{},
		scanner: &fakeScanner{found: []domain.NetworkAddress{deviceAddr}},
		tester:  &fakeTester{functional: map[domain.NetworkAddress]bool{deviceAddr: true}},
		prov:    &fakeProvisioner{},
		runner:  &commandtest.Runner{},
	}
	f.deps = Deps{
		Toolchain:   f.tc,
		Scanner:     f.scanner,
		Tester:      f.tester,
		Provisioner: f.prov,
		Assets:      assets.NewManager(filepath.Join(t.TempDir(), "data"), "", logr.Discard()),
		Ports:       staticPorts("/dev/ttyUSB0"),
		Runner:      f.runner,
		Log:         logr.Discard(),
	}
	f.config = Config{TempDir: t.TempDir()}
	return f
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(f.deps, f.config)
}

func writeSketch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("void setup() {}\nvoid loop() {}\n"), 0o644))
	return path
}

func statuses(r *domain.Report) map[string]domain.StageStatus {
	out := make(map[string]domain.StageStatus)
	for _, s := range r.Stages {
		out[s.Name] = s.Status
	}
	return out
}

var allStages = []string{
	domain.StageToolchainCheck, domain.StageCore, domain.StageCompile, domain.StageUpload,
	domain.StageBootWait, domain.StageAssets, domain.StageDiscovery,
	domain.StageFunctionalTest, domain.StageProvisionConfig, domain.StageProvisionHTML,
}

func stageNames(r *domain.Report) []string {
	var out []string
	for _, s := range r.Stages {
		out = append(out, s.Name)
	}
	return out
}

func TestRunESP8266FullDeployment(t *testing.T) {
	f := newFixture(t)
	url := deviceAddr.URL(domain.PathRoot)
	name, args := browserCommand(runtime.GOOS, url)
	f.runner.Expect(strings.Join(append([]string{name}, args...), " "), "")

	report, err := f.orchestrator().Run(context.Background(), Request{
		Sketch:          writeSketch(t, "esp8266_webserver.ino"),
		ProvisionConfig: true,
		ProvisionHTML:   true,
		OpenBrowser:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, allStages, stageNames(report))
	for name, status := range statuses(report) {
		assert.Equal(t, domain.StagePassed, status, name)
	}
	assert.True(t, report.Succeeded())
	assert.Equal(t, "esp8266:esp8266:nodemcuv2", report.Board)
	assert.Equal(t, "/dev/ttyUSB0", report.Port)
	assert.Equal(t, []domain.NetworkAddress{deviceAddr}, report.Devices)
	require.NotNil(t, report.Test)
	assert.True(t, report.Test.IsFullyFunctional())
	require.Len(t, report.Uploads, 2)
	assert.Equal(t, []string{"/dev/ttyUSB0 wifi_config.json", "/dev/ttyUSB0 arduino.html"}, f.prov.uploads)
	assert.False(t, report.FinishedAt.IsZero())

	assert.Equal(t, []string{
		"version",
		"core esp8266:esp8266",
		"compile esp8266:esp8266:nodemcuv2",
		"upload esp8266:esp8266:nodemcuv2 /dev/ttyUSB0",
	}, f.tc.calls)
	f.runner.AssertExpectations(t)
}

func TestRunNoDeviceFound(t *testing.T) {
	f := newFixture(t)
	f.scanner.found = nil

	report, err := f.orchestrator().Run(context.Background(), Request{
		Sketch: writeSketch(t, "esp8266_webserver.ino"),
		Port:   "/dev/ttyUSB1",
	})
	require.NoError(t, err, "a failed discovery is reported, not fatal")

	st := statuses(report)
	assert.Equal(t, domain.StageFailed, st[domain.StageDiscovery])
	assert.Equal(t, domain.StageSkipped, st[domain.StageFunctionalTest])
	assert.Equal(t, domain.StageSkipped, st[domain.StageProvisionConfig])
	assert.False(t, report.Succeeded())
	assert.Empty(t, f.tester.tested)

	disc, ok := report.Stage(domain.StageDiscovery)
	require.True(t, ok)
	assert.Equal(t, domain.ErrNoDevice.Error(), disc.Error)
	assert.NotEmpty(t, disc.Guidance)
	assert.Contains(t, strings.Join(disc.Guidance, "\n"), "192.168.1.x")
	assert.Equal(t, "/dev/ttyUSB1", report.Port)
}

func TestRunToolchainFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.tc.compileErr = &domain.ToolchainError{Command: "arduino-cli compile", ExitCode: 1, Stderr: "exit status 1"}

	report, err := f.orchestrator().Run(context.Background(), Request{
		Sketch:          writeSketch(t, "esp8266_webserver.ino"),
		ProvisionConfig: true,
	})
	require.Error(t, err)
	var tcErr *domain.ToolchainError
	assert.True(t, errors.As(err, &tcErr))
	assert.True(t, domain.IsFatal(err))

	assert.Equal(t, allStages, stageNames(report))
	st := statuses(report)
	assert.Equal(t, domain.StagePassed, st[domain.StageCore])
	assert.Equal(t, domain.StageFailed, st[domain.StageCompile])
	for _, name := range allStages[3:] {
		assert.Equal(t, domain.StageSkipped, st[name], name)
		s, _ := report.Stage(name)
		assert.Equal(t, "aborted after compile failed", s.Detail)
	}
	assert.Zero(t, f.scanner.calls)
	assert.Empty(t, f.prov.uploads)
}

func TestRunStandardBoardSkipsNetworkStages(t *testing.T) {
	f := newFixture(t)
	f.deps.Scanner = nil
	f.deps.Tester = nil

	report, err := f.orchestrator().Run(context.Background(), Request{
		Sketch: writeSketch(t, "blink.ino"),
	})
	require.NoError(t, err)

	assert.Equal(t, "arduino:avr:uno", report.Board)
	st := statuses(report)
	for _, name := range allStages[4:] {
		assert.Equal(t, domain.StageSkipped, st[name], name)
	}
	assert.True(t, report.Succeeded())
	assert.Contains(t, f.tc.calls, "core arduino:avr")
}

func TestRunExplicitBoardOverridesDetection(t *testing.T) {
	f := newFixture(t)
	report, err := f.orchestrator().Run(context.Background(), Request{
		Sketch: writeSketch(t, "blink.ino"),
		Board:  toolchain.LookupBoard("d1_mini"),
	})
	require.NoError(t, err)
	assert.Equal(t, "esp8266:esp8266:d1_mini", report.Board)
	assert.Equal(t, 1, f.scanner.calls)
}

func TestRunConfigUploadFailureSkipsHTML(t *testing.T) {
	f := newFixture(t)
	f.prov.configErr = &domain.ProtocolError{Port: "/dev/ttyUSB0", Step: "chunk 0", Err: io.ErrClosedPipe}

	report, err := f.orchestrator().Run(context.Background(), Request{
		Sketch:          writeSketch(t, "esp8266_webserver.ino"),
		ProvisionConfig: true,
		ProvisionHTML:   true,
	})
	require.NoError(t, err, "provisioning failures are not fatal")

	st := statuses(report)
	assert.Equal(t, domain.StagePassed, st[domain.StageFunctionalTest])
	assert.Equal(t, domain.StageFailed, st[domain.StageProvisionConfig])
	assert.Equal(t, domain.StageSkipped, st[domain.StageProvisionHTML])
	require.Len(t, report.Uploads, 1)
	assert.Equal(t, domain.UploadFailed, report.Uploads[0].State)
	assert.Len(t, f.prov.uploads, 1)
}

func TestRunTestsUntilFunctional(t *testing.T) {
	f := newFixture(t)
	broken := domain.MustParseAddress("192.168.1.200")
	f.scanner.found = []domain.NetworkAddress{broken, deviceAddr}

	report, err := f.orchestrator().Run(context.Background(), Request{Sketch: writeSketch(t, "esp8266_webserver.ino")})
	require.NoError(t, err)
	assert.Equal(t, []domain.NetworkAddress{broken, deviceAddr}, f.tester.tested)
	assert.Equal(t, deviceAddr, report.Test.Address)
	assert.True(t, report.Succeeded())
}

func TestRunNotFullyFunctional(t *testing.T) {
	f := newFixture(t)
	f.tester.functional = nil

	report, err := f.orchestrator().Run(context.Background(), Request{Sketch: writeSketch(t, "esp8266_webserver.ino")})
	require.NoError(t, err)
	s, _ := report.Stage(domain.StageFunctionalTest)
	assert.Equal(t, domain.StageFailed, s.Status)
	assert.NotEmpty(t, s.Guidance)
	assert.False(t, report.Succeeded())
}

func TestRunBootWaitCancelled(t *testing.T) {
	f := newFixture(t)
	f.config.BootWait = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := f.orchestrator().Run(ctx, Request{Sketch: writeSketch(t, "esp8266_webserver.ino")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	st := statuses(report)
	assert.Equal(t, domain.StageFailed, st[domain.StageBootWait])
	assert.Equal(t, domain.StageSkipped, st[domain.StageDiscovery])
	assert.Zero(t, f.scanner.calls)
}

func TestRunPassesKnownAddresses(t *testing.T) {
	f := newFixture(t)
	f.config.KnownAddresses = []domain.NetworkAddress{deviceAddr}
	f.config.Exhaustive = true

	_, err := f.orchestrator().Run(context.Background(), Request{Sketch: writeSketch(t, "esp8266_webserver.ino")})
	require.NoError(t, err)
	assert.Equal(t, []domain.NetworkAddress{deviceAddr}, f.scanner.opts.Known)
	assert.True(t, f.scanner.opts.Exhaustive)
}

func TestRunMissingPort(t *testing.T) {
	f := newFixture(t)
	f.deps.Ports = staticPorts("")

	report, err := f.orchestrator().Run(context.Background(), Request{Sketch: writeSketch(t, "esp8266_webserver.ino")})
	require.Error(t, err)
	s, _ := report.Stage(domain.StageUpload)
	assert.Equal(t, domain.StageFailed, s.Status)
	assert.Contains(t, s.Error, "no serial ports found")
}

func TestRunPublishesToSinks(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(t.TempDir(), "reports", "run.yaml")
	var buf bytes.Buffer
	f.deps.Sinks = []Sink{
		failingSink{},
		FileSink{Path: out},
		WriterSink{W: &buf, Codec: codec.NewJSONCodec()},
	}

	report, err := f.orchestrator().Run(context.Background(), Request{Sketch: writeSketch(t, "esp8266_webserver.ino")})
	require.NoError(t, err)

	saved, err := codec.ImportFile(out)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, saved.RunID)
	assert.Len(t, saved.Stages, len(allStages))
	assert.Contains(t, buf.String(), report.RunID)
}

func TestRunEmitsStageEvents(t *testing.T) {
	f := newFixture(t)
	bus := NewEventBus()
	events := make(chan Event, 64)
	bus.Subscribe(events)
	f.deps.Events = bus

	_, err := f.orchestrator().Run(context.Background(), Request{Sketch: writeSketch(t, "esp8266_webserver.ino")})
	require.NoError(t, err)
	close(events)

	var finished []string
	var types []EventType
	for e := range events {
		types = append(types, e.Type)
		if e.Type == EventStageFinished {
			finished = append(finished, e.Stage)
		}
	}
	assert.Equal(t, allStages, finished)
	assert.Equal(t, EventRunStarted, types[0])
	assert.Equal(t, EventRunFinished, types[len(types)-1])
}

func TestProvision(t *testing.T) {
	f := newFixture(t)
	sessions, err := f.orchestrator().Provision(context.Background(), ProvisionRequest{HTML: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, serialTargetHTML, sessions[0].TargetPath)
	assert.Equal(t, []string{"/dev/ttyUSB0 arduino.html"}, f.prov.uploads)
}

func TestProvisionInvalidAssets(t *testing.T) {
	f := newFixture(t)
	dataDir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, assets.ConfigFile), []byte("{not json"), 0o644))
	f.deps.Assets = assets.NewManager(dataDir, "", logr.Discard())

	_, err := f.orchestrator().Provision(context.Background(), ProvisionRequest{Port: "/dev/ttyUSB3", Config: true})
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, f.prov.uploads)
}

func TestProvisionConfigError(t *testing.T) {
	f := newFixture(t)
	f.prov.configErr = &domain.ProtocolError{Port: "/dev/ttyUSB0", Step: "size", Err: io.ErrClosedPipe}

	sessions, err := f.orchestrator().Provision(context.Background(), ProvisionRequest{Config: true, HTML: true})
	var protoErr *domain.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	require.Len(t, sessions, 1)
	assert.Len(t, f.prov.uploads, 1)
}

func TestMonitorUsesBoardBaud(t *testing.T) {
	f := newFixture(t)
	var gotPort string
	var gotBaud int
	f.deps.Monitor = func(_ context.Context, port string, baud int, w io.Writer) error {
		gotPort, gotBaud = port, baud
		_, err := io.WriteString(w, "WiFi connected\n")
		return err
	}

	var buf bytes.Buffer
	require.NoError(t, f.orchestrator().Monitor(context.Background(), "", toolchain.LookupBoard("uno"), &buf))
	assert.Equal(t, "/dev/ttyUSB0", gotPort)
	assert.Equal(t, 9600, gotBaud)
	assert.Equal(t, "WiFi connected\n", buf.String())

	require.NoError(t, f.orchestrator().Monitor(context.Background(), "/dev/ttyACM0", toolchain.LookupBoard("nodemcuv2"), &buf))
	assert.Equal(t, "/dev/ttyACM0", gotPort)
	assert.Equal(t, 115200, gotBaud)
}

func TestBrowserCommand(t *testing.T) {
	tests := []struct {
		goos string
		name string
		args []string
	}{
		{"linux", "xdg-open", []string{"http://192.168.1.238/"}},
		{"darwin", "open", []string{"http://192.168.1.238/"}},
		{"windows", "cmd", []string{"/c", "start", "http://192.168.1.238/"}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			name, args := browserCommand(tt.goos, "http://192.168.1.238/")
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestOpenBrowserFailure(t *testing.T) {
	r := &commandtest.Runner{}
	r.ExpectExit("xdg-open http://192.168.1.238/", 3, "no handler")
	err := openBrowser(context.Background(), r, "linux", "http://192.168.1.238/")
	assert.EqualError(t, err, "open http://192.168.1.238/: xdg-open exited 3")
}
