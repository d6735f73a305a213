// Package orchestrator runs a deployment end to end: flash the sketch, find
// the board on the network, test it and optionally push its assets.
//
// Every step is recorded as a stage in the report. Toolchain stages are fatal
// and skip everything after them; discovery, testing and provisioning
// failures are reported and the run carries on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"espdeploy/internal/assets"
	"espdeploy/internal/command"
	"espdeploy/internal/discovery"
	"espdeploy/internal/domain"
	"espdeploy/internal/metrics"
	"espdeploy/internal/toolchain"
)

// Toolchain compiles and flashes sketches
type Toolchain interface {
	Version(ctx context.Context) (string, error)
	EnsureCore(ctx context.Context, core, indexURL string) (bool, error)
	Compile(ctx context.Context, fqbn, dir string) error
	Upload(ctx context.Context, fqbn, port, dir string) error
}

// Scanner finds devices on the network
type Scanner interface {
	Scan(ctx context.Context, opts discovery.ScanOptions) (*discovery.Result, error)
}

// Tester runs the functional matrix
type Tester interface {
	Test(ctx context.Context, addr domain.NetworkAddress) *domain.TestResult
}

// Provisioner pushes assets over serial
type Provisioner interface {
	UploadConfig(ctx context.Context, device, local string) (*domain.UploadSession, error)
	UploadHTML(ctx context.Context, device, local string) (*domain.UploadSession, error)
}

// Assets prepares and checks the local data directory
type Assets interface {
	Prepare() (*assets.Prepared, error)
	Validate() ([]assets.Issue, error)
}

// PortFinder picks a serial port when none was given
type PortFinder interface {
	Find() (string, error)
}

// MonitorFunc streams serial output until ctx is cancelled
type MonitorFunc func(ctx context.Context, port string, baud int, w io.Writer) error

// Deps are the components a run drives
type Deps struct {
	Toolchain   Toolchain
	Scanner     Scanner
	Tester      Tester
	Provisioner Provisioner
	Assets      Assets
	Ports       PortFinder
	Monitor     MonitorFunc
	// Runner launches the browser
	Runner  command.Runner
	Sinks   []Sink
	Metrics metrics.Collector
	Events  *EventBus
	Log     logr.Logger
}

// Config holds run settings
type Config struct {
	// BootWait is how long the board gets to join WiFi after flashing
	BootWait time.Duration
	// TempDir is where sketches are staged for compilation
	TempDir string
	// KnownAddresses are probed before any generated candidate
	KnownAddresses []domain.NetworkAddress
	Exhaustive     bool
}

// DefaultConfig returns a 5s boot wait and the system temp dir
func DefaultConfig() Config {
	return Config{
		BootWait: 5 * time.Second,
		TempDir:  os.TempDir(),
	}
}

// Request describes one deployment
type Request struct {
	Sketch string
	// Board defaults to detection from the sketch file name
	Board toolchain.Board
	// Port defaults to auto-detection
	Port            string
	ProvisionConfig bool
	ProvisionHTML   bool
	OpenBrowser     bool
}

// Provisioning reports whether any asset upload was requested
func (r Request) Provisioning() bool {
	return r.ProvisionConfig || r.ProvisionHTML
}

// Orchestrator sequences the deployment stages
type Orchestrator struct {
	deps    Deps
	config  Config
	metrics metrics.Collector
	events  *EventBus
	log     logr.Logger
}

// New creates an orchestrator
func New(deps Deps, config Config) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &Orchestrator{
		deps:    deps,
		config:  config,
		metrics: deps.Metrics,
		events:  deps.Events,
		log:     deps.Log,
	}
}

// Run deploys a sketch and validates the result. The report is always
// returned; the error is non-nil only when a fatal stage failed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.Report, error) {
	board := req.Board
	if board.FQBN == "" {
		board = toolchain.DetectBoard(req.Sketch)
	}

	report := domain.NewReport()
	report.Sketch = req.Sketch
	report.Board = board.FQBN
	report.Port = req.Port

	o.log.Info("Starting deployment", "run", report.RunID, "sketch", req.Sketch, "board", board.FQBN)
	o.events.Publish(Event{Type: EventRunStarted, Payload: report.RunID})

	r := &run{o: o, report: report}
	defer r.close()

	r.stage(ctx, domain.StageToolchainCheck, true, func(ctx context.Context) (outcome, error) {
		v, err := o.deps.Toolchain.Version(ctx)
		return outcome{Detail: v}, err
	})

	r.stage(ctx, domain.StageCore, true, func(ctx context.Context) (outcome, error) {
		core := board.Core()
		installed, err := o.deps.Toolchain.EnsureCore(ctx, core, toolchain.IndexURLFor(core))
		if installed {
			return outcome{Detail: "installed " + core}, err
		}
		return outcome{Detail: core + " already installed"}, err
	})

	var sketchDir string
	r.stage(ctx, domain.StageCompile, true, func(ctx context.Context) (outcome, error) {
		warnings, err := toolchain.CheckSketch(req.Sketch)
		if err != nil {
			return outcome{}, err
		}
		for _, w := range warnings {
			o.log.Info("Sketch warning", "warning", w)
		}
		dir, cleanup, err := toolchain.StageSketch(req.Sketch, o.config.TempDir)
		if err != nil {
			return outcome{}, err
		}
		r.cleanup = append(r.cleanup, cleanup)
		sketchDir = dir
		return outcome{Detail: board.FQBN}, o.deps.Toolchain.Compile(ctx, board.FQBN, dir)
	})

	r.stage(ctx, domain.StageUpload, true, func(ctx context.Context) (outcome, error) {
		port, err := o.resolvePort(req.Port)
		if err != nil {
			return outcome{}, err
		}
		report.Port = port
		return outcome{Detail: port}, o.deps.Toolchain.Upload(ctx, board.FQBN, port, sketchDir)
	})

	if !board.IsESP8266() {
		for _, name := range []string{
			domain.StageBootWait, domain.StageAssets, domain.StageDiscovery,
			domain.StageFunctionalTest, domain.StageProvisionConfig, domain.StageProvisionHTML,
		} {
			r.stage(ctx, name, false, func(context.Context) (outcome, error) {
				return skipped("standard deployment for " + board.Name), nil
			})
		}
		return o.finish(ctx, r, req, nil)
	}

	r.stage(ctx, domain.StageBootWait, true, func(ctx context.Context) (outcome, error) {
		return outcome{Detail: o.config.BootWait.String()}, sleep(ctx, o.config.BootWait)
	})

	var prepared *assets.Prepared
	r.stage(ctx, domain.StageAssets, false, func(ctx context.Context) (outcome, error) {
		if !req.Provisioning() {
			return skipped("provisioning not requested"), nil
		}
		p, err := o.prepareAssets()
		if err != nil {
			return outcome{Guidance: assets.Troubleshooting()}, err
		}
		prepared = p
		return outcome{Detail: o.assetDetail(p)}, nil
	})

	var found []domain.NetworkAddress
	r.stage(ctx, domain.StageDiscovery, false, func(ctx context.Context) (outcome, error) {
		res, err := o.Discover(ctx)
		if err != nil {
			return outcome{Guidance: discoveryGuidance(nil)}, err
		}
		found = res.Addresses()
		report.Devices = found
		if len(found) == 0 {
			return outcome{Guidance: discoveryGuidance(res.Prefixes)}, domain.ErrNoDevice
		}
		return outcome{Detail: fmt.Sprintf("%d device(s), first at %s", len(found), found[0])}, nil
	})

	r.stage(ctx, domain.StageFunctionalTest, false, func(ctx context.Context) (outcome, error) {
		if len(found) == 0 {
			return skipped("no device found"), nil
		}
		result := o.testFirstFunctional(ctx, found)
		report.Test = result
		if !result.IsFullyFunctional() {
			return outcome{Guidance: testGuidance(result)},
				fmt.Errorf("device at %s is not fully functional", result.Address)
		}
		return outcome{Detail: "fully functional at " + result.Address.String()}, nil
	})

	configFailed := false
	r.stage(ctx, domain.StageProvisionConfig, false, func(ctx context.Context) (outcome, error) {
		switch {
		case !req.ProvisionConfig:
			return skipped("not requested"), nil
		case prepared == nil:
			return skipped("assets not ready"), nil
		}
		session, err := o.deps.Provisioner.UploadConfig(ctx, report.Port, prepared.ConfigPath)
		r.upload(session)
		if err != nil {
			configFailed = true
			return outcome{Guidance: assets.Troubleshooting()}, err
		}
		return outcome{Detail: uploadDetail(session)}, nil
	})

	r.stage(ctx, domain.StageProvisionHTML, false, func(ctx context.Context) (outcome, error) {
		switch {
		case !req.ProvisionHTML:
			return skipped("not requested"), nil
		case prepared == nil:
			return skipped("assets not ready"), nil
		case configFailed:
			return skipped("configuration upload failed"), nil
		}
		session, err := o.deps.Provisioner.UploadHTML(ctx, report.Port, prepared.HTMLPath)
		r.upload(session)
		if err != nil {
			return outcome{Guidance: assets.Troubleshooting()}, err
		}
		return outcome{Detail: uploadDetail(session)}, nil
	})

	return o.finish(ctx, r, req, report.Test)
}

// finish stamps the report, opens the browser and publishes to sinks
func (o *Orchestrator) finish(ctx context.Context, r *run, req Request, tested *domain.TestResult) (*domain.Report, error) {
	report := r.report
	report.FinishedAt = time.Now()

	if req.OpenBrowser && tested != nil && tested.IsFullyFunctional() && r.fatal == nil {
		url := tested.Address.URL(domain.PathRoot)
		if err := OpenBrowser(ctx, o.deps.Runner, url); err != nil {
			o.log.Error(err, "Failed to open browser", "url", url)
		}
	}

	o.publish(ctx, report)

	passed, failed, skipped := report.Counts()
	o.log.Info("Deployment finished", "run", report.RunID, "passed", passed, "failed", failed, "skipped", skipped)
	o.events.Publish(Event{Type: EventRunFinished, Payload: report.RunID})
	return report, r.fatal
}

// Discover scans for devices, probing configured addresses first
func (o *Orchestrator) Discover(ctx context.Context) (*discovery.Result, error) {
	return o.deps.Scanner.Scan(ctx, discovery.ScanOptions{
		Known:      o.config.KnownAddresses,
		Exhaustive: o.config.Exhaustive,
	})
}

// Test runs the functional matrix against one address
func (o *Orchestrator) Test(ctx context.Context, addr domain.NetworkAddress) *domain.TestResult {
	return o.deps.Tester.Test(ctx, addr)
}

// ProvisionRequest selects which assets to push
type ProvisionRequest struct {
	Port   string
	Config bool
	HTML   bool
}

// Provision prepares the data directory and uploads the selected assets.
// Nothing is sent if validation finds a fatal issue.
func (o *Orchestrator) Provision(ctx context.Context, req ProvisionRequest) ([]*domain.UploadSession, error) {
	port, err := o.resolvePort(req.Port)
	if err != nil {
		return nil, err
	}
	prepared, err := o.prepareAssets()
	if err != nil {
		return nil, err
	}

	var sessions []*domain.UploadSession
	if req.Config {
		session, err := o.deps.Provisioner.UploadConfig(ctx, port, prepared.ConfigPath)
		if session != nil {
			sessions = append(sessions, session)
		}
		if err != nil {
			return sessions, fmt.Errorf("upload config: %w", err)
		}
	}
	if req.HTML {
		session, err := o.deps.Provisioner.UploadHTML(ctx, port, prepared.HTMLPath)
		if session != nil {
			sessions = append(sessions, session)
		}
		if err != nil {
			return sessions, fmt.Errorf("upload html: %w", err)
		}
	}
	return sessions, nil
}

// Monitor streams serial output at the board's baud rate until ctx ends
func (o *Orchestrator) Monitor(ctx context.Context, port string, board toolchain.Board, w io.Writer) error {
	if o.deps.Monitor == nil {
		return errors.New("serial monitor not configured")
	}
	port, err := o.resolvePort(port)
	if err != nil {
		return err
	}
	return o.deps.Monitor(ctx, port, board.BaudRate(), w)
}

func (o *Orchestrator) resolvePort(port string) (string, error) {
	if port != "" {
		return port, nil
	}
	if o.deps.Ports == nil {
		return "", &domain.ConfigurationError{What: "no serial port given"}
	}
	found, err := o.deps.Ports.Find()
	if err != nil {
		return "", err
	}
	o.log.Info("Auto-detected serial port", "port", found)
	return found, nil
}

func (o *Orchestrator) prepareAssets() (*assets.Prepared, error) {
	prepared, err := o.deps.Assets.Prepare()
	if err != nil {
		return nil, err
	}
	issues, err := o.deps.Assets.Validate()
	for _, issue := range issues {
		o.log.Info("Asset issue", "issue", issue.String())
	}
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

func (o *Orchestrator) assetDetail(p *assets.Prepared) string {
	if len(p.Created) == 0 {
		return "using existing files"
	}
	return fmt.Sprintf("created %d file(s)", len(p.Created))
}

// testFirstFunctional tests devices in discovery order and returns the first
// fully functional result, or the last one tested
func (o *Orchestrator) testFirstFunctional(ctx context.Context, addrs []domain.NetworkAddress) *domain.TestResult {
	var result *domain.TestResult
	for _, addr := range addrs {
		result = o.deps.Tester.Test(ctx, addr)
		if result.IsFullyFunctional() || ctx.Err() != nil {
			break
		}
		o.log.Info("Device not fully functional", "address", addr.String())
	}
	return result
}

func (o *Orchestrator) publish(ctx context.Context, report *domain.Report) {
	for _, sink := range o.deps.Sinks {
		if err := sink.Publish(ctx, report); err != nil {
			o.log.Error(err, "Report sink failed", "sink", sink.Name())
			continue
		}
		o.log.V(1).Info("Report published", "sink", sink.Name())
	}
}

func uploadDetail(s *domain.UploadSession) string {
	return fmt.Sprintf("%s: %d bytes in %d chunk(s)", s.TargetPath, s.BytesSent, s.ChunkIndex)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
