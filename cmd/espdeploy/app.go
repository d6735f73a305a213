package main

import (
	"context"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"espdeploy/internal/assets"
	"espdeploy/internal/codec"
	"espdeploy/internal/command"
	"espdeploy/internal/config"
	"espdeploy/internal/device"
	"espdeploy/internal/discovery"
	"espdeploy/internal/domain"
	"espdeploy/internal/metrics"
	"espdeploy/internal/netenv"
	"espdeploy/internal/orchestrator"
	"espdeploy/internal/probe"
	"espdeploy/internal/serial"
	"espdeploy/internal/toolchain"
)

// mqttTimeout bounds connecting to and publishing on the report broker
const mqttTimeout = 5 * time.Second

// app builds the components a command needs from the loaded config
type app struct {
	cfg     *config.Config
	log     logr.Logger
	out     io.Writer
	palette orchestrator.Palette

	registry *prometheus.Registry
	metrics  metrics.Collector
	events   *orchestrator.EventBus
	lock     *serial.PortLock
	local    *command.Local
	ssh      *command.SSH

	probes *probe.Engine
}

func newApp(cfg *config.Config, log logr.Logger, out io.Writer) *app {
	a := &app{
		cfg:     cfg,
		log:     log,
		out:     out,
		palette: orchestrator.NewPalette(cfg.Report.NoColor),
		events:  orchestrator.NewEventBus(),
		lock:    serial.NewPortLock(),
		local:   command.NewLocal(),
		metrics: metrics.Nop{},
	}
	if cfg.Metrics.Listen != "" {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.NewPrometheus(a.registry)
	}
	return a
}

// serveMetrics exposes /metrics for the lifetime of ctx
func (a *app) serveMetrics(ctx context.Context) {
	if a.registry == nil {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, a.log, a.cfg.Metrics.Listen, a.registry); err != nil {
			a.log.Error(err, "Metrics endpoint stopped", "addr", a.cfg.Metrics.Listen)
		}
	}()
}

// traceEvents logs run and discovery events at debug level
func (a *app) traceEvents(ctx context.Context) {
	log := a.log.WithName("events").V(2)
	if !log.Enabled() {
		return
	}
	ch := make(chan orchestrator.Event, 64)
	a.events.Subscribe(ch)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				log.Info("Event", "type", e.Type, "stage", e.Stage, "payload", e.Payload)
			}
		}
	}()
}

func (a *app) close() error {
	if a.ssh != nil {
		return a.ssh.Close()
	}
	return nil
}

// toolRunner runs arduino-cli locally or on the configured SSH host
func (a *app) toolRunner() command.Runner {
	if !a.cfg.Remote.Enabled() {
		return a.local
	}
	if a.ssh == nil {
		a.ssh = command.NewSSH(a.cfg.SSHConfig())
		a.log.Info("Using remote toolchain", "host", a.cfg.Remote.Host)
	}
	return a.ssh
}

func (a *app) toolchain() *toolchain.Toolchain {
	return toolchain.New(a.toolRunner(), a.cfg.Toolchain.CLIPath, a.log.WithName("toolchain"))
}

func (a *app) engine() *probe.Engine {
	if a.probes == nil {
		a.probes = probe.New(
			probe.WithRunner(a.local),
			probe.WithMetrics(a.metrics),
			probe.WithLogger(a.log.WithName("probe")),
		)
	}
	return a.probes
}

func (a *app) identifier() *device.Identifier {
	return device.NewIdentifier(a.engine(), a.cfg.Discovery.IdentifyTimeout.Duration(), a.log.WithName("identify"))
}

func (a *app) resolver() *netenv.Resolver {
	return netenv.NewResolver(
		netenv.WithExtraPrefixes(a.cfg.Discovery.Prefixes...),
		netenv.WithLogger(a.log.WithName("netenv")),
	)
}

func (a *app) scanner() *discovery.Scanner {
	log := a.log.WithName("discovery")
	plan := a.cfg.TierPlan()
	if a.cfg.Discovery.MDNS {
		plan.MDNS = discovery.MDNS{
			Browser: discovery.ZeroconfBrowser{},
			Window:  a.cfg.Discovery.MDNSWindow.Duration(),
			Log:     log,
		}
	}
	if a.cfg.Discovery.Nmap {
		plan.Sweeper = discovery.NewNmapSweeper(
			discovery.WithSweepTimeout(plan.Comprehensive.Budget),
			discovery.WithSweepLogger(log),
		)
	}

	s := discovery.NewScanner(a.cfg.ScannerConfig(), plan.Tiers(), a.resolver(), a.engine(), a.identifier())
	s.SetMetrics(a.metrics)
	s.SetEventPublisher(a.events)
	s.SetLogger(log)
	return s
}

func (a *app) tester() *device.Tester {
	return device.NewTester(a.engine(), a.cfg.TesterConfig(), a.metrics, a.log.WithName("test"))
}

func (a *app) controller() *device.Controller {
	return device.NewController(a.engine(), a.identifier(), a.cfg.HTTPOptions())
}

func (a *app) provisioner() *serial.Provisioner {
	return serial.NewProvisioner(serial.SystemOpener{}, a.lock, a.cfg.ProvisionerConfig(), a.metrics, a.log.WithName("serial"))
}

func (a *app) assets() *assets.Manager {
	return assets.NewManager(a.cfg.Assets.DataDir, a.cfg.Assets.SourceDir, a.log.WithName("assets"))
}

// monitor opens the console; a non-default serial.baud overrides the board's speed
func (a *app) monitor(ctx context.Context, port string, baud int, w io.Writer) error {
	if a.cfg.Serial.Baud != 0 && a.cfg.Serial.Baud != serial.BaudESP8266 {
		baud = a.cfg.Serial.Baud
	}
	return serial.Monitor(ctx, serial.SystemOpener{}, a.lock, port, baud, w, a.log.WithName("monitor"))
}

func (a *app) sinks() []orchestrator.Sink {
	var out []orchestrator.Sink
	if a.cfg.Report.Path != "" {
		out = append(out, orchestrator.FileSink{Path: a.cfg.Report.Path})
	}
	if m := a.cfg.Report.MQTT; m.Broker != "" {
		out = append(out, orchestrator.MQTTSink{
			Broker:   m.Broker,
			Topic:    m.Topic,
			ClientID: m.ClientID,
			Username: m.Username,
			Password: m.Password,
			QoS:      byte(m.QoS),
			Retained: m.Retained,
			Timeout:  mqttTimeout,
			Log:      a.log.WithName("mqtt"),
		})
	}
	return out
}

// printReport renders the report, or encodes it with --raw
func (a *app) printReport(ctx context.Context, report *domain.Report) error {
	if !rawOutput {
		orchestrator.Render(a.out, report, a.palette)
		return nil
	}
	c, err := codec.ForFormat(a.cfg.Report.Format)
	if err != nil {
		return err
	}
	return orchestrator.WriterSink{W: a.out, Codec: c}.Publish(ctx, report)
}

// orchestrator wires every component into one run sequencer
func (a *app) orchestrator() (*orchestrator.Orchestrator, error) {
	known, err := a.cfg.KnownAddresses()
	if err != nil {
		return nil, err
	}

	deps := orchestrator.Deps{
		Toolchain:   a.toolchain(),
		Scanner:     a.scanner(),
		Tester:      a.tester(),
		Provisioner: a.provisioner(),
		Assets:      a.assets(),
		Ports:       serial.Finder{},
		Monitor:     a.monitor,
		Runner:      a.local,
		Sinks:       a.sinks(),
		Metrics:     a.metrics,
		Events:      a.events,
		Log:         a.log.WithName("deploy"),
	}

	cfg := orchestrator.DefaultConfig()
	cfg.BootWait = a.cfg.Toolchain.BootWait.Duration()
	if a.cfg.Toolchain.TempDir != "" {
		cfg.TempDir = a.cfg.Toolchain.TempDir
	}
	cfg.KnownAddresses = known
	cfg.Exhaustive = a.cfg.Discovery.Exhaustive

	return orchestrator.New(deps, cfg), nil
}
