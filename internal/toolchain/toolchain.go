// Package toolchain drives arduino-cli to install cores, compile and flash.
package toolchain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"espdeploy/internal/command"
	"espdeploy/internal/domain"
)

// DefaultCLI is the arduino-cli binary name
const DefaultCLI = "arduino-cli"

// ESP8266IndexURL is the board manager index for the ESP8266 core
const ESP8266IndexURL = "https://arduino.esp8266.com/stable/package_esp8266com_index.json"

// Toolchain runs arduino-cli through a command runner
type Toolchain struct {
	runner command.Runner
	cli    string
	log    logr.Logger
}

// New creates a toolchain. An empty cli path means arduino-cli on PATH.
func New(runner command.Runner, cli string, log logr.Logger) *Toolchain {
	if cli == "" {
		cli = DefaultCLI
	}
	return &Toolchain{runner: runner, cli: cli, log: log}
}

// run executes one arduino-cli command, mapping failure to ToolchainError
func (t *Toolchain) run(ctx context.Context, args ...string) (command.Result, error) {
	line := command.Line(t.cli, args...)
	t.log.V(1).Info("Running toolchain", "command", line)

	res, err := t.runner.Run(ctx, t.cli, args...)
	if err != nil {
		if errors.Is(err, command.ErrNotFound) {
			return res, &domain.ToolchainError{Command: line, ExitCode: -1, Err: fmt.Errorf("%s not installed or not in PATH: %w", t.cli, err)}
		}
		return res, &domain.ToolchainError{Command: line, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	if !res.Success() {
		return res, &domain.ToolchainError{Command: line, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	return res, nil
}

// Version returns the first line of `arduino-cli version`
func (t *Toolchain) Version(ctx context.Context) (string, error) {
	res, err := t.run(ctx, "version")
	if err != nil {
		return "", err
	}
	return firstLine(res.Stdout), nil
}

// InstalledCores returns core IDs from `core list`
func (t *Toolchain) InstalledCores(ctx context.Context) ([]string, error) {
	res, err := t.run(ctx, "core", "list")
	if err != nil {
		return nil, err
	}
	var cores []string
	sc := bufio.NewScanner(strings.NewReader(res.Stdout))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] == "ID" || !strings.Contains(fields[0], ":") {
			continue
		}
		cores = append(cores, fields[0])
	}
	return cores, nil
}

// EnsureCore installs a core when `core list` does not show it. Returns true
// when an install ran.
func (t *Toolchain) EnsureCore(ctx context.Context, core, indexURL string) (bool, error) {
	if core == "" {
		return false, nil
	}
	cores, err := t.InstalledCores(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cores {
		if c == core {
			t.log.V(1).Info("Core already installed", "core", core)
			return false, nil
		}
	}

	t.log.Info("Installing board core", "core", core)
	var extra []string
	if indexURL != "" {
		extra = []string{"--additional-urls", indexURL}
	}
	if _, err := t.run(ctx, append([]string{"core", "update-index"}, extra...)...); err != nil {
		return false, err
	}
	if _, err := t.run(ctx, append([]string{"core", "install", core}, extra...)...); err != nil {
		return false, err
	}
	return true, nil
}

// Compile builds the sketch directory for the board
func (t *Toolchain) Compile(ctx context.Context, fqbn, dir string) error {
	t.log.Info("Compiling sketch", "fqbn", fqbn, "dir", dir)
	_, err := t.run(ctx, "compile", "--fqbn", fqbn, dir)
	return err
}

// Upload flashes the compiled sketch over the serial port
func (t *Toolchain) Upload(ctx context.Context, fqbn, port, dir string) error {
	t.log.Info("Uploading sketch", "fqbn", fqbn, "port", port)
	_, err := t.run(ctx, "upload", "--fqbn", fqbn, "--port", port, dir)
	return err
}

// IndexURLFor returns the board manager index a core needs, empty for
// cores bundled with arduino-cli
func IndexURLFor(core string) string {
	if strings.HasPrefix(core, "esp8266:") {
		return ESP8266IndexURL
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
