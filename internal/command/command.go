// Package command runs external programs for diagnostics and toolchain
// delegation.
//
// Callers depend on the Runner interface so tests can substitute fixtures for
// ping, arduino-cli and browser launchers.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result is the captured outcome of one command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports a zero exit code
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes a named program with arguments.
// A non-zero exit is reported through Result.ExitCode, not as an error;
// the error is reserved for failures to start or to finish the command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ErrNotFound is returned when the program is not installed
var ErrNotFound = errors.New("command not found")

// Local runs commands on this host
type Local struct {
	// Dir is the working directory, empty for the current one
	Dir string
}

// NewLocal creates a runner for the local host
func NewLocal() *Local {
	return &Local{}
}

// Run executes the command and waits for it to finish
func (l *Local) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return res, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return res, fmt.Errorf("run %s: %w", name, err)
}

// Line renders a command for logs and error messages
func Line(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
