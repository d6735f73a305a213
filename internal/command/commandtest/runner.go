// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"

	"espdeploy/internal/command"
)

// Runner is a testify mock of command.Runner. Expectations are keyed on the
// full command line, e.g. r.On("Run", "arduino-cli core list").
type Runner struct {
	mock.Mock
}

var _ command.Runner = (*Runner)(nil)

// Run records the call and returns the scripted result
func (r *Runner) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	ret := r.Called(line)
	res, _ := ret.Get(0).(command.Result)
	return res, ret.Error(1)
}

// Expect scripts a successful command with the given stdout
func (r *Runner) Expect(line, stdout string) *mock.Call {
	return r.On("Run", line).Return(command.Result{Stdout: stdout}, nil)
}

// ExpectExit scripts a command that exits with code and stderr
func (r *Runner) ExpectExit(line string, code int, stderr string) *mock.Call {
	return r.On("Run", line).Return(command.Result{ExitCode: code, Stderr: stderr}, nil)
}
