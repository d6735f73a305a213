package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"espdeploy/internal/command"
)

// OpenBrowser opens url with the platform's default handler
func OpenBrowser(ctx context.Context, runner command.Runner, url string) error {
	return openBrowser(ctx, runner, runtime.GOOS, url)
}

func openBrowser(ctx context.Context, runner command.Runner, goos, url string) error {
	if runner == nil {
		return errors.New("no command runner")
	}

	name, args := browserCommand(goos, url)
	res, err := runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	if !res.Success() {
		return fmt.Errorf("open %s: %s exited %d", url, name, res.ExitCode)
	}
	return nil
}

func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "cmd", []string{"/c", "start", url}
	default:
		return "xdg-open", []string{url}
	}
}
