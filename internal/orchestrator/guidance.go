package orchestrator

import (
	"fmt"
	"strings"

	"espdeploy/internal/domain"
)

// discoveryGuidance explains what to check when no board was confirmed
func discoveryGuidance(prefixes []string) []string {
	out := []string{
		"Check the WiFi credentials in wifi_config.json and re-provision if they changed",
		"Make sure this machine and the board are on the same network",
		"Open the serial monitor (espdeploy monitor) to read the address the board prints at boot",
		"Pass a known address with --address to skip the scan",
	}
	if len(prefixes) > 0 {
		out = append(out, "Scanned subnets: "+strings.Join(prefixes, ".x, ")+".x")
	}
	return out
}

// testGuidance lists the checks that failed on a device that answered
func testGuidance(r *domain.TestResult) []string {
	var out []string
	if !r.PingSuccess {
		out = append(out, fmt.Sprintf("%s stopped answering after discovery; check power and WiFi signal", r.Address))
		return out
	}
	for _, e := range r.Endpoints() {
		if !e.Success {
			out = append(out, fmt.Sprintf("%s failed after %d attempt(s)", e.Path, e.Attempts))
		}
	}
	if !r.MainPageAccessible {
		out = append(out, "The dashboard page is missing; provision it with espdeploy provision --html")
	}
	return out
}
