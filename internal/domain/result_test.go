package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFullyFunctional(t *testing.T) {
	// Every combination of the three counted checks, with the uncounted
	// checks set both ways.
	for mask := 0; mask < 8; mask++ {
		for _, extras := range []bool{true, false} {
			r := NewTestResult(MustParseAddress("192.168.1.238"))
			r.PingSuccess = mask&1 != 0
			r.MainPageAccessible = mask&2 != 0
			r.Status.Success = mask&4 != 0
			r.WiFi.Success = extras
			r.System.Success = extras
			r.LEDControlOK = extras
			r.RelayControlOK = extras

			want := r.PingSuccess && r.MainPageAccessible && r.Status.Success
			assert.Equal(t, want, r.IsFullyFunctional(), "mask=%03b extras=%v", mask, extras)
		}
	}
}

func TestTestResultEndpointsOrder(t *testing.T) {
	r := NewTestResult(MustParseAddress("10.0.0.9"))
	var paths []string
	for _, e := range r.Endpoints() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/", "/api/status", "/api/system", "/api/wifi", "/led/toggle", "/relay/toggle"}, paths)
}

func TestReportSucceeded(t *testing.T) {
	r := NewReport()
	assert.NotEmpty(t, r.RunID)

	r.Add(StageResult{Name: StageCompile, Status: StagePassed})
	r.Add(StageResult{Name: StageProvisionHTML, Status: StageSkipped})
	assert.True(t, r.Succeeded())

	r.Add(StageResult{Name: StageDiscovery, Status: StageFailed})
	assert.False(t, r.Succeeded())

	passed, failed, skipped := r.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{passed, failed, skipped})

	stage, ok := r.Stage(StageDiscovery)
	assert.True(t, ok)
	assert.Equal(t, StageFailed, stage.Status)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("upload: %w", &ToolchainError{Command: "arduino-cli upload", ExitCode: 1})))
	assert.False(t, IsFatal(&ConnectivityError{Address: "10.0.0.1", Err: errors.New("refused")}))
	assert.False(t, IsFatal(ErrNoDevice))
}
