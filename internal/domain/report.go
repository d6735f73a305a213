package domain

import (
	"time"

	"github.com/google/uuid"
)

// StageStatus is the outcome of one orchestration stage
type StageStatus string

const (
	StagePassed  StageStatus = "passed"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Stage names used by the orchestrator
const (
	StageToolchainCheck  = "toolchain-check"
	StageCore            = "core"
	StageCompile         = "compile"
	StageUpload          = "upload"
	StageBootWait        = "boot-wait"
	StageAssets          = "assets"
	StageDiscovery       = "discovery"
	StageFunctionalTest  = "functional-test"
	StageProvisionConfig = "provision-config"
	StageProvisionHTML   = "provision-html"
)

// StageResult records one stage of a run
type StageResult struct {
	Name     string        `json:"name" yaml:"name"`
	Status   StageStatus   `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Guidance []string      `json:"guidance,omitempty" yaml:"guidance,omitempty"`
}

// Report is the outcome of one orchestration run
type Report struct {
	RunID      string           `json:"run_id" yaml:"run_id"`
	Sketch     string           `json:"sketch,omitempty" yaml:"sketch,omitempty"`
	Board      string           `json:"board,omitempty" yaml:"board,omitempty"`
	Port       string           `json:"port,omitempty" yaml:"port,omitempty"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Stages     []StageResult    `json:"stages" yaml:"stages"`
	Devices    []NetworkAddress `json:"devices,omitempty" yaml:"devices,omitempty"`
	Test       *TestResult      `json:"test,omitempty" yaml:"test,omitempty"`
	Uploads    []*UploadSession `json:"uploads,omitempty" yaml:"uploads,omitempty"`
}

// NewReport starts a report with a fresh run ID
func NewReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// Add appends a stage result
func (r *Report) Add(stage StageResult) {
	r.Stages = append(r.Stages, stage)
}

// Stage returns the named stage result, if recorded
func (r *Report) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Succeeded reports whether no stage failed
func (r *Report) Succeeded() bool {
	for _, s := range r.Stages {
		if s.Status == StageFailed {
			return false
		}
	}
	return true
}

// Counts returns passed, failed and skipped stage totals
func (r *Report) Counts() (passed, failed, skipped int) {
	for _, s := range r.Stages {
		switch s.Status {
		case StagePassed:
			passed++
		case StageFailed:
			failed++
		case StageSkipped:
			skipped++
		}
	}
	return
}
