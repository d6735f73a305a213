package orchestrator

import (
	"context"
	"fmt"
	"time"

	"espdeploy/internal/domain"
)

// outcome is what a stage body reports besides its error
type outcome struct {
	Detail   string
	Guidance []string
	// Skip marks the stage Skipped with Detail as the reason
	Skip bool
}

func skipped(reason string) outcome {
	return outcome{Detail: reason, Skip: true}
}

// run tracks one Run call
type run struct {
	o       *Orchestrator
	report  *domain.Report
	fatal   error
	failed  string
	cleanup []func()
}

// stage executes fn unless an earlier required stage failed. A failing
// required stage, or any stage failing because ctx ended, aborts the run.
func (r *run) stage(ctx context.Context, name string, required bool, fn func(context.Context) (outcome, error)) {
	if r.fatal != nil {
		r.skip(name, "aborted after "+r.failed+" failed")
		return
	}

	r.o.events.Publish(Event{Type: EventStageStarted, Stage: name})
	r.o.log.V(1).Info("Stage started", "stage", name)

	start := time.Now()
	out, err := fn(ctx)
	res := domain.StageResult{
		Name:     name,
		Duration: time.Since(start),
		Detail:   out.Detail,
		Guidance: out.Guidance,
	}

	switch {
	case err != nil:
		res.Status = domain.StageFailed
		res.Error = err.Error()
		if required || ctx.Err() != nil {
			r.fatal = fmt.Errorf("%s: %w", name, err)
			r.failed = name
		}
	case out.Skip:
		res.Status = domain.StageSkipped
	default:
		res.Status = domain.StagePassed
	}
	r.record(res)
}

func (r *run) skip(name, reason string) {
	r.record(domain.StageResult{Name: name, Status: domain.StageSkipped, Detail: reason})
}

func (r *run) record(res domain.StageResult) {
	r.report.Add(res)
	r.o.metrics.StageCompleted(res.Name, string(res.Status), res.Duration)
	r.o.events.Publish(Event{Type: EventStageFinished, Stage: res.Name, Payload: res})

	switch res.Status {
	case domain.StageFailed:
		r.o.log.Info("Stage failed", "stage", res.Name, "error", res.Error, "duration", res.Duration)
	default:
		r.o.log.V(1).Info("Stage finished", "stage", res.Name, "status", res.Status, "duration", res.Duration)
	}
}

// upload records a provisioning session, including failed ones
func (r *run) upload(session *domain.UploadSession) {
	if session != nil {
		r.report.Uploads = append(r.report.Uploads, session)
	}
}

func (r *run) close() {
	for _, fn := range r.cleanup {
		fn()
	}
}
