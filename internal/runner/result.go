package runner

import (
	"time"

	"matrixci/internal/workflow"
)

// Status is the execution state of a run, a job instance, or a step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// StepResult records one executed (or skipped) step.
//
// A step with SoftFailed set exited non-zero but was declared
// continue-on-error, so it did not fail its job.
type StepResult struct {
	Name       string
	Status     Status
	ExitCode   int
	SoftFailed bool
	LogPath    string
	LogDigest  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// JobResult records one job instance: a job paired with one matrix
// combination.
type JobResult struct {
	Job         string
	Combination workflow.Combination
	Status      Status
	Steps       []StepResult
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Label names the instance for humans and log files.
func (j JobResult) Label() string {
	if j.Combination.Len() == 0 {
		return j.Job
	}
	return j.Job + " (" + j.Combination.String() + ")"
}

// RunResult is the outcome of one workflow run.
type RunResult struct {
	ID         string
	Workflow   string
	Event      string
	Status     Status
	Jobs       []JobResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether every job instance succeeded.
func (r *RunResult) Succeeded() bool { return r.Status == StatusSuccess }

// aggregate derives the run status from its job instances: any failure wins,
// then cancellation, otherwise success.
func aggregate(jobs []JobResult) Status {
	status := StatusSuccess
	for _, j := range jobs {
		switch j.Status {
		case StatusFailure:
			return StatusFailure
		case StatusCancelled:
			status = StatusCancelled
		}
	}
	return status
}
