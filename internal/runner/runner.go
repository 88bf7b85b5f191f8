// Package runner executes parsed workflows: it expands each job's matrix
// into instances, runs instances concurrently under the job's strategy, and
// runs each instance's steps in declared order.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"matrixci/internal/digest"
	"matrixci/internal/workflow"
)

// LogStore persists step output. Implemented by store.LogStorage.
type LogStore interface {
	SaveStepLog(runID, instance, step string, output []byte) (string, error)
}

// Options configures a Runner.
type Options struct {
	// Logs receives each step's combined output. Nil disables log files.
	Logs LogStore
	// Output receives progress lines. Defaults to os.Stdout.
	Output io.Writer
	// BaseEnv is the process environment steps start from. Defaults to
	// os.Environ().
	BaseEnv []string
}

// Runner ties together matrix expansion, the step executor, and log storage.
type Runner struct {
	exec    *Executor
	logs    LogStore
	baseEnv []string

	mu  sync.Mutex // serializes progress output across job instances
	out io.Writer
}

func New(opts Options) *Runner {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	baseEnv := opts.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ()
	}
	return &Runner{
		exec:    NewExecutor(),
		logs:    opts.Logs,
		baseEnv: baseEnv,
		out:     out,
	}
}

// Run executes the workflow for the given trigger event under a fresh run ID.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, event string) (*RunResult, error) {
	return r.RunWithID(ctx, wf, event, uuid.NewString())
}

// RunWithID executes the workflow under a caller-chosen run ID. Jobs run in
// declared order; the instances of one job run concurrently, bounded by the
// job's max-parallel setting. A failed run is reported through the result
// status, not through the error.
func (r *Runner) RunWithID(ctx context.Context, wf *workflow.Workflow, event, id string) (*RunResult, error) {
	if len(wf.Jobs) == 0 {
		return nil, fmt.Errorf("workflow %q has no jobs", wf.Name)
	}

	res := &RunResult{
		ID:        id,
		Workflow:  wf.Name,
		Event:     event,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	r.logf("==> run %s: workflow %q (event: %s)\n", id, wf.Name, event)

	for _, job := range wf.Jobs {
		res.Jobs = append(res.Jobs, r.runJob(ctx, wf, job, id)...)
	}

	res.FinishedAt = time.Now()
	res.Status = aggregate(res.Jobs)
	r.logf("==> run %s finished: %s\n", id, res.Status)
	return res, nil
}

// runJob expands the job's matrix and executes one instance per combination.
//
// With fail-fast disabled (the default) every instance runs to completion
// and reports independently. With fail-fast enabled, the first failing
// instance cancels the rest: queued instances report cancelled, running
// instances stop at the next step boundary.
func (r *Runner) runJob(ctx context.Context, wf *workflow.Workflow, job workflow.Job, runID string) []JobResult {
	combos := job.Strategy.Combinations()
	if len(combos) == 0 {
		r.logf("==> job %s: matrix fully excluded, nothing to run\n", job.Name)
		return nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := job.Strategy.MaxParallel
	if limit <= 0 || limit > len(combos) {
		limit = len(combos)
	}
	sem := make(chan struct{}, limit)

	results := make([]JobResult, len(combos))
	var wg sync.WaitGroup
	for i := range combos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-jobCtx.Done():
				results[i] = cancelledInstance(job, combos[i])
				return
			}
			if jobCtx.Err() != nil {
				results[i] = cancelledInstance(job, combos[i])
				return
			}

			results[i] = r.runInstance(jobCtx, wf, job, combos[i], runID, i)
			if results[i].Status == StatusFailure && job.Strategy.FailFastEnabled() {
				cancel()
			}
		}(i)
	}
	wg.Wait()
	return results
}

// runInstance executes the job's steps in declared order for one matrix
// combination. A hard step failure skips the remaining steps and fails the
// instance; a continue-on-error step records its exit code and moves on.
func (r *Runner) runInstance(ctx context.Context, wf *workflow.Workflow, job workflow.Job, combo workflow.Combination, runID string, index int) JobResult {
	jr := JobResult{
		Job:         job.Name,
		Combination: combo,
		Status:      StatusRunning,
		StartedAt:   time.Now(),
	}
	r.logf("==> job %s\n", jr.Label())

	env := r.instanceEnv(wf, job, combo, runID)
	instance := fmt.Sprintf("%s-%d", job.Name, index)

	var failed, cancelled bool
	for _, step := range job.Steps {
		sr := StepResult{Name: step.DisplayName(), Status: StatusPending}
		if failed || cancelled || ctx.Err() != nil {
			if ctx.Err() != nil && !failed {
				cancelled = true
			}
			sr.Status = StatusSkipped
			jr.Steps = append(jr.Steps, sr)
			continue
		}

		sr.Status = StatusRunning
		sr.StartedAt = time.Now()
		r.logf("    -> %s: %s\n", jr.Label(), sr.Name)

		spec := StepSpec{
			Name:    sr.Name,
			Run:     combo.Interpolate(step.Run),
			Shell:   step.Shell,
			Dir:     step.WorkingDirectory,
			Env:     appendStepEnv(env, step.Env, combo),
			Timeout: stepTimeout(job, step),
		}
		out, code, err := r.exec.RunStep(ctx, spec)
		sr.FinishedAt = time.Now()
		sr.ExitCode = code
		if err != nil && ctx.Err() == nil {
			out += "\n" + err.Error() + "\n"
		}
		r.saveStepLog(&sr, runID, instance, out)

		switch {
		case ctx.Err() != nil:
			sr.Status = StatusCancelled
			cancelled = true
		case err == nil && code == 0:
			sr.Status = StatusSuccess
		case step.ContinueOnError:
			sr.Status = StatusFailure
			sr.SoftFailed = true
			r.logf("    -> %s: %s exited %d, continuing (continue-on-error)\n", jr.Label(), sr.Name, code)
		default:
			sr.Status = StatusFailure
			failed = true
			r.logf("    -> %s: %s failed (exit %d)\n", jr.Label(), sr.Name, code)
		}
		jr.Steps = append(jr.Steps, sr)
	}

	jr.FinishedAt = time.Now()
	switch {
	case failed:
		jr.Status = StatusFailure
	case cancelled:
		jr.Status = StatusCancelled
	default:
		jr.Status = StatusSuccess
	}
	r.logf("==> job %s: %s\n", jr.Label(), jr.Status)
	return jr
}

// instanceEnv merges process env, workflow env, job env, the matrix
// combination, and run metadata. Later entries win.
func (r *Runner) instanceEnv(wf *workflow.Workflow, job workflow.Job, combo workflow.Combination, runID string) []string {
	env := make([]string, 0, len(r.baseEnv)+len(wf.Env)+len(job.Env)+combo.Len()+4)
	env = append(env, r.baseEnv...)
	env = appendEnvMap(env, wf.Env, combo)
	env = appendEnvMap(env, job.Env, combo)
	env = append(env, combo.EnvVars()...)
	env = append(env,
		"CI=true",
		"MATRIXCI_RUN_ID="+runID,
		"MATRIXCI_JOB="+job.Name,
		"MATRIXCI_RUNS_ON="+combo.Interpolate(job.RunsOn),
	)
	return env
}

func appendStepEnv(env []string, stepEnv map[string]string, combo workflow.Combination) []string {
	if len(stepEnv) == 0 {
		return env
	}
	merged := make([]string, len(env), len(env)+len(stepEnv))
	copy(merged, env)
	return appendEnvMap(merged, stepEnv, combo)
}

func appendEnvMap(env []string, m map[string]string, combo workflow.Combination) []string {
	for _, k := range sortedEnvKeys(m) {
		env = append(env, k+"="+combo.Interpolate(m[k]))
	}
	return env
}

func sortedEnvKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Runner) saveStepLog(sr *StepResult, runID, instance, output string) {
	sr.LogDigest = digest.String(output)
	if r.logs == nil {
		return
	}
	path, err := r.logs.SaveStepLog(runID, instance, sr.Name, []byte(output))
	if err != nil {
		r.logf("    warn: cannot save log for %s: %v\n", sr.Name, err)
		return
	}
	sr.LogPath = path
}

func stepTimeout(job workflow.Job, step workflow.Step) time.Duration {
	minutes := step.TimeoutMinutes
	if minutes == 0 {
		minutes = job.TimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func cancelledInstance(job workflow.Job, combo workflow.Combination) JobResult {
	now := time.Now()
	jr := JobResult{
		Job:         job.Name,
		Combination: combo,
		Status:      StatusCancelled,
		StartedAt:   now,
		FinishedAt:  now,
	}
	for _, step := range job.Steps {
		jr.Steps = append(jr.Steps, StepResult{Name: step.DisplayName(), Status: StatusSkipped})
	}
	return jr
}

func (r *Runner) logf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}
