package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultShell interprets step run commands when a step declares none.
const DefaultShell = "sh"

// StepSpec is a fully resolved step: matrix references interpolated, env
// merged, ready to hand to a shell.
type StepSpec struct {
	Name    string
	Run     string
	Shell   string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Executor runs resolved steps in a shell.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// RunStep executes a single step and returns its combined output and exit
// code. A non-nil error means the step produced no meaningful exit code:
// the process could not be started, timed out, or was cancelled.
func (e *Executor) RunStep(ctx context.Context, spec StepSpec) (string, int, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	shell := spec.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", spec.Run)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.String(), 0, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out.String(), -1, fmt.Errorf("step timed out after %s", spec.Timeout)
	case ctx.Err() != nil:
		return out.String(), -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), exitErr.ExitCode(), nil
	}
	return out.String(), -1, fmt.Errorf("start step: %w", err)
}
