package workflow

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks the workflow for structural problems: unknown trigger
// events, unparseable schedules, malformed matrices, and matrix references
// that resolve to nothing. A valid workflow can always be planned.
func (w *Workflow) Validate() error {
	if len(w.On.Events) == 0 && len(w.On.Schedules) == 0 {
		return fmt.Errorf("workflow declares no triggers")
	}
	for _, event := range w.On.Events {
		if !KnownEvent(event) {
			return fmt.Errorf("unknown trigger event %q", event)
		}
	}
	for _, spec := range w.On.Schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("schedule %q: %w", spec, err)
		}
	}

	if len(w.Jobs) == 0 {
		return fmt.Errorf("workflow declares no jobs")
	}
	for _, job := range w.Jobs {
		if err := validateJob(job); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}
	return nil
}

func validateJob(job Job) error {
	if err := validateMatrix(job.Strategy.Matrix); err != nil {
		return err
	}
	if job.Strategy.MaxParallel < 0 {
		return fmt.Errorf("max-parallel must not be negative")
	}
	if job.TimeoutMinutes < 0 {
		return fmt.Errorf("timeout-minutes must not be negative")
	}
	if len(job.Steps) == 0 {
		return fmt.Errorf("job has no steps")
	}

	keys := matrixKeySet(job.Strategy.Matrix)
	if err := validateRefs(job.RunsOn, keys); err != nil {
		return fmt.Errorf("runs-on: %w", err)
	}
	for _, v := range job.Env {
		if err := validateRefs(v, keys); err != nil {
			return fmt.Errorf("env: %w", err)
		}
	}
	for i, step := range job.Steps {
		if step.Run == "" {
			return fmt.Errorf("step %d (%s): missing run command", i+1, step.DisplayName())
		}
		if step.TimeoutMinutes < 0 {
			return fmt.Errorf("step %d (%s): timeout-minutes must not be negative", i+1, step.DisplayName())
		}
		if err := validateRefs(step.Run, keys); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.DisplayName(), err)
		}
		for _, v := range step.Env {
			if err := validateRefs(v, keys); err != nil {
				return fmt.Errorf("step %d (%s): env: %w", i+1, step.DisplayName(), err)
			}
		}
	}
	return nil
}

func validateMatrix(m Matrix) error {
	axisKeys := make(map[string]bool)
	for _, axis := range m.Axes() {
		if axis.Key == "" {
			return fmt.Errorf("matrix: empty axis key")
		}
		if len(axis.Values) == 0 {
			return fmt.Errorf("matrix.%s: axis has no values", axis.Key)
		}
		seen := make(map[string]bool, len(axis.Values))
		for _, v := range axis.Values {
			if seen[v] {
				return fmt.Errorf("matrix.%s: duplicate value %q", axis.Key, v)
			}
			seen[v] = true
		}
		axisKeys[axis.Key] = true
	}
	// Exclude entries may only reference declared axes; include entries may
	// add new keys on top of them.
	for _, entry := range m.Exclude() {
		if len(entry) == 0 {
			return fmt.Errorf("matrix.exclude: empty entry")
		}
		for k := range entry {
			if !axisKeys[k] {
				return fmt.Errorf("matrix.exclude: unknown axis %q", k)
			}
		}
	}
	for _, entry := range m.Include() {
		if len(entry) == 0 {
			return fmt.Errorf("matrix.include: empty entry")
		}
	}
	return nil
}

// matrixKeySet collects every key a combination of this matrix can carry:
// declared axes plus include-provided keys.
func matrixKeySet(m Matrix) map[string]bool {
	keys := make(map[string]bool)
	for _, axis := range m.Axes() {
		keys[axis.Key] = true
	}
	for _, entry := range m.Include() {
		for k := range entry {
			keys[k] = true
		}
	}
	return keys
}

func validateRefs(s string, keys map[string]bool) error {
	for _, ref := range MatrixRefs(s) {
		if !keys[ref] {
			return fmt.Errorf("reference to undeclared matrix key %q", ref)
		}
	}
	return nil
}
