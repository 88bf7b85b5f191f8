// Package trigger decides whether an event may start a workflow run and
// fires runs, either on demand or from cron schedules.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"matrixci/internal/runner"
	"matrixci/internal/store"
	"matrixci/internal/workflow"
)

var (
	// ErrUnknownEvent marks an event name the engine does not know at all.
	ErrUnknownEvent = errors.New("unknown trigger event")
	// ErrNotTriggered marks an event the workflow does not declare.
	ErrNotTriggered = errors.New("workflow not triggered by event")
)

// Dispatcher validates trigger events, runs workflows, and records finished
// runs in the history store.
type Dispatcher struct {
	runner *runner.Runner
	store  *store.Store
}

// NewDispatcher wires a dispatcher. The store may be nil to skip history.
func NewDispatcher(r *runner.Runner, st *store.Store) *Dispatcher {
	return &Dispatcher{runner: r, store: st}
}

// Fire runs the workflow for event under a fresh run ID.
func (d *Dispatcher) Fire(ctx context.Context, wf *workflow.Workflow, event string) (*runner.RunResult, error) {
	return d.FireWithID(ctx, wf, event, uuid.NewString())
}

// FireWithID runs the workflow for event under a caller-chosen run ID.
// The event must be known and declared by the workflow. Cancelled and failed
// runs are still recorded in the history.
func (d *Dispatcher) FireWithID(ctx context.Context, wf *workflow.Workflow, event, id string) (*runner.RunResult, error) {
	if event != workflow.EventSchedule && !workflow.KnownEvent(event) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if !wf.TriggeredBy(event) {
		return nil, fmt.Errorf("%w: workflow %q does not declare %q", ErrNotTriggered, wf.Name, event)
	}

	res, err := d.runner.RunWithID(ctx, wf, event, id)
	if err != nil {
		return nil, err
	}
	if d.store != nil {
		if err := d.store.SaveRun(res); err != nil {
			return res, fmt.Errorf("run %s finished (%s) but history write failed: %w", res.ID, res.Status, err)
		}
	}
	return res, nil
}
