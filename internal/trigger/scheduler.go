package trigger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/robfig/cron/v3"

	"matrixci/internal/workflow"
)

// Scheduler fires workflows from their on.schedules cron entries.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	out        io.Writer
}

// NewScheduler creates a stopped scheduler. Panics inside scheduled runs are
// recovered so one bad run cannot take the service down.
func NewScheduler(d *Dispatcher, out io.Writer) *Scheduler {
	if out == nil {
		out = os.Stdout
	}
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		dispatcher: d,
		out:        out,
	}
}

// Add registers every schedule the workflow declares. Workflows without
// schedules register nothing.
func (s *Scheduler) Add(wf *workflow.Workflow) error {
	for _, spec := range wf.On.Schedules {
		spec := spec
		_, err := s.cron.AddFunc(spec, func() {
			res, err := s.dispatcher.Fire(context.Background(), wf, workflow.EventSchedule)
			if err != nil {
				fmt.Fprintf(s.out, "schedule %q: workflow %q: %v\n", spec, wf.Name, err)
				return
			}
			fmt.Fprintf(s.out, "schedule %q: run %s finished: %s\n", spec, res.ID, res.Status)
		})
		if err != nil {
			return fmt.Errorf("schedule %q: %w", spec, err)
		}
	}
	return nil
}

// Entries returns how many schedules are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start begins firing schedules in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
