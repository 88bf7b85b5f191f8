package trigger

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/runner"
	"matrixci/internal/store"
	"matrixci/internal/workflow"
)

func testDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r := runner.New(runner.Options{Output: io.Discard})
	return NewDispatcher(r, st), st
}

func pushWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Parse([]byte(`
name: sample
on: [push, workflow_dispatch]
jobs:
  build:
    steps:
      - run: "true"
`))
	require.NoError(t, err)
	return wf
}

func TestFireRunsAndRecordsHistory(t *testing.T) {
	d, st := testDispatcher(t)

	res, err := d.Fire(context.Background(), pushWorkflow(t), workflow.EventPush)
	require.NoError(t, err)
	assert.Equal(t, runner.StatusSuccess, res.Status)

	rec, err := st.GetRun(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "sample", rec.Workflow)
	assert.Equal(t, "push", rec.Event)
	assert.Equal(t, "success", rec.Status)
}

func TestFireRejectsUnknownEvent(t *testing.T) {
	d, _ := testDispatcher(t)

	_, err := d.Fire(context.Background(), pushWorkflow(t), "release")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestFireRejectsUndeclaredEvent(t *testing.T) {
	d, _ := testDispatcher(t)

	_, err := d.Fire(context.Background(), pushWorkflow(t), workflow.EventPullRequest)
	assert.ErrorIs(t, err, ErrNotTriggered)
}

func TestFireRecordsFailedRuns(t *testing.T) {
	d, st := testDispatcher(t)

	wf, err := workflow.Parse([]byte(`
name: broken
on: [push]
jobs:
  build:
    steps:
      - run: "exit 9"
`))
	require.NoError(t, err)

	res, err := d.Fire(context.Background(), wf, workflow.EventPush)
	require.NoError(t, err)
	assert.Equal(t, runner.StatusFailure, res.Status)

	rec, err := st.GetRun(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "failure", rec.Status)
}

func TestScheduleEventRequiresSchedules(t *testing.T) {
	d, _ := testDispatcher(t)

	_, err := d.Fire(context.Background(), pushWorkflow(t), workflow.EventSchedule)
	assert.ErrorIs(t, err, ErrNotTriggered)
}

func TestSchedulerRegistersWorkflowSchedules(t *testing.T) {
	d, _ := testDispatcher(t)
	s := NewScheduler(d, io.Discard)

	wf, err := workflow.Parse([]byte(`
name: nightly
on:
  schedules: ["0 6 * * *", "30 18 * * 5"]
jobs:
  build:
    steps:
      - run: "true"
`))
	require.NoError(t, err)

	require.NoError(t, s.Add(wf))
	assert.Equal(t, 2, s.Entries())

	require.NoError(t, s.Add(pushWorkflow(t)), "workflows without schedules add nothing")
	assert.Equal(t, 2, s.Entries())
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	d, _ := testDispatcher(t)
	s := NewScheduler(d, io.Discard)

	wf := &workflow.Workflow{
		Name: "bad",
		On:   workflow.Triggers{Schedules: []string{"every day at noon"}},
	}
	err := s.Add(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every day at noon")
}
