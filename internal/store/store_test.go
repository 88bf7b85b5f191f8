package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/digest"
	"matrixci/internal/runner"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleRun(id string, started time.Time) *runner.RunResult {
	return &runner.RunResult{
		ID:         id,
		Workflow:   "ci",
		Event:      "push",
		Status:     runner.StatusFailure,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Jobs: []runner.JobResult{
			{
				Job:        "test",
				Status:     runner.StatusFailure,
				StartedAt:  started,
				FinishedAt: started.Add(time.Minute),
				Steps: []runner.StepResult{
					{Name: "lint", Status: runner.StatusFailure, ExitCode: 1, SoftFailed: true, LogDigest: "abc"},
					{Name: "pytest", Status: runner.StatusFailure, ExitCode: 2, LogPath: "/tmp/x.log", LogDigest: "def"},
					{Name: "cleanup", Status: runner.StatusSkipped},
				},
			},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveRun(sampleRun("run-1", time.Now())))

	rec, err := st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "ci", rec.Workflow)
	assert.Equal(t, "push", rec.Event)
	assert.Equal(t, "failure", rec.Status)

	require.Len(t, rec.Jobs, 1)
	job := rec.Jobs[0]
	assert.Equal(t, "test", job.Name)
	assert.Equal(t, "default", job.Combination)

	require.Len(t, job.Steps, 3)
	assert.Equal(t, "lint", job.Steps[0].Name)
	assert.True(t, job.Steps[0].SoftFailed)
	assert.Equal(t, 1, job.Steps[0].ExitCode)
	assert.Equal(t, "pytest", job.Steps[1].Name)
	assert.Equal(t, 2, job.Steps[1].ExitCode)
	assert.Equal(t, "/tmp/x.log", job.Steps[1].LogPath)
	assert.Equal(t, "skipped", job.Steps[2].Status)
}

func TestGetRunNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirstWithLimit(t *testing.T) {
	st := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, st.SaveRun(sampleRun(id, base.Add(time.Duration(i)*time.Minute))))
	}

	records, err := st.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-c", records[0].ID)
	assert.Equal(t, "run-b", records[1].ID)
}

func TestSaveRunSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(sampleRun("run-1", time.Now())))
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	rec, err := st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "ci", rec.Workflow)
}

func TestVerifyRunDetectsTamperedLog(t *testing.T) {
	st := openTestStore(t)
	ls := NewLogStorage(t.TempDir())

	output := "4 passed in 0.21s\n"
	logPath, err := ls.SaveStepLog("run-1", "test-0", "pytest", []byte(output))
	require.NoError(t, err)

	res := sampleRun("run-1", time.Now())
	res.Jobs[0].Steps[1].LogPath = logPath
	res.Jobs[0].Steps[1].LogDigest = digest.String(output)
	res.Jobs[0].Steps[0].LogPath = ""
	require.NoError(t, st.SaveRun(res))

	require.NoError(t, st.VerifyRun("run-1"))

	// Rewrite the log behind the store's back.
	require.NoError(t, os.WriteFile(logPath, []byte("all tests passed, honest\n"), 0o644))
	err = st.VerifyRun("run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match recorded digest")
}

func TestLogStorageWritesPerRunFiles(t *testing.T) {
	ls := NewLogStorage(t.TempDir())

	path, err := ls.SaveStepLog("run-1", "test-0", "Run tests", []byte("all green\n"))
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "all green\n", string(content))

	assert.Contains(t, path, "run-1")
	base := filepath.Base(path)
	assert.Equal(t, "test-0_Run-tests.log", base)
	assert.False(t, strings.ContainsAny(base, " /"))

	fileDigest, err := digest.File(path)
	require.NoError(t, err)
	assert.Equal(t, digest.String("all green\n"), fileDigest)
}
