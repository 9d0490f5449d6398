package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batch-tamarin/batch-tamarin/pkg/accountant"
	"github.com/batch-tamarin/batch-tamarin/pkg/cache"
	"github.com/batch-tamarin/batch-tamarin/pkg/executor"
	"github.com/batch-tamarin/batch-tamarin/pkg/procrunner"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

func newTestScheduler(t *testing.T, maxCores, maxMemGiB int) (*Scheduler, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	outDir := filepath.Join(dir, "out")
	exec := executor.New(c, procrunner.New(), nil, outDir)
	acc := accountant.New(maxCores, maxMemGiB)
	return New(acc, exec, procrunner.New()), outDir
}

func echoTask(t *testing.T, dir, name string) *types.ExecutableTask {
	t.Helper()
	theoryFile := filepath.Join(dir, name+".spthy")
	require.NoError(t, os.WriteFile(theoryFile, []byte("theory "+name+" begin end"), 0o644))
	return &types.ExecutableTask{
		TaskName:       name,
		ExecutablePath: "/bin/echo",
		TheoryFile:     theoryFile,
		OutputFile:     filepath.Join(dir, name+".out"),
		TracesDir:      dir,
		MaxCores:       1,
		MaxMemoryGiB:   1,
		TimeoutSecond:  5,
	}
}

func TestRun_AllTasksComplete(t *testing.T) {
	sched, _ := newTestScheduler(t, 4, 16)
	dir := t.TempDir()

	tasks := []*types.ExecutableTask{
		echoTask(t, dir, "a"),
		echoTask(t, dir, "b"),
		echoTask(t, dir, "c"),
	}

	summary, err := sched.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Successful)
	assert.Equal(t, 0, sched.accountant.AllocatedCount())
}

func TestRun_FailedTaskRecorded(t *testing.T) {
	sched, _ := newTestScheduler(t, 4, 16)
	dir := t.TempDir()

	task := echoTask(t, dir, "broken")
	task.ExecutablePath = "/bin/sh"

	summary, err := sched.Run(context.Background(), []*types.ExecutableTask{task})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Failed)
}

func TestRun_SerializesOversizedPool(t *testing.T) {
	// Only one task's worth of resources available at a time; all three
	// must still complete, just not concurrently.
	sched, _ := newTestScheduler(t, 1, 1)
	dir := t.TempDir()

	tasks := []*types.ExecutableTask{
		echoTask(t, dir, "x"),
		echoTask(t, dir, "y"),
		echoTask(t, dir, "z"),
	}

	summary, err := sched.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Successful)
}

func TestRemoveTask_PreservesOrderAndIdentity(t *testing.T) {
	a := &types.ExecutableTask{TaskName: "a"}
	b := &types.ExecutableTask{TaskName: "b"}
	c := &types.ExecutableTask{TaskName: "c"}
	pending := []*types.ExecutableTask{a, b, c}

	out := removeTask(pending, b)
	require.Len(t, out, 2)
	assert.Same(t, a, out[0])
	assert.Same(t, c, out[1])
}

func TestBuildSummary_AggregatesByStatus(t *testing.T) {
	results := map[string]*types.TaskResult{
		"a": {TaskID: "a", Status: types.TaskStatusCompleted, Duration: time.Second},
		"b": {TaskID: "b", Status: types.TaskStatusTimeout},
		"c": {TaskID: "c", Status: types.TaskStatusMemoryLimitExceeded},
		"d": {TaskID: "d", Status: types.TaskStatusSignalInterrupted},
		"e": {TaskID: "e", Status: types.TaskStatusFailed},
	}

	summary := buildSummary(results, 10*time.Second)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.TimedOut)
	assert.Equal(t, 1, summary.MemoryExceeded)
	assert.Equal(t, 1, summary.Interrupted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 10*time.Second, summary.TotalDuration)
}

func TestSummaryCounts_MatchesStatusLabels(t *testing.T) {
	summary := &types.ExecutionSummary{
		TaskResults: []*types.TaskResult{
			{Status: types.TaskStatusCompleted},
			{Status: types.TaskStatusCompleted},
			{Status: types.TaskStatusFailed},
		},
	}
	counts := summaryCounts(summary)
	assert.Equal(t, 2, counts[string(types.TaskStatusCompleted)])
	assert.Equal(t, 1, counts[string(types.TaskStatusFailed)])
}
