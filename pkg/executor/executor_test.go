package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batch-tamarin/batch-tamarin/pkg/cache"
	"github.com/batch-tamarin/batch-tamarin/pkg/procrunner"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

func nativeTask(t *testing.T, theoryDir string) *types.ExecutableTask {
	t.Helper()
	theoryFile := filepath.Join(theoryDir, "proto.spthy")
	require.NoError(t, os.WriteFile(theoryFile, []byte("theory Proto begin end"), 0o644))

	return &types.ExecutableTask{
		TaskName:        "proto_stable",
		ExecutablePath:  "/bin/echo",
		TheoryFile:      theoryFile,
		OutputFile:      filepath.Join(theoryDir, "proto.out"),
		TracesDir:       theoryDir,
		Lemma:           "secrecy",
		ProverOptions:   []string{"--derivcheck-timeout=0"},
		PreprocessFlags: []string{"FLAG1"},
		MaxCores:        2,
		MaxMemoryGiB:    4,
		TimeoutSecond:   5,
	}
}

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	outDir := filepath.Join(dir, "out")
	return New(c, procrunner.New(), nil, outDir), outDir
}

func TestExecute_NativeSuccessPersistsArtifact(t *testing.T) {
	exec, outDir := newTestExecutor(t)
	task := nativeTask(t, t.TempDir())

	result, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, result.Status)
	assert.Equal(t, 0, result.ReturnCode)

	data, err := os.ReadFile(filepath.Join(outDir, "success", task.TaskName+".json"))
	require.NoError(t, err)

	var artifact successArtifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, task.TaskName, artifact.TaskID)
}

func TestExecute_CacheHitShortCircuits(t *testing.T) {
	exec, _ := newTestExecutor(t)
	task := nativeTask(t, t.TempDir())

	first, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)

	// Clearing the process runner makes a real dispatch panic; a second
	// identical Execute can only succeed by hitting the cache.
	exec.procRunner = nil

	second, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ReturnCode, second.ReturnCode)
}

func TestExecute_NonZeroExitPersistsFailedArtifact(t *testing.T) {
	exec, outDir := newTestExecutor(t)
	task := nativeTask(t, t.TempDir())
	task.ExecutablePath = "/bin/sh"
	task.ProverOptions = nil
	task.PreprocessFlags = nil

	result, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, result.Status)

	data, err := os.ReadFile(filepath.Join(outDir, "failed", task.TaskName+".json"))
	require.NoError(t, err)

	var artifact failedArtifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, task.TaskName, artifact.TaskID)
}

func TestExecute_ContainerTaskWithoutRunnerErrors(t *testing.T) {
	exec, _ := newTestExecutor(t)
	task := nativeTask(t, t.TempDir())
	task.ExecutablePath = ""
	task.ContainerImage = "tamarin-prover:stable"

	_, err := exec.Execute(context.Background(), task)
	require.Error(t, err)
}

func TestBuildArgv_NativeUsesFullPath(t *testing.T) {
	task := nativeTask(t, t.TempDir())
	argv := buildArgv(task)
	assert.Equal(t, task.ExecutablePath, argv[0])
	assert.Contains(t, argv, "--prove=secrecy")
	assert.Contains(t, argv, "-D=FLAG1")
}

func TestBuildArgv_ContainerUsesBareBinaryName(t *testing.T) {
	task := nativeTask(t, t.TempDir())
	task.ExecutablePath = ""
	task.ContainerImage = "tamarin-prover:stable"
	argv := buildArgv(task)
	assert.Equal(t, "tamarin-prover", argv[0])
}

func TestClassify_Table(t *testing.T) {
	cases := []struct {
		name        string
		returnCode  int
		stderr      string
		interrupted bool
		oomKilled   bool
		memStats    *types.MemoryStats
		maxMemGiB   int
		want        types.TaskStatus
	}{
		{"interrupted wins", 0, "", true, false, nil, 4, types.TaskStatusSignalInterrupted},
		{"timeout marker", -1, "Process timed out", false, false, nil, 4, types.TaskStatusTimeout},
		{"oom flag", -1, "", false, true, nil, 4, types.TaskStatusMemoryLimitExceeded},
		{"peak over cap", 0, "", false, false, &types.MemoryStats{PeakMiB: 5000}, 4, types.TaskStatusMemoryLimitExceeded},
		{"clean exit", 0, "", false, false, nil, 4, types.TaskStatusCompleted},
		{"plain failure", 1, "", false, false, nil, 4, types.TaskStatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.returnCode, tc.stderr, tc.interrupted, tc.oomKilled, tc.memStats, tc.maxMemGiB)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLastLines_TruncatesToTail(t *testing.T) {
	s := "a\nb\nc\nd\ne\n"
	lines := lastLines(s, 2)
	assert.Equal(t, []string{"d", "e"}, lines)
}

func TestLastLines_EmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, lastLines("", 5))
}

func TestSanitizeContainerID_LowercasesAndStripsPunctuation(t *testing.T) {
	id := sanitizeContainerID("Proto_Stable#1")
	assert.Equal(t, "bt-proto-stable-1", id)
}

func TestContainerID_DistinctAcrossCalls(t *testing.T) {
	a := containerID("proto_stable")
	b := containerID("proto_stable")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "bt-proto-stable-"))
	assert.True(t, strings.HasPrefix(b, "bt-proto-stable-"))
}
