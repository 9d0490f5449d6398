package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batch-tamarin/batch-tamarin/pkg/recipe"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

func expandedTask(taskName, original, theoryFile, lemma, version string) *types.ExecutableTask {
	return &types.ExecutableTask{
		TaskName:          taskName,
		OriginalTaskName:  original,
		TheoryFile:        theoryFile,
		Lemma:             lemma,
		ProverVariantName: version,
	}
}

func TestBuild_GroupsVariantsUnderOriginalTask(t *testing.T) {
	expanded := []*types.ExecutableTask{
		expandedTask("proto_secrecy_stable", "proto", "proto.spthy", "secrecy", "stable"),
		expandedTask("proto_auth_stable", "proto", "proto.spthy", "auth", "stable"),
		expandedTask("proto_secrecy_dev", "proto", "proto.spthy", "secrecy", "dev"),
	}
	summary := &types.ExecutionSummary{
		Total:      3,
		Successful: 3,
		TaskResults: []*types.TaskResult{
			{TaskID: "proto_secrecy_stable", Status: types.TaskStatusCompleted, Duration: time.Second},
			{TaskID: "proto_auth_stable", Status: types.TaskStatusCompleted, Duration: 2 * time.Second},
			{TaskID: "proto_secrecy_dev", Status: types.TaskStatusCompleted, Duration: 3 * time.Second},
		},
	}

	r := Build(recipe.GlobalConfig{}, expanded, summary)
	require.Len(t, r.Tasks, 1)

	task := r.Tasks[0]
	assert.Equal(t, "proto", task.Name)
	assert.Equal(t, "proto.spthy", task.TheoryFile)
	assert.Equal(t, []string{"auth", "secrecy"}, task.Lemmas)
	assert.Equal(t, []string{"dev", "stable"}, task.ProverVersions)
	assert.Len(t, task.Results, 3)
}

func TestBuild_MultipleOriginalTasksSortedByName(t *testing.T) {
	expanded := []*types.ExecutableTask{
		expandedTask("zeta_x_stable", "zeta", "zeta.spthy", "x", "stable"),
		expandedTask("alpha_y_stable", "alpha", "alpha.spthy", "y", "stable"),
	}
	summary := &types.ExecutionSummary{
		Total:      2,
		Successful: 2,
		TaskResults: []*types.TaskResult{
			{TaskID: "zeta_x_stable", Status: types.TaskStatusCompleted},
			{TaskID: "alpha_y_stable", Status: types.TaskStatusCompleted},
		},
	}

	r := Build(recipe.GlobalConfig{}, expanded, summary)
	require.Len(t, r.Tasks, 2)
	assert.Equal(t, "alpha", r.Tasks[0].Name)
	assert.Equal(t, "zeta", r.Tasks[1].Name)
}

func TestBuild_TaskDroppedByShutdownHasNoResultButKeepsMetadata(t *testing.T) {
	expanded := []*types.ExecutableTask{
		expandedTask("proto_secrecy_stable", "proto", "proto.spthy", "secrecy", "stable"),
		expandedTask("proto_auth_stable", "proto", "proto.spthy", "auth", "stable"),
	}
	// Only one of the two expanded tasks made it into the summary; the
	// other was dropped by a shutdown before it ever ran.
	summary := &types.ExecutionSummary{
		Total:      1,
		Successful: 1,
		TaskResults: []*types.TaskResult{
			{TaskID: "proto_secrecy_stable", Status: types.TaskStatusCompleted},
		},
	}

	r := Build(recipe.GlobalConfig{}, expanded, summary)
	require.Len(t, r.Tasks, 1)
	task := r.Tasks[0]
	assert.Equal(t, []string{"auth", "secrecy"}, task.Lemmas)
	assert.Len(t, task.Results, 1)
	assert.Equal(t, "secrecy", task.Results[0].Lemma)
}

func TestBuild_SuccessPercentageComputed(t *testing.T) {
	summary := &types.ExecutionSummary{
		Total:         4,
		Successful:    3,
		TotalDuration: 8 * time.Second,
	}

	r := Build(recipe.GlobalConfig{}, nil, summary)
	assert.InDelta(t, 75.0, r.Statistics.SuccessfulTasksPercentage, 0.001)
	assert.Equal(t, 1, r.Statistics.FailedTasks)
	assert.Equal(t, 8.0, r.Statistics.TotalDuration)
}

func TestBuild_ZeroTasksYieldsZeroPercentageNotNaN(t *testing.T) {
	summary := &types.ExecutionSummary{}
	r := Build(recipe.GlobalConfig{}, nil, summary)
	assert.Equal(t, 0.0, r.Statistics.SuccessfulTasksPercentage)
	assert.Equal(t, 0, r.Statistics.TotalTasks)
	assert.Empty(t, r.Tasks)
}

func TestWriteFile_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	cfg := recipe.GlobalConfig{GlobalMaxCores: 8, GlobalMaxMemory: 32}
	summary := &types.ExecutionSummary{
		Total:      1,
		Successful: 1,
		TaskResults: []*types.TaskResult{
			{TaskID: "proto_secrecy_stable", Status: types.TaskStatusCompleted},
		},
	}
	expanded := []*types.ExecutableTask{
		expandedTask("proto_secrecy_stable", "proto", "proto.spthy", "secrecy", "stable"),
	}

	require.NoError(t, WriteFile(path, Build(cfg, expanded, summary)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 8, decoded.Config.GlobalMaxCores)
	require.Len(t, decoded.Tasks, 1)
	assert.Equal(t, "proto", decoded.Tasks[0].Name)
}
