// Package report builds the aggregate execution report (§6): a structured
// JSON object describing the run's configuration, overall statistics, and
// a per-recipe-task breakdown of every expanded variant/lemma result.
// Textual or markdown rendering of this data is an external collaborator's
// job, not this package's.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/batch-tamarin/batch-tamarin/pkg/recipe"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

// Statistics summarizes a run's outcome counts.
type Statistics struct {
	TotalTasks                int     `json:"total_tasks"`
	SuccessfulTasks           int     `json:"successful_tasks"`
	FailedTasks               int     `json:"failed_tasks"`
	SuccessfulTasksPercentage float64 `json:"successful_tasks_percentage"`
	TotalDuration             float64 `json:"total_duration"`
}

// ResultEntry is one expanded task's outcome, nested under its originating
// recipe task.
type ResultEntry struct {
	Lemma          string  `json:"lemma"`
	ProverVersion  string  `json:"tamarin_version"`
	Status         string  `json:"status"`
	ReturnCode     int     `json:"return_code"`
	DurationSecond float64 `json:"duration_seconds"`
}

// TaskReport groups every expanded variant/lemma result back under the
// recipe task key it was expanded from.
type TaskReport struct {
	Name           string        `json:"name"`
	TheoryFile     string        `json:"theory_file"`
	Lemmas         []string      `json:"lemmas"`
	ProverVersions []string      `json:"tamarin_versions"`
	Results        []ResultEntry `json:"results"`
}

// Report is the full aggregate document written at the end of a run.
type Report struct {
	Config     recipe.GlobalConfig `json:"config"`
	Statistics Statistics          `json:"statistics"`
	Tasks      []TaskReport        `json:"tasks"`
}

// Build assembles a Report from the recipe's global config, the full set
// of expanded tasks (for their theory-file/lemma/variant metadata), and
// the scheduler's execution summary (for status/timing per task).
func Build(cfg recipe.GlobalConfig, expanded []*types.ExecutableTask, summary *types.ExecutionSummary) *Report {
	resultByTaskName := make(map[string]*types.TaskResult, len(summary.TaskResults))
	for _, r := range summary.TaskResults {
		resultByTaskName[r.TaskID] = r
	}

	type group struct {
		theoryFile string
		lemmas     map[string]struct{}
		versions   map[string]struct{}
		results    []ResultEntry
	}
	groups := make(map[string]*group)
	var order []string

	for _, task := range expanded {
		g, ok := groups[task.OriginalTaskName]
		if !ok {
			g = &group{
				theoryFile: task.TheoryFile,
				lemmas:     make(map[string]struct{}),
				versions:   make(map[string]struct{}),
			}
			groups[task.OriginalTaskName] = g
			order = append(order, task.OriginalTaskName)
		}
		if task.Lemma != "" {
			g.lemmas[task.Lemma] = struct{}{}
		}
		g.versions[task.ProverVariantName] = struct{}{}

		result, ok := resultByTaskName[task.TaskName]
		if !ok {
			continue // dropped by a shutdown before it ran; not recorded
		}
		g.results = append(g.results, ResultEntry{
			Lemma:          task.Lemma,
			ProverVersion:  task.ProverVariantName,
			Status:         string(result.Status),
			ReturnCode:     result.ReturnCode,
			DurationSecond: result.Duration.Seconds(),
		})
	}

	sort.Strings(order)
	tasks := make([]TaskReport, 0, len(order))
	for _, name := range order {
		g := groups[name]
		tasks = append(tasks, TaskReport{
			Name:           name,
			TheoryFile:     g.theoryFile,
			Lemmas:         sortedKeys(g.lemmas),
			ProverVersions: sortedKeys(g.versions),
			Results:        g.results,
		})
	}

	total := summary.Total
	successPct := 0.0
	if total > 0 {
		successPct = float64(summary.Successful) / float64(total) * 100
	}

	return &Report{
		Config: cfg,
		Statistics: Statistics{
			TotalTasks:                total,
			SuccessfulTasks:           summary.Successful,
			FailedTasks:               total - summary.Successful,
			SuccessfulTasksPercentage: successPct,
			TotalDuration:             summary.TotalDuration.Seconds(),
		},
		Tasks: tasks,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WriteFile renders r as indented JSON to path, overwriting any existing
// file.
func WriteFile(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding execution report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing execution report %s: %w", path, err)
	}
	return nil
}
