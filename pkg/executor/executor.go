// Package executor implements the task executor (C7): consult the cache,
// build the argv, dispatch to the native or container runner, classify the
// outcome, persist artifacts, and update the cache. Grounded on the
// pull/create/start/monitor/cleanup shape of the container execution path,
// generalized to a one-shot run-to-completion prover invocation instead of
// a long-lived service container.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/batch-tamarin/batch-tamarin/pkg/cache"
	"github.com/batch-tamarin/batch-tamarin/pkg/containerrunner"
	"github.com/batch-tamarin/batch-tamarin/pkg/log"
	"github.com/batch-tamarin/batch-tamarin/pkg/memsampler"
	"github.com/batch-tamarin/batch-tamarin/pkg/metrics"
	"github.com/batch-tamarin/batch-tamarin/pkg/procrunner"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

// Executor is the C7 task executor.
type Executor struct {
	cache           *cache.Cache
	procRunner      *procrunner.Runner
	containerRunner *containerrunner.Runner // nil if no containerd connection was configured
	outputDirectory string
}

// New constructs an Executor. containerRunner may be nil when no container
// tasks are expected; a container task dispatched without one fails with a
// descriptive error rather than panicking.
func New(c *cache.Cache, procRunner *procrunner.Runner, containerRunner *containerrunner.Runner, outputDirectory string) *Executor {
	return &Executor{cache: c, procRunner: procRunner, containerRunner: containerRunner, outputDirectory: outputDirectory}
}

// Execute implements the C7 contract.
func (e *Executor) Execute(ctx context.Context, task *types.ExecutableTask) (*types.TaskResult, error) {
	logger := log.WithTaskID(task.TaskName)

	if cached, hit, err := e.cache.Lookup(task); err != nil {
		logger.Warn().Err(err).Msg("cache lookup failed; executing task")
	} else if hit {
		metrics.TasksCached.Inc()
		metrics.CacheHits.Inc()
		logger.Info().Msg("cache hit")
		return cached, nil
	} else {
		metrics.CacheMisses.Inc()
	}

	argv := buildArgv(task)
	start := time.Now()

	var (
		returnCode  int
		stdout      string
		stderr      string
		memStats    *types.MemoryStats
		oomKilled   bool
		interrupted bool
	)

	if task.IsContainer() {
		if e.containerRunner == nil {
			return nil, fmt.Errorf("task %s requires a container runner but none is configured", task.TaskName)
		}
		cfg := containerrunner.Config{
			Image:          task.ContainerImage,
			Argv:           argv,
			HostWorkingDir: filepath.Dir(task.TheoryFile),
			MemoryLimitMiB: int64(task.MaxMemoryGiB) * 1024,
			CPULimitCores:  float64(task.MaxCores),
			TimeoutSeconds: task.TimeoutSecond,
		}
		result, err := e.containerRunner.Run(ctx, containerID(task.TaskName), cfg)
		interrupted = err == context.Canceled
		returnCode, stdout, stderr = result.ExitCode, result.Stdout, result.Stderr
		oomKilled = result.OOMKilled
		if result.PeakMemoryMiB > 0 {
			memStats = &types.MemoryStats{PeakMiB: result.PeakMemoryMiB, MeanMiB: result.PeakMemoryMiB}
		}
	} else {
		timeout := time.Duration(task.TimeoutSecond) * time.Second

		sampler := memsampler.New()
		sampleCtx, stopSampling := context.WithCancel(ctx)
		var sampleWG sync.WaitGroup

		onStart := func(pid int) {
			sampleWG.Add(1)
			go func() {
				defer sampleWG.Done()
				sampler.Run(sampleCtx, int32(pid))
			}()
		}

		result, err := e.procRunner.Run(ctx, argv[0], argv[1:], timeout, onStart)
		stopSampling()
		sampleWG.Wait()

		interrupted = err == context.Canceled
		returnCode, stdout, stderr = result.ReturnCode, result.Stdout, result.Stderr
		memStats = sampler.Stats()
		if memStats != nil {
			metrics.MemorySamplerPeakMiB.Observe(memStats.PeakMiB)
		}
	}

	end := time.Now()
	status := classify(returnCode, stderr, interrupted, oomKilled, memStats, task.MaxMemoryGiB)

	result := &types.TaskResult{
		TaskID:      task.TaskName,
		Status:      status,
		ReturnCode:  returnCode,
		Stdout:      stdout,
		Stderr:      stderr,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		MemoryStats: memStats,
	}

	if status == types.TaskStatusCompleted {
		parseProverOutput(result)
	}

	metrics.TaskExecutionDuration.WithLabelValues(string(status)).Observe(result.Duration.Seconds())
	if status != types.TaskStatusCompleted {
		metrics.TasksFailed.WithLabelValues(string(status)).Inc()
	}

	if err := e.persist(task, result); err != nil {
		logger.Error().Err(err).Msg("failed to persist task artifact")
	}

	if status != types.TaskStatusSignalInterrupted {
		if err := e.cache.Store(task, result, []string{task.OutputFile}); err != nil {
			logger.Error().Err(err).Msg("failed to store cache entry")
		}
		if stats, err := e.cache.StatsReport(); err == nil {
			metrics.CacheSize.Set(float64(stats.Size))
		}
	}

	logger.Info().Str("status", string(status)).Dur("duration", result.Duration).Msg("task finished")
	return result, nil
}

// buildArgv constructs the command line per §4.7: native tasks get the
// full executable path and RTS flags; container tasks get just the binary
// name, since the image's entrypoint already resolves it on PATH.
func buildArgv(task *types.ExecutableTask) []string {
	exe := task.ExecutablePath
	if task.IsContainer() {
		exe = "tamarin-prover"
	}

	argv := []string{exe, "+RTS", fmt.Sprintf("-N%d", task.MaxCores), "-RTS", task.TheoryFile}
	if task.Lemma != "" {
		argv = append(argv, fmt.Sprintf("--prove=%s", task.Lemma))
	}
	argv = append(argv, task.ProverOptions...)
	for _, flag := range task.PreprocessFlags {
		argv = append(argv, fmt.Sprintf("-D=%s", flag))
	}
	argv = append(argv,
		fmt.Sprintf("--output-json=%s/%s.json", task.TracesDir, task.TaskName),
		fmt.Sprintf("--output-dot=%s/%s.dot", task.TracesDir, task.TaskName),
		fmt.Sprintf("--output=%s", task.OutputFile),
	)
	return argv
}

// classify implements the §4.7 step 4 classification table.
func classify(returnCode int, stderr string, interrupted, oomKilled bool, memStats *types.MemoryStats, maxMemoryGiB int) types.TaskStatus {
	if interrupted {
		return types.TaskStatusSignalInterrupted
	}
	if stderr == "Process timed out" || stderr == "container timed out" {
		return types.TaskStatusTimeout
	}
	if oomKilled || (memStats != nil && memStats.PeakMiB >= float64(maxMemoryGiB)*1024) {
		return types.TaskStatusMemoryLimitExceeded
	}
	if returnCode == 0 {
		return types.TaskStatusCompleted
	}
	return types.TaskStatusFailed
}

// parseProverOutput is a placeholder for the coarse success/failure
// extraction the spec allows (§1 Non-goals: no semantic parsing beyond
// coarse indicators). Real lemma-count parsing depends on the prover's
// --output-json artifact format, which is outside this repository's scope;
// leaving the maps empty here is deliberate, not an oversight.
func parseProverOutput(result *types.TaskResult) {
	result.VerifiedLemmas = map[string]types.LemmaOutcome{}
	result.FalsifiedLemmas = map[string]types.LemmaOutcome{}
}

func (e *Executor) persist(task *types.ExecutableTask, result *types.TaskResult) error {
	var dir string
	if result.Status == types.TaskStatusCompleted {
		dir = filepath.Join(e.outputDirectory, "success")
	} else {
		dir = filepath.Join(e.outputDirectory, "failed")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory %s: %w", dir, err)
	}

	var payload any
	if result.Status == types.TaskStatusCompleted {
		payload = successArtifact{
			TaskID: result.TaskID,
			WrapperMeasures: wrapperMeasures{
				Time:       result.Duration.Seconds(),
				AvgMemory:  memMeanOrZero(result.MemoryStats),
				PeakMemory: memPeakOrZero(result.MemoryStats),
			},
			VerifiedLemma:  result.VerifiedLemmas,
			FalsifiedLemma: result.FalsifiedLemmas,
			Warnings:       result.Warnings,
			OutputSpthy:    result.OutputSpthy,
		}
	} else {
		payload = failedArtifact{
			TaskID: result.TaskID,
			WrapperMeasures: wrapperMeasures{
				Time:       result.Duration.Seconds(),
				AvgMemory:  memMeanOrZero(result.MemoryStats),
				PeakMemory: memPeakOrZero(result.MemoryStats),
			},
			ReturnCode:      result.ReturnCode,
			LastStderrLines: lastLines(result.Stderr, 10),
		}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}

	path := filepath.Join(dir, result.TaskID+".json")
	return os.WriteFile(path, data, 0o644)
}

type wrapperMeasures struct {
	Time       float64 `json:"time"`
	AvgMemory  float64 `json:"avg_memory"`
	PeakMemory float64 `json:"peak_memory"`
}

type successArtifact struct {
	TaskID          string                        `json:"task_id"`
	WrapperMeasures wrapperMeasures               `json:"wrapper_measures"`
	VerifiedLemma   map[string]types.LemmaOutcome `json:"verified_lemma"`
	FalsifiedLemma  map[string]types.LemmaOutcome `json:"falsified_lemma"`
	Warnings        []string                      `json:"warnings"`
	OutputSpthy     string                        `json:"output_spthy"`
}

type failedArtifact struct {
	TaskID          string          `json:"task_id"`
	WrapperMeasures wrapperMeasures `json:"wrapper_measures"`
	ReturnCode      int             `json:"return_code"`
	LastStderrLines []string        `json:"last_stderr_lines"`
}

func memMeanOrZero(m *types.MemoryStats) float64 {
	if m == nil {
		return 0
	}
	return m.MeanMiB
}

func memPeakOrZero(m *types.MemoryStats) float64 {
	if m == nil {
		return 0
	}
	return m.PeakMiB
}

func lastLines(s string, n int) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func sanitizeContainerID(taskName string) string {
	return "bt-" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, taskName)
}

// containerID derives the containerd container id for a task, suffixed
// with a random uuid so a leftover container from a previous, interrupted
// run of the same task never collides with containerd.NewContainer's
// id-uniqueness requirement.
func containerID(taskName string) string {
	return sanitizeContainerID(taskName) + "-" + uuid.New().String()[:8]
}
