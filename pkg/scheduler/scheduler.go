// Package scheduler implements the main control loop (C8): admit pending
// tasks against the resource pool, dispatch them to the executor, reap
// completions as they arrive, emit periodic progress, and handle two-phase
// interrupt shutdown. Grounded on the ticker-driven, mutex-guarded loop
// shape of a service scheduler, merged with a pending/running/completed
// task-pool runner's signal-count-based graceful/force shutdown.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/batch-tamarin/batch-tamarin/pkg/accountant"
	"github.com/batch-tamarin/batch-tamarin/pkg/executor"
	"github.com/batch-tamarin/batch-tamarin/pkg/log"
	"github.com/batch-tamarin/batch-tamarin/pkg/metrics"
	"github.com/batch-tamarin/batch-tamarin/pkg/procrunner"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

const (
	progressInterval   = 3 * time.Second
	gracefulDrainLimit = 30 * time.Second
	forceDrainLimit    = 5 * time.Second
)

// Scheduler is the C8 main control loop.
type Scheduler struct {
	accountant *accountant.Accountant
	executor   *executor.Executor
	procRunner *procrunner.Runner // belt-and-suspenders KillAll on force shutdown; may be nil
}

// New constructs a Scheduler. procRunner may be nil if every task in this
// run is container-dispatched.
func New(acc *accountant.Accountant, exec *executor.Executor, procRunner *procrunner.Runner) *Scheduler {
	return &Scheduler{accountant: acc, executor: exec, procRunner: procRunner}
}

// taskOutcome pairs a completed task with its result for the reap channel.
type taskOutcome struct {
	task   *types.ExecutableTask
	result *types.TaskResult
}

// Run drives tasks to completion and returns the aggregate summary. It
// blocks until every task is either terminal or dropped by a shutdown.
//
// A single SIGINT/SIGTERM requests graceful shutdown: no new tasks are
// admitted, and already-running tasks get up to 30 seconds to finish on
// their own. A second signal forces immediate termination: every running
// task's context is cancelled, the native process registry is killed
// outright, and the scheduler waits up to 5 seconds for the resulting
// exits before returning with whatever results it has.
func (s *Scheduler) Run(ctx context.Context, tasks []*types.ExecutableTask) (*types.ExecutionSummary, error) {
	logger := log.WithComponent("scheduler")
	start := time.Now()

	pending := append([]*types.ExecutableTask(nil), tasks...)
	running := make(map[string]context.CancelFunc)
	results := make(map[string]*types.TaskResult)
	resultsCh := make(chan taskOutcome)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	poolLogger := log.WithPoolID("global")

	pool := s.accountant.Pool()
	logger.Info().Int("total_tasks", len(tasks)).Msg("starting task execution")
	poolLogger.Info().
		Int("available_cores", pool.AvailableCores).
		Int("available_memory_gib", pool.AvailableMemoryGiB).
		Msg("resource pool initialized")

	admitMore := func() {
		for _, task := range s.accountant.SelectSchedulable(pending) {
			if !s.accountant.Admit(task) {
				continue
			}
			pending = removeTask(pending, task)

			taskCtx, cancel := context.WithCancel(ctx)
			running[task.TaskName] = cancel
			metrics.TasksScheduled.Inc()
			metrics.SchedulingLatency.Observe(time.Since(start).Seconds())

			go func(t *types.ExecutableTask, tctx context.Context) {
				result, err := s.executor.Execute(tctx, t)
				if err != nil {
					result = &types.TaskResult{TaskID: t.TaskName, Status: types.TaskStatusFailed, Stderr: err.Error()}
				}
				resultsCh <- taskOutcome{task: t, result: result}
			}(task, taskCtx)

			logger.Info().Str("task", task.TaskName).Msg("task started")
		}

		p := s.accountant.Pool()
		metrics.PoolCoresAvailable.Set(float64(p.AvailableCores))
		metrics.PoolMemoryAvailableGiB.Set(float64(p.AvailableMemoryGiB))
		poolLogger.Debug().
			Int("available_cores", p.AvailableCores).
			Int("available_memory_gib", p.AvailableMemoryGiB).
			Msg("pool utilization")
	}

	signalCount := 0
	shutdownRequested := false
	forceShutdownRequested := false

	progressTicker := time.NewTicker(progressInterval)
	defer progressTicker.Stop()

	admitMore()

	for (len(pending) > 0 || len(running) > 0) && !shutdownRequested && !forceShutdownRequested {
		select {
		case outcome := <-resultsCh:
			reap(s.accountant, outcome, running, results, logger)
			admitMore()

		case <-sigCh:
			signalCount++
			if signalCount == 1 {
				logger.Warn().Msg("shutdown signal received; draining running tasks (press again to force)")
				shutdownRequested = true
			} else {
				logger.Warn().Msg("force shutdown signal received; killing all tasks")
				forceShutdownRequested = true
			}

		case <-progressTicker.C:
			logProgress(logger, pending, running, results, s.accountant.Pool())
		}
	}

	switch {
	case forceShutdownRequested:
		s.forceKillAll(running, resultsCh, results, logger)
		pending = nil
	case shutdownRequested:
		if drainRunning(s.accountant, running, resultsCh, results, gracefulDrainLimit, sigCh, logger) {
			logger.Warn().Msg("force shutdown signal received; killing all tasks")
			s.forceKillAll(running, resultsCh, results, logger)
		}
	}

	summary := buildSummary(results, time.Since(start))
	for status, count := range summaryCounts(summary) {
		metrics.TasksTotal.WithLabelValues(status).Set(float64(count))
	}
	return summary, nil
}

// reap releases a finished task's allocation, records its result, and logs
// the outcome at a level matching its terminal status.
func reap(acc *accountant.Accountant, outcome taskOutcome, running map[string]context.CancelFunc, results map[string]*types.TaskResult, logger zerolog.Logger) {
	if err := acc.Release(outcome.task); err != nil {
		logger.Error().Err(err).Str("task", outcome.task.TaskName).Msg("resource release failed")
	}
	delete(running, outcome.task.TaskName)
	results[outcome.task.TaskName] = outcome.result

	var event *zerolog.Event
	switch outcome.result.Status {
	case types.TaskStatusCompleted:
		event = logger.Info()
	case types.TaskStatusTimeout, types.TaskStatusMemoryLimitExceeded:
		event = logger.Warn()
	default:
		event = logger.Error()
	}
	event.
		Str("task", outcome.task.TaskName).
		Str("status", string(outcome.result.Status)).
		Dur("duration", outcome.result.Duration).
		Msg("task finished")
}

// logProgress emits the periodic running/pending/completed/failed counts
// and current pool utilization.
func logProgress(logger zerolog.Logger, pending []*types.ExecutableTask, running map[string]context.CancelFunc, results map[string]*types.TaskResult, pool types.ResourcePool) {
	completed, failed := 0, 0
	for _, r := range results {
		if r.Status == types.TaskStatusCompleted {
			completed++
		} else {
			failed++
		}
	}
	logger.Info().
		Int("running", len(running)).
		Int("pending", len(pending)).
		Int("completed", completed).
		Int("failed", failed).
		Int("available_cores", pool.AvailableCores).
		Int("available_memory_gib", pool.AvailableMemoryGiB).
		Msg("progress")
}

// drainRunning waits for already-running tasks to finish on their own, up
// to timeout, recording each result as it arrives. It returns true if a
// signal arrived on sigCh (nil to ignore signals) before the drain ended.
func drainRunning(acc *accountant.Accountant, running map[string]context.CancelFunc, resultsCh chan taskOutcome, results map[string]*types.TaskResult, timeout time.Duration, sigCh <-chan os.Signal, logger zerolog.Logger) bool {
	if len(running) == 0 {
		return false
	}
	logger.Info().Int("running", len(running)).Msg("waiting for running tasks to complete")

	deadline := time.After(timeout)
	for len(running) > 0 {
		select {
		case outcome := <-resultsCh:
			reap(acc, outcome, running, results, logger)
		case <-sigCh:
			return true
		case <-deadline:
			logger.Warn().Int("still_running", len(running)).Msg("graceful shutdown timed out with tasks still running")
			return false
		}
	}
	logger.Info().Msg("graceful shutdown drain complete")
	return false
}

// forceKillAll cancels every running task's context in parallel, kills the
// native process registry outright as a second line of defense, and waits
// up to forceDrainLimit for the resulting exits.
func (s *Scheduler) forceKillAll(running map[string]context.CancelFunc, resultsCh chan taskOutcome, results map[string]*types.TaskResult, logger zerolog.Logger) {
	if len(running) == 0 {
		return
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, cancel := range running {
		cancel := cancel
		g.Go(func() error {
			cancel()
			return nil
		})
	}
	_ = g.Wait()

	if s.procRunner != nil {
		s.procRunner.KillAll()
	}

	drainRunning(s.accountant, running, resultsCh, results, forceDrainLimit, nil, logger)
}

// removeTask returns pending with task removed, preserving order.
func removeTask(pending []*types.ExecutableTask, task *types.ExecutableTask) []*types.ExecutableTask {
	out := make([]*types.ExecutableTask, 0, len(pending))
	for _, t := range pending {
		if t != task {
			out = append(out, t)
		}
	}
	return out
}

// buildSummary aggregates recorded results into an ExecutionSummary.
func buildSummary(results map[string]*types.TaskResult, totalDuration time.Duration) *types.ExecutionSummary {
	summary := &types.ExecutionSummary{TotalDuration: totalDuration}
	for _, r := range results {
		summary.Total++
		summary.TaskResults = append(summary.TaskResults, r)
		switch r.Status {
		case types.TaskStatusCompleted:
			summary.Successful++
		case types.TaskStatusTimeout:
			summary.TimedOut++
		case types.TaskStatusMemoryLimitExceeded:
			summary.MemoryExceeded++
		case types.TaskStatusSignalInterrupted:
			summary.Interrupted++
		default:
			summary.Failed++
		}
	}
	return summary
}

// summaryCounts is a small reporting helper used only to drive the
// TasksTotal gauge vector after a run completes.
func summaryCounts(s *types.ExecutionSummary) map[string]int {
	counts := make(map[string]int)
	for _, r := range s.TaskResults {
		counts[string(r.Status)]++
	}
	return counts
}
