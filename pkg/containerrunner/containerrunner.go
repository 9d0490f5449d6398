// Package containerrunner implements the container runner (C2): the
// containerized analogue of procrunner. It is adapted from the containerd
// client wiring originally used to run long-lived service containers,
// generalized here to a one-shot run-to-completion prover invocation with
// a bind-mounted working directory and hard CPU/memory caps.
package containerrunner

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	stats "github.com/containerd/cgroups/stats/v1"
	"github.com/containerd/containerd"
	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	typeurl "github.com/containerd/typeurl/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace tasks run under.
	DefaultNamespace = "batch-tamarin"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopGrace = 5 * time.Second

	// memoryPollInterval is how often Run polls containerd task metrics
	// to catch a container approaching its memory cap.
	memoryPollInterval = 500 * time.Millisecond
)

// Config describes one container invocation.
type Config struct {
	Image             string
	Argv              []string
	HostWorkingDir    string
	ContainerWorkDir  string // defaults to /work
	MemoryLimitMiB    int64
	CPULimitCores     float64
	TimeoutSeconds    int
	Env               []string
}

// Result is the outcome of one container run.
type Result struct {
	ExitCode      int
	Stdout        string
	Stderr        string
	OOMKilled     bool
	PeakMemoryMiB float64
}

// memoryTracker records peak cgroup memory usage observed while a task
// runs and whether it was proactively killed for exceeding its cap.
type memoryTracker struct {
	mu        sync.Mutex
	peakMiB   float64
	oomKilled bool
}

func (m *memoryTracker) record(usageMiB float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if usageMiB > m.peakMiB {
		m.peakMiB = usageMiB
	}
}

func (m *memoryTracker) killed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oomKilled = true
}

func (m *memoryTracker) snapshot() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakMiB, m.oomKilled
}

// Runner is the C2 container runner.
type Runner struct {
	client    *containerd.Client
	namespace string
}

// New connects to containerd at socketPath (DefaultSocketPath if empty).
func New(socketPath string) (*Runner, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd: %w", err)
	}

	return &Runner{client: client, namespace: DefaultNamespace}, nil
}

// Close closes the containerd client connection.
func (r *Runner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Run creates, starts, awaits, and tears down a container for cfg. On
// timeout it stops and removes the container and returns ExitCode -1 with
// a "timed out" stderr. On image-not-found it returns ExitCode -1 with a
// descriptive stderr.
func (r *Runner) Run(ctx context.Context, id string, cfg Config) (Result, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, cfg.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, cfg.Image, containerd.WithPullUnpack)
		if err != nil {
			return Result{ExitCode: -1, Stderr: fmt.Sprintf("image %s not found: %v", cfg.Image, err)}, nil
		}
	}

	workDir := cfg.ContainerWorkDir
	if workDir == "" {
		workDir = "/work"
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs(cfg.Argv...),
		oci.WithEnv(cfg.Env),
		oci.WithMounts([]specs.Mount{
			{
				Source:      cfg.HostWorkingDir,
				Destination: workDir,
				Type:        "bind",
				Options:     []string{"rbind"},
			},
		}),
	}

	if cfg.CPULimitCores > 0 {
		quota := int64(cfg.CPULimitCores * 100000)
		period := uint64(100000)
		opts = append(opts, oci.WithCPUCFS(quota, period))
	}
	if cfg.MemoryLimitMiB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(cfg.MemoryLimitMiB)*1024*1024))
	}

	container, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("creating container: %v", err)}, nil
	}
	defer container.Delete(ctx, containerd.WithSnapshotCleanup)

	var stdout, stderr bytes.Buffer
	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("creating task: %v", err)}, nil
	}
	defer task.Delete(ctx)

	statusC, err := task.Wait(ctx)
	if err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("waiting on task: %v", err)}, nil
	}

	if err := task.Start(ctx); err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("starting task: %v", err)}, nil
	}

	mem := &memoryTracker{}
	stopPoll := make(chan struct{})
	var pollWG sync.WaitGroup
	if cfg.MemoryLimitMiB > 0 {
		pollWG.Add(1)
		go r.pollMemory(ctx, task, cfg.MemoryLimitMiB, mem, stopPoll, &pollWG)
	}
	stopPolling := func() {
		close(stopPoll)
		pollWG.Wait()
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-statusC:
		stopPolling()
		code, _, err := status.Result()
		exitCode := int(code)
		if err != nil && exitCode == 0 {
			exitCode = -1
		}
		result := classify(exitCode, stdout.String(), stderr.String())
		result.PeakMemoryMiB, result.OOMKilled = mem.snapshot()
		return result, nil

	case <-timer.C:
		stopPolling()
		r.stopAndRemove(ctx, task)
		peak, oomKilled := mem.snapshot()
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: "container timed out", PeakMemoryMiB: peak, OOMKilled: oomKilled}, nil

	case <-ctx.Done():
		stopPolling()
		r.stopAndRemove(ctx, task)
		peak, oomKilled := mem.snapshot()
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: "container interrupted", PeakMemoryMiB: peak, OOMKilled: oomKilled}, ctx.Err()
	}
}

// pollMemory samples containerd cgroup metrics for task every
// memoryPollInterval, tracking peak usage. If usage reaches limitMiB it
// kills the task proactively and marks it OOM, mirroring the live-stats
// polling the original docker-backed runner used to catch the same case.
func (r *Runner) pollMemory(ctx context.Context, task containerd.Task, limitMiB int64, mem *memoryTracker, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(memoryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			metric, err := task.Metrics(ctx)
			if err != nil {
				continue
			}
			usageMiB, err := memoryUsageMiB(metric)
			if err != nil {
				continue
			}
			mem.record(usageMiB)
			if usageMiB >= float64(limitMiB) {
				mem.killed()
				_ = task.Kill(ctx, syscall.SIGKILL)
				return
			}
		}
	}
}

// memoryUsageMiB decodes the cgroup memory usage, in MiB, out of a
// containerd task metrics sample.
func memoryUsageMiB(metric *apitypes.Metric) (float64, error) {
	data, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return 0, fmt.Errorf("unmarshaling metrics: %w", err)
	}
	cg, ok := data.(*stats.Metrics)
	if !ok || cg.Memory == nil || cg.Memory.Usage == nil {
		return 0, fmt.Errorf("unsupported metrics payload %T", data)
	}
	return float64(cg.Memory.Usage.Usage) / (1024 * 1024), nil
}

// stopAndRemove implements the two-phase stop: SIGTERM, wait up to
// stopGrace, then SIGKILL.
func (r *Runner) stopAndRemove(ctx context.Context, task containerd.Task) {
	_ = task.Kill(ctx, syscall.SIGTERM)

	stopCtx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		_ = task.Kill(ctx, syscall.SIGKILL)
	}
}

// classify splits combined logs into stdout/stderr by the heuristic
// described in the container runner contract: on a clean exit, lines that
// look like errors are reclassified as stderr; on a failing exit, every
// line counts as stderr.
func classify(exitCode int, stdout, stderr string) Result {
	if exitCode != 0 {
		combined := stdout
		if stderr != "" {
			if combined != "" {
				combined += "\n"
			}
			combined += stderr
		}
		return Result{ExitCode: exitCode, Stderr: combined}
	}

	var errLines, otherLines []string
	for _, line := range strings.Split(stdout, "\n") {
		if looksLikeError(line) {
			errLines = append(errLines, line)
		} else {
			otherLines = append(otherLines, line)
		}
	}
	combinedStderr := strings.Join(errLines, "\n")
	if stderr != "" {
		if combinedStderr != "" {
			combinedStderr += "\n"
		}
		combinedStderr += stderr
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   strings.Join(otherLines, "\n"),
		Stderr:   combinedStderr,
	}
}

func looksLikeError(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range []string{"error", "exception", "failed", "fatal"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
