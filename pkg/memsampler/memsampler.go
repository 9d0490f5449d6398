// Package memsampler implements the memory sampler (C3): while a native
// subprocess is alive, poll its RSS at a fixed cadence and report peak and
// mean. Grounded on the gopsutil-based pidStats polling loop used to
// monitor subprocess memory usage, generalized into a cooperative
// goroutine the executor starts alongside a dispatch and stops on exit.
package memsampler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

const defaultCadence = 1 * time.Second

// Sampler polls one PID's RSS until stopped.
type Sampler struct {
	cadence time.Duration

	samples int
	sum     float64
	peak    float64
}

// New constructs a Sampler with the recommended 1-second cadence.
func New() *Sampler {
	return &Sampler{cadence: defaultCadence}
}

// Run polls pid's resident memory every cadence until ctx is cancelled.
// Missed samples (process not yet registered, transient read failure) are
// tolerated and simply skipped; it is not an error for zero samples to be
// taken if the target finishes before the first tick.
func (s *Sampler) Run(ctx context.Context, pid int32) {
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(pid)
		}
	}
}

func (s *Sampler) sampleOnce(pid int32) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return
	}

	mib := float64(memInfo.RSS) / (1024 * 1024)
	s.samples++
	s.sum += mib
	if mib > s.peak {
		s.peak = mib
	}
}

// Stats returns the accumulated MemoryStats, or nil if no samples were
// ever taken.
func (s *Sampler) Stats() *types.MemoryStats {
	if s.samples == 0 {
		return nil
	}
	return &types.MemoryStats{
		PeakMiB: s.peak,
		MeanMiB: s.sum / float64(s.samples),
	}
}
