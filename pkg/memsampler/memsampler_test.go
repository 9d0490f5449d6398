package memsampler

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler_NoSamplesWhenNeverTicked(t *testing.T) {
	s := New()
	assert.Nil(t, s.Stats())
}

func TestSampler_SamplesLiveProcess(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "2")
	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	s := &Sampler{cadence: 50 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	s.Run(ctx, int32(cmd.Process.Pid))

	stats := s.Stats()
	require.NotNil(t, stats)
	assert.Greater(t, stats.PeakMiB, 0.0)
	assert.Greater(t, stats.MeanMiB, 0.0)
}

func TestSampler_TolerateMissingPID(t *testing.T) {
	s := &Sampler{cadence: 20 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// a PID vanishingly unlikely to exist
	s.Run(ctx, int32(1<<30))
	assert.Nil(t, s.Stats())
}
