package accountant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

func task(name string, cores, memGB int) *types.ExecutableTask {
	return &types.ExecutableTask{TaskName: name, MaxCores: cores, MaxMemoryGiB: memGB}
}

func TestAdmit_ExactFit(t *testing.T) {
	a := New(8, 16)
	full := task("full", 8, 16)

	assert.True(t, a.CanAdmit(full))
	assert.True(t, a.Admit(full))

	pool := a.Pool()
	assert.Equal(t, 0, pool.AvailableCores)
	assert.Equal(t, 0, pool.AvailableMemoryGiB)
}

func TestAdmit_Oversized(t *testing.T) {
	a := New(8, 16)
	big := task("big", 16, 16)

	assert.False(t, a.CanAdmit(big))
	assert.False(t, a.Admit(big))
}

func TestReleaseReversesAdmit(t *testing.T) {
	a := New(8, 16)
	t1 := task("t1", 4, 8)
	require.True(t, a.Admit(t1))

	require.NoError(t, a.Release(t1))

	pool := a.Pool()
	assert.Equal(t, 8, pool.AvailableCores)
	assert.Equal(t, 16, pool.AvailableMemoryGiB)
	assert.Equal(t, 0, a.AllocatedCount())
}

func TestReleaseWithoutAdmitIsError(t *testing.T) {
	a := New(8, 16)
	err := a.Release(task("ghost", 1, 1))
	assert.Error(t, err)
}

func TestSelectSchedulable_SkipsOversizedKeepsSmaller(t *testing.T) {
	a := New(8, 16)
	pending := []*types.ExecutableTask{
		task("big", 16, 16),
		task("small", 2, 2),
	}

	schedulable := a.SelectSchedulable(pending)
	require.Len(t, schedulable, 1)
	assert.Equal(t, "small", schedulable[0].TaskName)
}

func TestSelectSchedulable_FIFOWithinBudget(t *testing.T) {
	a := New(8, 16)
	pending := []*types.ExecutableTask{
		task("a", 4, 4),
		task("b", 4, 4),
		task("c", 4, 4),
	}

	schedulable := a.SelectSchedulable(pending)
	require.Len(t, schedulable, 2)
	assert.Equal(t, "a", schedulable[0].TaskName)
	assert.Equal(t, "b", schedulable[1].TaskName)
}
