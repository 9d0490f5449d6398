// Package accountant tracks the global CPU-core and memory-GiB pools and
// answers admission questions for the scheduler. It holds the only shared
// mutable state the scheduler loop touches besides the process/container
// registries.
package accountant

import (
	"fmt"
	"sync"

	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

type allocation struct {
	cores     int
	memoryGiB int
}

// Accountant is the C4 resource pool and admission controller. Safe for
// concurrent use; in practice it is touched only from the scheduler's loop.
type Accountant struct {
	mu sync.Mutex

	availableCores int
	availableMemGB int

	globalMaxCores int
	globalMaxMemGB int

	allocated map[string]allocation
}

// New constructs an Accountant with both pools initialized to the given
// global caps.
func New(globalMaxCores, globalMaxMemoryGiB int) *Accountant {
	return &Accountant{
		availableCores: globalMaxCores,
		availableMemGB: globalMaxMemoryGiB,
		globalMaxCores: globalMaxCores,
		globalMaxMemGB: globalMaxMemoryGiB,
		allocated:      make(map[string]allocation),
	}
}

// Pool returns a snapshot of the current pool state for reporting.
func (a *Accountant) Pool() types.ResourcePool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return types.ResourcePool{
		AvailableCores:     a.availableCores,
		AvailableMemoryGiB: a.availableMemGB,
		GlobalMaxCores:     a.globalMaxCores,
		GlobalMaxMemoryGiB: a.globalMaxMemGB,
	}
}

// CanAdmit reports whether task fits in the currently available pool.
func (a *Accountant) CanAdmit(task *types.ExecutableTask) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canAdmitLocked(task)
}

func (a *Accountant) canAdmitLocked(task *types.ExecutableTask) bool {
	return task.MaxCores <= a.availableCores && task.MaxMemoryGiB <= a.availableMemGB
}

// Admit decrements the pools and records the allocation if task fits;
// returns false and does nothing otherwise.
func (a *Accountant) Admit(task *types.ExecutableTask) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.canAdmitLocked(task) {
		return false
	}
	a.availableCores -= task.MaxCores
	a.availableMemGB -= task.MaxMemoryGiB
	a.allocated[task.TaskName] = allocation{cores: task.MaxCores, memoryGiB: task.MaxMemoryGiB}
	return true
}

// Release reverses a prior Admit for task. Releasing a task with no
// recorded allocation is a programming error; it is logged by the caller
// (the scheduler) rather than panicking, per the error-handling policy for
// internal bugs.
func (a *Accountant) Release(task *types.ExecutableTask) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.allocated[task.TaskName]
	if !ok {
		return fmt.Errorf("release without prior admit for task %s", task.TaskName)
	}
	delete(a.allocated, task.TaskName)
	a.availableCores += alloc.cores
	a.availableMemGB += alloc.memoryGiB
	return nil
}

// SelectSchedulable scans pending in FIFO order, tentatively admitting
// against a local copy of the pool, and returns the subset the scheduler
// should attempt to Admit this round. It never mutates the real pool and
// never breaks early: a task that doesn't fit is skipped, not a stopping
// condition, so smaller tasks further down the queue still get a chance.
func (a *Accountant) SelectSchedulable(pending []*types.ExecutableTask) []*types.ExecutableTask {
	a.mu.Lock()
	cores := a.availableCores
	memGB := a.availableMemGB
	a.mu.Unlock()

	var schedulable []*types.ExecutableTask
	for _, task := range pending {
		if task.MaxCores <= cores && task.MaxMemoryGiB <= memGB {
			schedulable = append(schedulable, task)
			cores -= task.MaxCores
			memGB -= task.MaxMemoryGiB
		}
	}
	return schedulable
}

// AllocatedCount returns the number of tasks currently holding an
// allocation, for diagnostics and tests.
func (a *Accountant) AllocatedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}
