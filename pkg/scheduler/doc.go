/*
Package scheduler drives a batch of resolved tasks to completion.

# Architecture

Run holds one pending/running/results bookkeeping loop for the lifetime of
a single invocation:

	┌─────────────────────────────────────────────────────────┐
	│                    admitMore()                          │
	│  accountant.SelectSchedulable(pending) -> Admit -> spawn │
	└───────────────────────┬───────────────────────────────────┘
	                        │
	                        ▼
	┌─────────────────────────────────────────────────────────┐
	│                   select loop                            │
	│  resultsCh   -> reap: release, record, admitMore()       │
	│  sigCh       -> first: graceful; second: force           │
	│  ticker.C    -> log progress                              │
	└───────────────────────┬───────────────────────────────────┘
	                        │
	            ┌───────────┴────────────┐
	            ▼                        ▼
	    graceful shutdown          force shutdown
	    wait up to 30s for         cancel every running
	    in-flight tasks            context, KillAll native
	                               processes, wait up to 5s

Every running task owns its own cancellable context, derived from the
context passed to Run. Cancelling it is what makes both procrunner and
containerrunner tear down their child/container on the force-shutdown
path — the scheduler itself never touches a process or container handle
directly, beyond the optional procrunner.KillAll belt-and-suspenders call.
*/
package scheduler
