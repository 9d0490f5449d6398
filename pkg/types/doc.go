/*
Package types defines the core data structures shared across the batch
driver: the resolved task unit (ExecutableTask), its outcome (TaskResult),
the global resource pool (ResourcePool), and the run-level aggregate
(ExecutionSummary).

These types are produced by pkg/expander, consumed by pkg/scheduler and
pkg/executor, and persisted by pkg/cache and pkg/report. They carry no
behavior beyond small classification helpers; validation happens at the
package boundary that constructs them (pkg/expander).
*/
package types
