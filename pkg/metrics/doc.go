/*
Package metrics defines the Prometheus instrumentation for a batch-tamarin
run: task outcomes, scheduling latency, resource pool utilization, and
cache hit ratio. Every metric is registered at package init and exposed
over Handler() for a caller to mount on an HTTP mux.

# Metrics

	batchtamarin_tasks_total{status}             gauge   terminal task count by status
	batchtamarin_tasks_scheduled_total           counter tasks admitted by the scheduler
	batchtamarin_tasks_cached_total              counter tasks served from the result cache
	batchtamarin_tasks_failed_total{status}      counter non-successful terminal tasks by status
	batchtamarin_scheduling_latency_seconds      histogram pending -> admitted latency
	batchtamarin_task_execution_duration_seconds{status} histogram wall-clock execution time
	batchtamarin_pool_cores_available            gauge   cores free in the resource pool
	batchtamarin_pool_memory_available_gib       gauge   memory (GiB) free in the resource pool
	batchtamarin_cache_hits_total                counter cache lookups that found a result
	batchtamarin_cache_misses_total              counter cache lookups with no result
	batchtamarin_cache_entries                   gauge   entries currently stored
	batchtamarin_memory_sampler_peak_mib         histogram observed peak RSS across sampled tasks

# Usage

	timer := metrics.NewTimer()
	result, err := exec.Execute(ctx, task)
	timer.ObserveDurationVec(metrics.TaskExecutionDuration, string(result.Status))

	mux.Handle("/metrics", metrics.Handler())
*/
package metrics
