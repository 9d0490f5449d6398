/*
Package log wraps zerolog with a package-global logger plus component-
scoped child loggers, matching the shape each SPEC_FULL.md component
needs: one logger per pipeline stage, one per task, one per resource
pool instance.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Int("pending", 12).Msg("admitting tasks")

	taskLog := log.WithTaskID(task.TaskName)
	taskLog.Error().Err(err).Msg("execution failed")

	poolLog := log.WithPoolID("global")
	poolLog.Debug().Int("available_cores", pool.AvailableCores).Msg("pool utilization")

JSONOutput controls console vs JSON encoding; both carry a timestamp.
A nil Config.Output defaults to stdout.
*/
package log
