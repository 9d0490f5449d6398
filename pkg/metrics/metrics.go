package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchtamarin_tasks_total",
			Help: "Total number of tasks by terminal status",
		},
		[]string{"status"},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchtamarin_tasks_scheduled_total",
			Help: "Total number of tasks admitted by the scheduler",
		},
	)

	TasksCached = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchtamarin_tasks_cached_total",
			Help: "Total number of tasks served from the result cache",
		},
	)

	TasksFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchtamarin_tasks_failed_total",
			Help: "Total number of non-successful terminal tasks by status",
		},
		[]string{"status"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchtamarin_scheduling_latency_seconds",
			Help:    "Time from a task entering pending to being admitted",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchtamarin_task_execution_duration_seconds",
			Help:    "Task execution wall-clock duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"status"},
	)

	// Resource pool metrics
	PoolCoresAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchtamarin_pool_cores_available",
			Help: "Cores currently available in the resource pool",
		},
	)

	PoolMemoryAvailableGiB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchtamarin_pool_memory_available_gib",
			Help: "Memory (GiB) currently available in the resource pool",
		},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchtamarin_cache_hits_total",
			Help: "Total number of cache lookups that found a prior result",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchtamarin_cache_misses_total",
			Help: "Total number of cache lookups with no prior result",
		},
	)

	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchtamarin_cache_entries",
			Help: "Number of entries currently stored in the result cache",
		},
	)

	// Memory sampler metrics
	MemorySamplerPeakMiB = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchtamarin_memory_sampler_peak_mib",
			Help:    "Observed peak RSS/working-set in MiB across sampled tasks",
			Buckets: []float64{64, 256, 512, 1024, 2048, 4096, 8192, 16384},
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksCached)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(TaskExecutionDuration)
	prometheus.MustRegister(PoolCoresAvailable)
	prometheus.MustRegister(PoolMemoryAvailableGiB)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheSize)
	prometheus.MustRegister(MemorySamplerPeakMiB)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
