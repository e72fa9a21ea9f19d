package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory gauges
	DevicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netmon_devices_total",
			Help: "Total number of devices by enabled state",
		},
		[]string{"enabled"},
	)

	DevicesUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_devices_up",
			Help: "Number of devices currently considered up",
		},
	)

	DevicesDown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_devices_down",
			Help: "Number of devices currently considered down",
		},
	)

	DevicesFlapping = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_devices_flapping",
			Help: "Number of devices currently in the flapping state",
		},
	)

	// Batch planner gauges
	BatchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_batch_size",
			Help: "Device count assigned to the most recent batch plan",
		},
	)

	BatchCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_batch_count",
			Help: "Number of partitions produced by the most recent batch plan",
		},
	)

	// Queue depth / latency
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netmon_queue_depth",
			Help: "Number of tasks currently waiting in a named queue",
		},
		[]string{"queue"},
	)

	QueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_queue_wait_duration_seconds",
			Help:    "Time a task spent waiting in queue before a worker picked it up",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_tasks_enqueued_total",
			Help: "Total number of tasks enqueued by queue and kind",
		},
		[]string{"queue", "kind"},
	)

	TasksDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_tasks_dropped_total",
			Help: "Total number of tasks dropped because their queue was full",
		},
		[]string{"queue"},
	)

	// Worker / probe metrics
	WorkerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_worker_task_duration_seconds",
			Help:    "Time taken by a worker to process one batch task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "kind"},
	)

	WorkerRecycledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_worker_recycled_total",
			Help: "Total number of worker goroutines recycled after reaching their task limit",
		},
		[]string{"queue"},
	)

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_probes_total",
			Help: "Total number of probes executed by driver and outcome",
		},
		[]string{"driver", "reachable"},
	)

	ProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_probe_failures_total",
			Help: "Total number of probe failures by driver and reason code",
		},
		[]string{"driver", "reason"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_probe_duration_seconds",
			Help:    "Time taken to execute a single probe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver"},
	)

	// State machine / alert evaluator
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_state_transitions_total",
			Help: "Total number of device up/down transitions",
		},
		[]string{"direction"},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netmon_evaluation_duration_seconds",
			Help:    "Time taken for one alert evaluation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	AlertsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_alerts_opened_total",
			Help: "Total number of alert instances opened by rule and severity",
		},
		[]string{"rule_id", "severity"},
	)

	AlertsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_alerts_resolved_total",
			Help: "Total number of alert instances resolved by rule",
		},
		[]string{"rule_id"},
	)

	AlertsFiring = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_alerts_firing",
			Help: "Number of alert instances currently firing",
		},
	)

	AlertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_alerts_suppressed_total",
			Help: "Total number of evaluations suppressed by cascade or flap rules",
		},
		[]string{"reason"},
	)

	// Gateway / storage metrics
	GatewayWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_gateway_write_duration_seconds",
			Help:    "Time taken for a Gateway write path by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	GatewayReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_gateway_read_duration_seconds",
			Help:    "Time taken for a Gateway read path by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	TSDBUnavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netmon_tsdb_unavailable_total",
			Help: "Total number of Gateway calls that returned an unavailable TSDB result",
		},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_cache_hits_total",
			Help: "Total number of read cache hits by key kind",
		},
		[]string{"kind"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_cache_misses_total",
			Help: "Total number of read cache misses by key kind",
		},
		[]string{"kind"},
	)

	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_cache_errors_total",
			Help: "Total number of read cache errors that fell open to the Gateway",
		},
		[]string{"op"},
	)

	// Scheduler metrics
	SchedulerCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_scheduler_cycles_total",
			Help: "Total number of scheduler fires by cadence",
		},
		[]string{"cadence"},
	)

	SchedulerSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_scheduler_skipped_total",
			Help: "Total number of scheduler fires skipped because the previous cycle had not finished",
		},
		[]string{"cadence"},
	)
)

func init() {
	prometheus.MustRegister(
		DevicesTotal, DevicesUp, DevicesDown, DevicesFlapping,
		BatchSize, BatchCount,
		QueueDepth, QueueWaitDuration, TasksEnqueuedTotal, TasksDroppedTotal,
		WorkerTaskDuration, WorkerRecycledTotal, ProbesTotal, ProbeFailuresTotal, ProbeDuration,
		StateTransitionsTotal, EvaluationDuration, AlertsOpenedTotal, AlertsResolvedTotal,
		AlertsFiring, AlertsSuppressedTotal,
		GatewayWriteDuration, GatewayReadDuration, TSDBUnavailableTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		SchedulerCyclesTotal, SchedulerSkippedTotal,
	)
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
