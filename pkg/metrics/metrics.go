package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoe_scheduler_queue_length",
			Help: "Number of executions in the scheduler queues",
		},
		[]string{"queue"},
	)

	ExecutionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoe_executions_total",
			Help: "Number of executions by status",
		},
		[]string{"status"},
	)

	// Cluster metrics
	ClusterCores = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoe_cluster_cores",
			Help: "Cluster cores from the last resource snapshot",
		},
		[]string{"kind"}, // total, used
	)

	ClusterMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoe_cluster_memory_bytes",
			Help: "Cluster memory from the last resource snapshot",
		},
		[]string{"kind"},
	)

	ClusterContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zoe_cluster_containers",
			Help: "Number of Zoe containers alive in the last resource snapshot",
		},
	)

	SnapshotAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zoe_status_snapshot_age_seconds",
			Help: "Age of the cached resource snapshot",
		},
	)

	// Lifecycle metrics
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_admissions_total",
			Help: "Admission control decisions by result",
		},
		[]string{"result"},
	)

	ExecutionStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_execution_starts_total",
			Help: "Execution start attempts by result",
		},
		[]string{"result"},
	)

	ExecutionTerminationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zoe_execution_terminations_total",
			Help: "Total number of terminated executions",
		},
	)

	HealthCheckKillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zoe_health_check_terminations_total",
			Help: "Executions terminated because their monitor service died",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zoe_scheduling_latency_seconds",
			Help:    "Time from submission to running in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
	)

	// Periodic task metrics
	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_periodic_task_runs_total",
			Help: "Periodic task runs by task and result",
		},
		[]string{"task", "result"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoe_periodic_task_duration_seconds",
			Help:    "Periodic task run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	LifecycleEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_lifecycle_events_total",
			Help: "Execution lifecycle events consumed from the event broker by type",
		},
		[]string{"type"},
	)

	// Command channel metrics
	IPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_ipc_requests_total",
			Help: "Command channel requests by command and status",
		},
		[]string{"command", "status"},
	)

	IPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoe_ipc_request_duration_seconds",
			Help:    "Command channel request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ClusterCores)
	prometheus.MustRegister(ClusterMemoryBytes)
	prometheus.MustRegister(ClusterContainers)
	prometheus.MustRegister(SnapshotAge)
	prometheus.MustRegister(AdmissionsTotal)
	prometheus.MustRegister(ExecutionStartsTotal)
	prometheus.MustRegister(ExecutionTerminationsTotal)
	prometheus.MustRegister(HealthCheckKillsTotal)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(LifecycleEventsTotal)
	prometheus.MustRegister(TaskRunsTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(IPCRequestsTotal)
	prometheus.MustRegister(IPCRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
