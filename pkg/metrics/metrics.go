package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics, sampled by the Collector
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magpie_tasks_total",
			Help: "Number of tasks by status",
		},
		[]string{"status"},
	)

	SchedulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "magpie_schedules_active",
			Help: "Number of active schedules",
		},
	)

	ExecutionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magpie_executions_total",
			Help: "Number of execution rows by status",
		},
		[]string{"status"},
	)

	// Scheduler metrics
	SchedulerLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "magpie_scheduler_is_leader",
			Help: "Whether this instance holds the scheduler lease (1 = leader)",
		},
	)

	SchedulerFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_scheduler_fires_total",
			Help: "Total number of schedule fires admitted",
		},
	)

	SchedulesDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_schedules_disabled_total",
			Help: "Total number of schedules auto-disabled after consecutive failures",
		},
	)

	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magpie_scheduler_tick_duration_seconds",
			Help:    "Duration of scheduler ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Execution engine metrics
	ExecutionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_executions_started_total",
			Help: "Total number of executions brought to running",
		},
	)

	ExecutionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_executions_ended_total",
			Help: "Total number of executions reaching a terminal status, by status and reason",
		},
		[]string{"status", "reason"},
	)

	StartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magpie_execution_start_duration_seconds",
			Help:    "Time from admission to running container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PortExhaustion = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_port_exhaustion_total",
			Help: "Total number of starts failed on an exhausted port range",
		},
	)

	// Callback metrics
	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_heartbeats_received_total",
			Help: "Total number of heartbeat callbacks ingested",
		},
	)

	HeartbeatWritesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_heartbeat_store_writes_dropped_total",
			Help: "Total number of heartbeat store updates dropped by the overflow policy",
		},
	)

	CompletionsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_completions_received_total",
			Help: "Total number of completion callbacks by reported result",
		},
		[]string{"result"},
	)

	// Reconciler metrics
	ReconcilerPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_reconciler_passes_total",
			Help: "Total number of reconciler passes",
		},
	)

	ReconcilerPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magpie_reconciler_pass_duration_seconds",
			Help:    "Duration of reconciler passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magpie_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(SchedulesActive)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(SchedulerLeader)
	prometheus.MustRegister(SchedulerFires)
	prometheus.MustRegister(SchedulesDisabled)
	prometheus.MustRegister(SchedulerTickDuration)
	prometheus.MustRegister(ExecutionsStarted)
	prometheus.MustRegister(ExecutionsEnded)
	prometheus.MustRegister(StartDuration)
	prometheus.MustRegister(PortExhaustion)
	prometheus.MustRegister(HeartbeatsReceived)
	prometheus.MustRegister(HeartbeatWritesDropped)
	prometheus.MustRegister(CompletionsReceived)
	prometheus.MustRegister(ReconcilerPasses)
	prometheus.MustRegister(ReconcilerPassDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
