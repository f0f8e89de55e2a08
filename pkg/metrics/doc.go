/*
Package metrics provides Prometheus metrics collection and exposition for
Magpie.

The metrics package defines and registers all Magpie metrics using the
Prometheus client library, plus the health and readiness endpoints served
alongside them. Inventory gauges are sampled from the store by a
background collector; counters and histograms are incremented inline by
the subsystems doing the work.

# Architecture

	┌─────────────────── METRICS PIPELINE ───────────────────┐
	│                                                        │
	│  scheduler ─┐                                          │
	│  engine ────┤  inline counters/histograms              │
	│  reconciler ├──────────────┐                           │
	│  callback ──┘              ▼                           │
	│                   ┌─────────────────┐                  │
	│  ┌───────────┐    │   Prometheus    │    ┌──────────┐  │
	│  │ Collector │───▶│    registry     │───▶│ /metrics │  │
	│  │ (15s tick)│    └─────────────────┘    └──────────┘  │
	│  └─────┬─────┘                                         │
	│        │ samples                                       │
	│        ▼                                               │
	│  ┌───────────┐         ┌───────────────────────────┐   │
	│  │   store   │         │ /health  /ready  /live    │   │
	│  └───────────┘         └───────────────────────────┘   │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric variables: package-level Prometheus collectors registered in
init. Subsystems import the package and touch the variables directly;
there is no indirection layer.

Collector: samples task, schedule, and execution inventory from the
store every 15 seconds and sets the gauges. Sampling a small BoltDB is
microseconds; nothing here needs caching.

Timer: a convenience for histogram observation, used around scheduler
ticks, reconciler passes, and execution starts.

HealthChecker: component health registry behind /health, /ready, and
/live. Readiness gates on the store, scheduler, and callback listener;
anything else unhealthy degrades /health but not /ready.

# Metrics Catalog

Inventory (gauges, sampled):

	magpie_tasks_total{status}          tasks by status
	magpie_schedules_active             active schedules
	magpie_executions_total{status}     execution rows by status

Scheduler:

	magpie_scheduler_is_leader          1 when this instance holds the lease
	magpie_scheduler_fires_total        schedule fires admitted
	magpie_schedules_disabled_total     auto-disables after consecutive failures
	magpie_scheduler_tick_duration_seconds

Execution engine:

	magpie_executions_started_total     executions brought to running
	magpie_executions_ended_total{status,reason}
	magpie_execution_start_duration_seconds
	magpie_port_exhaustion_total        starts failed on an empty port range

Callback endpoint:

	magpie_heartbeats_received_total
	magpie_heartbeat_store_writes_dropped_total
	magpie_completions_received_total{result}

Reconciler:

	magpie_reconciler_passes_total
	magpie_reconciler_pass_duration_seconds

Control API:

	magpie_api_requests_total{method,status}
	magpie_api_request_duration_seconds{method}

# Usage

Incrementing from a subsystem:

	metrics.SchedulerFires.Inc()
	metrics.ExecutionsEnded.WithLabelValues("failed", "heartbeat lost").Inc()

Timing an operation:

	timer := metrics.NewTimer()
	runPass(ctx)
	timer.ObserveDuration(metrics.ReconcilerPassDuration)

Serving the endpoints:

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

Reporting component health:

	metrics.RegisterComponent("store", true, "")
	metrics.UpdateComponent("scheduler", false, "lease not held")

# Integration Points

  - pkg/scheduler, pkg/engine, pkg/reconciler, pkg/callback: inline
    metric writes
  - pkg/storage: sampled by the Collector
  - cmd/magpie: starts the Collector and serves the endpoints

# Design Patterns

Package-Level Registration: metrics are package variables registered in
init, the standard Prometheus client pattern. The cost is a shared
default registry in tests; the benefit is zero plumbing through
constructors.

Sampled Inventory: gauges reflect store reality on a cadence rather
than being maintained incrementally, so they cannot drift from the
authoritative state after a crash.

# Troubleshooting

Gauges frozen: the Collector is not running (check cmd/magpie startup)
or store reads are failing; collection errors are silent and keep the
previous sample.

magpie_scheduler_is_leader is 0 on every instance: the lease in the
cache expired without renewal; check cache connectivity.

Duplicate registration panic in tests: two test binaries importing the
package share the default registry only within a process; a panic means
a metric name is declared twice in this package.

# See Also

  - pkg/scheduler: tick timing and leadership gauge
  - pkg/reconciler: pass timing and resolution reasons
  - pkg/storage: the sampled source of truth
*/
package metrics
