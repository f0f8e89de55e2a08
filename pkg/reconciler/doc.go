/*
Package reconciler closes the gap between execution rows and container
reality.

Containers report their own endings through the callback server. The
reconciler exists for the ones that never do: a crashed collector, a
killed engine daemon, a callback lost to a network partition, a process
restart that dropped queued admissions. Each pass compares what the
store believes with what the host reports and resolves the difference
through the engine's terminal path.

# Architecture

	         every 30s
	            │
	            ▼
	┌──────────────────────────┐
	│          Pass            │
	├──────────────────────────┤
	│ sweep running rows       │──▶ inspect container (bounded
	│                          │    parallelism, errgroup limit)
	│                          │
	│   gone      ──▶ failed   │
	│   exited 0  ──▶ success  │──▶ engine.Complete
	│   exited ≠0 ──▶ failed   │    (cleanup + settle)
	│   running   ──▶ heartbeat│
	│                 check    │
	│                          │
	│ requeue stale pending    │──▶ engine.Admit
	└──────────────────────────┘

# Verdict Order

Container state is authoritative and is read first. A row only fails on
heartbeat evidence while its container is verifiably running; without
that ordering, a lost heartbeat record would kill executions whose
containers are fine. When the host itself does not answer the inspect,
there is no verdict at all; the next pass asks again.

A container that exited 0 without delivering its completion callback
resolves to success with an empty result (a silent success). Any other
exit resolves to failed with the code and status string in the error
log.

# Heartbeat Judgement

The freshest heartbeat wins: the cache record leads, the durable
last-heartbeat column is the fallback after a cache restart. A live
container that has never reported within the full heartbeat timeout
since its start fails outright. A stale heartbeat only counts: the
timeout counter has to reach the configured tolerance over consecutive
passes before the execution fails, so one slow scrape or one dropped
report never kills a run. Any fresh heartbeat resets the counter.

# Pending Requeue

The same pass re-admits pending rows older than the admission timeout.
Rows land there when the engine's queue answered full or when a restart
dropped queued admissions; re-admission is safe because the engine's
workers open with a compare and swap. A stale pending row whose task
was deleted is cancelled instead.

# Usage

	r := reconciler.NewReconciler(store, c, driver, eng, cfg)
	r.Start()
	defer r.Stop()

# Integration Points

  - pkg/hostdriver: Inspect answers container reality
  - pkg/engine: Complete lands verdicts, Admit requeues pending rows
  - pkg/cache: heartbeat records and the timeout counter
  - pkg/callback: writes the heartbeat records this package reads

# Troubleshooting

Executions failing with "heartbeat lost" while their containers look
healthy: the collector inside the container is not posting heartbeats,
or the callback advertise URL is unreachable from containers. Check
the callback server logs first. Rows flapping between stale warnings
and recovery: heartbeat cadence inside the collector is too close to
the configured timeout; widen heartbeat.timeout or report more often.
Verdicts never landing: every verdict goes through the engine, so an
engine that cannot reach the store blocks this package too.

# See Also

  - pkg/engine: the terminal path every verdict goes through
  - pkg/scheduler: fires the executions this package watches over
*/
package reconciler
