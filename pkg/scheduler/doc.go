/*
Package scheduler turns due schedules into pending executions.

The scheduler is the only component that decides WHEN a task runs. It
owns none of the running: once it commits a pending execution it hands
the id to the execution engine and moves on. Everything stateful lives
in the store and the cache, so the scheduler itself can die and restart
at any point of its pass without losing or duplicating a run.

# Architecture

Every magpie instance runs the loop, but only the lease holder scans:

	┌────────────────────────────────────────────────────────────┐
	│                    Scheduler Loop                          │
	│                  (every 60 seconds)                        │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Contend for the leader lease (scheduler:leader)        │
	│  2. Load the due batch: active, next-fire <= now           │
	│  3. For each due schedule:                                 │
	│     • re-read the task, skip deleted/running/paused        │
	│     • last three executions all failed? deactivate         │
	│     • live execution present? skip, keep next-fire         │
	│     • commit {pending execution + new next-fire} in one    │
	│       store transaction                                    │
	│     • admit to the engine (best effort)                    │
	└────────────────────────────────────────────────────────────┘

The lease (TTL 120s, refreshed every 30s) suppresses duplicate scanning,
not duplicate admission. Correctness does not depend on it: the store's
fire transaction re-checks for a live execution, so even two concurrent
leaders cannot give one task two runs.

# Schedule Types

Seven recurrence families share one config object; which fields matter
depends on the type:

	immediate   {}                                  fires once, right away
	once-at     {datetime: "2025-03-01 08:00:00"}   fires once at a local datetime
	interval    {interval: 30, unit: "minutes"}     fires every N units
	daily       {time: "03:30:00"}                  fires at a wall-clock time
	weekly      {days: [1,3], time: "03:30:00"}     1=Monday .. 7=Sunday
	monthly     {dates: [1,-1], time: "03:30:00"}   -1 = last day; absent dates skip
	cron        {cron_expression: "0/15 * * * *"}   full cron grammar

After a fire the next-fire timestamp is recomputed from type + config +
now. One-shot types (immediate, once-at) recompute to null and the
schedule deactivates. A monthly date the month does not have (the 31st
in April) skips that month rather than clamping to its end.

FirstFire and NextAfter are pure functions of (type, config, now), so
schedule arithmetic is testable without a store or a clock.

# Catch-up Semantics

A skipped fire (task running, task paused, instance down) does not
advance next-fire. The schedule stays due and the first pass after the
obstacle clears fires it once. Missed occurrences do not queue up:
firing recomputes next-fire from the current instant, so a schedule that
was unserviceable for three days produces one catch-up run, not three.

# Auto-disable

Deactivation is the scheduler's only value judgement. When a task's last
three executions all failed, the pass deactivates the schedule instead
of firing a fourth run, clears the task's backoff counter, and emits a
schedule-disabled event. The task itself is untouched: operators can
still run it manually, and reactivating the schedule re-arms it.

# Usage

	sched := scheduler.NewScheduler(store, cache, engine, broker, cfg.Scheduler)
	sched.Start()
	defer sched.Stop()

Stop releases the leader lease so a peer can take over immediately
instead of waiting out the TTL.

# Integration Points

  - pkg/storage: due-schedule batches and the transactional fire path
  - pkg/cache: leader lease and backoff counters
  - pkg/engine: admission of freshly fired executions
  - pkg/events: schedule-fired / schedule-disabled / execution-admitted
  - pkg/metrics: fire counters, tick duration, leader gauge

# Troubleshooting

Nothing fires: check the leader gauge (magpie_scheduler_leader). If no
instance holds the lease, the cache backend is unreachable. If a lease
is held by a dead instance, it frees itself after the TTL.

A schedule fires late: the cadence bounds fire latency at one minute.
Schedules due for longer than a pass indicate the owning task is stuck
running; the reconciler resolves those.

A schedule went inactive on its own: its task failed three runs in a
row, or its config stopped computing a next fire. The schedule-disabled
event carries the reason.

# See Also

  - pkg/engine for what happens to an admitted execution
  - pkg/reconciler for re-admission of stuck pending rows
*/
package scheduler
