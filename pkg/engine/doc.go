/*
Package engine starts and finishes task executions.

The engine owns the start pipeline and the single terminal path. Every
way an execution can end, whether a container callback, a reconciler
verdict, a user stop or a failure inside the start pipeline itself,
funnels through the same resolve step, so cleanup and task settlement
happen exactly once no matter who noticed the ending first.

# Architecture

	  Admit (scheduler, API, reconciler re-admit)
	        │ non-blocking; full queue answers Unavailable
	        ▼
	┌─────────────────┐
	│ admission queue │  ids only, workers re-read the rows
	└────────┬────────┘
	         │
	   ┌─────┴─────┐
	   ▼           ▼
	 worker      worker        start pipeline:
	   │           │       CAS pending→running
	   └─────┬─────┘       snapshot task → stage config.json
	         │             allocate port → run container
	         ▼
	┌──────────────────┐   terminal path (Complete, StopExecution,
	│     resolve      │   failStart): CAS to a final status, then
	└────────┬─────────┘   cleanup + settle the task
	         ▼
	 stop/remove container, release port,
	 purge staged config, drop cache keys

# Admission

Admit hands the engine an execution id and never blocks; a full queue
answers errdefs.ErrUnavailable and the caller moves on. Queued entries
carry ids only. The worker re-reads the row and opens with a compare
and swap from pending to running, so an entry whose row was cancelled,
re-admitted twice or already picked up collapses into a logged skip.
That makes re-admission always safe, which is what the reconciler
leans on when it finds rows stuck in pending.

# Start Pipeline

The worker snapshots the task into config.json at start time; later
task edits never reach a running container. Port allocation retries a
few times with backoff because a freed port needs a moment to leave
TIME_WAIT. A container name conflict means a leftover from a dead run
still holds the name: the worker force-removes it and tries once more.
Any step failing lands the row on failed with the reason in its error
log, and whatever the pipeline had already built (staged config,
reserved port) is torn down through the same cleanup as a normal
ending.

# Terminal Path

Complete records a container-reported outcome, StopExecution cancels
on behalf of a user. Both go through resolve: a compare and swap into
the final status, then cleanup and task settlement. A second delivery
for the same execution fails the swap with errdefs.ErrFailedPrecondition
and changes nothing, which callers treat as success. Settlement returns
a running task to active and keeps the failure streak in the cache:
failed extends it, success and cancelled clear it.

# Usage

	e := engine.NewEngine(store, c, driver, allocator, broker, cfg)
	e.Start()
	defer e.Stop()

	if err := e.Admit(task, exec); err != nil {
	    // queue full; the row stays pending and the reconciler
	    // re-admits it next pass
	}

	_, err := e.Complete(exec.ID, engine.Outcome{
	    Success: true,
	    Result:  resultJSON,
	    Reason:  "completed",
	})

# Integration Points

  - pkg/scheduler: admits executions fired from schedules
  - pkg/manager: admits manual runs, stops on user request
  - pkg/callback: reports container outcomes through Complete
  - pkg/reconciler: resolves dead containers, re-admits stale pending
  - pkg/hostdriver: the container operations behind the pipeline
  - pkg/ports: host port reservation

# Troubleshooting

Executions stuck in pending: the queue was full or the process
restarted with admissions queued. Both heal on the next reconciler
pass. Executions failed with reason "ports": the host port range is
exhausted, widen ports.min/max or lower concurrency. A task left in
running with no live execution: settlement logs a warning when the
store write fails; the reconciler's next verdict settles it again.

# See Also

  - pkg/reconciler: the safety net over this package's pipeline
  - pkg/storage: the compare and swap semantics resolve relies on
*/
package engine
