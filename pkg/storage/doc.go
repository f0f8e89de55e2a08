/*
Package storage provides BoltDB-backed state persistence for Magpie's
control-plane data.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for tasks, schedules,
executions, and RBAC policies. All data is serialized as JSON and stored in
separate buckets for efficient querying and isolation. The execution bucket
additionally enforces the two lifecycle invariants every other component
relies on: at most one non-terminal execution per task, and terminal status
monotonicity.

# Architecture

Magpie uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/magpie.db                │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ task           (Task ID)   │             │          │
	│  │  │ task_schedule  (Sched ID)  │             │          │
	│  │  │ task_execution (Exec ID)   │             │          │
	│  │  │ policy         (Policy ID) │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Lifecycle Guards                      │          │
	│  │  - CreateExecution: single-active check     │          │
	│  │  - TransitionExecution: status CAS          │          │
	│  │  - UpdateExecution: terminal rows rejected  │          │
	│  │  - FireSchedule: exec + next-fire atomic    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file per control-plane process
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Buckets:
  - task: Collection job definitions (soft-deleted in place)
  - task_schedule: Recurrence rules owned by tasks
  - task_execution: Execution attempts and their lifecycle state
  - policy: RBAC subject/object/action records

Transaction Model:
  - Read transactions: db.View() - Concurrent, consistent snapshots
  - Write transactions: db.Update() - Serialized, atomic commits
  - Isolation: Snapshot isolation (MVCC)
  - Durability: fsync on commit ensures crash recovery

# Lifecycle Guards

The execution bucket is not plain CRUD. Three guards implement the
orchestrator's correctness rules inside single write transactions:

Single Active Execution:
  - CreateExecution and FireSchedule scan the task's executions inside
    the write transaction
  - Any pending or running row blocks the insert with a conflict error
  - Serialized write transactions make the scan + insert atomic, so
    parallel admissions cannot both succeed

Terminal Monotonicity:
  - TransitionExecution is the only path that changes status
  - A stored terminal row fails every transition and every update with
    a failed-precondition error
  - Callers distinguish "already resolved" (idempotent completion
    delivery) from genuine invariant violations by the error kind

Atomic Schedule Fire:
  - FireSchedule writes the pending execution and the schedule's
    recomputed next-fire in one transaction
  - A missed enqueue after commit is recoverable (the reconciler
    re-admits stale pending rows); a double fire is not, so the commit
    is the single point of truth

# Usage

Opening a Store:

	store, err := storage.NewBoltStore("/var/lib/magpie")
	if err != nil {
		log.Fatal("failed to open store")
	}
	defer store.Close()

Task Round Trip:

	task := &types.Task{
		ID:          uuid.New().String(),
		Name:        "product-listings",
		Type:        types.TaskTypeContainerCrawl,
		Status:      types.TaskStatusActive,
		TriggerMode: types.TriggerManual,
		BaseURL:     "https://shop.example.com/catalog",
		CreatedBy:   "alice",
	}
	if err := store.CreateTask(task); err != nil { ... }

	task, err = store.GetTaskByName("product-listings")
	tasks, err := store.ListTasks()

Guarded Status Transition:

	exec, err := store.TransitionExecution(execID,
		[]types.ExecutionStatus{types.ExecutionPending},
		func(e *types.Execution) {
			e.Status = types.ExecutionRunning
			now := time.Now()
			e.StartedAt = &now
		})
	switch {
	case errdefs.IsFailedPrecondition(err):
		// already terminal, nothing to do
	case errdefs.IsConflict(err):
		// someone else moved it first
	}

Firing a Schedule:

	exec := &types.Execution{ID: ..., TaskID: sched.TaskID,
		Status: types.ExecutionPending, ...}
	sched.NextFire = &next
	if err := store.FireSchedule(exec, sched); err != nil {
		// conflict: task already has an active execution; skip this fire
	}

Reconciler Sweep:

	running, err := store.ListExecutionsByStatus(types.ExecutionRunning)
	for _, exec := range running {
		// inspect container, resolve terminal state
	}

# Integration Points

This package integrates with:

  - pkg/types: All persisted structures
  - pkg/manager: Task CRUD and business-rule validation
  - pkg/scheduler: Due-schedule scan and atomic fires
  - pkg/engine: Execution status transitions
  - pkg/reconciler: Status sweeps and terminal resolution
  - pkg/callback: Heartbeat and completion writes
  - pkg/rbac: Policy record lookups

# Design Patterns

Interface Segregation:
  - Store interface defined separately from BoltStore
  - Enables test fakes and alternative backends
  - All consumers depend on the interface

Upsert Pattern:
  - UpdateTask/UpdateSchedule delegate to Create (Put overwrites)
  - Simplifies the write path; versioning is not required

Soft Delete Pattern:
  - Deleted rows keep their bucket entry with Deleted=true
  - Lookups filter them out; audit paths (GetTask) still see them
  - DeleteTask cascades the flag to schedules in the same transaction

Guarded Write Pattern:
  - Execution writes re-read the stored row inside the transaction
  - The check and the write are atomic under bbolt's single-writer rule

# Error Handling

Not-found, conflict, and precondition failures wrap the containerd
errdefs sentinels so callers can classify without string matching:

	_, err := store.GetTask(id)
	if errdefs.IsNotFound(err) { ... }

	err = store.CreateExecution(exec)
	if errdefs.IsConflict(err) { ... }

# Performance Characteristics

Write Throughput:
  - Serialized write transactions: ~500-2000 writes/sec (fsync-bound)
  - The control plane writes at human/scheduler cadence, far below this

Read Throughput:
  - mmap-backed reads, concurrent View transactions
  - List operations scan buckets and filter in memory; Magpie
    deployments hold thousands of rows, not millions, so scans stay
    in the sub-millisecond range

Scan-based Queries:
  - GetTaskByName, GetActiveExecution, ListDueSchedules iterate their
    bucket; there are no secondary indices
  - Acceptable at this data scale; revisit with keyed indices if task
    counts grow past ~10^5

# Troubleshooting

Database Locked:
  - Symptom: "timeout" opening the database
  - Cause: Another magpie process holds the file lock
  - Solution: Stop the other process; BoltDB is single-process

Corrupt Database:
  - Symptom: Open fails with checksum errors after crash
  - BoltDB's copy-on-write design makes this rare (power loss during
    initial page allocation)
  - Solution: Restore from backup; `bbolt check` to inspect

Growing File Size:
  - BoltDB files never shrink; freed pages are reused
  - Use `bbolt compact` offline if reclaiming disk matters

# See Also

  - pkg/types for persisted structures
  - pkg/manager for the business rules layered on top
  - bbolt documentation: https://github.com/etcd-io/bbolt
*/
package storage
