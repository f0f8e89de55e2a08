/*
Package types defines the core data structures used throughout Magpie.

This package contains all fundamental types that represent Magpie's domain
model: collection tasks, recurrence schedules, executions, RBAC policies, and
the callback payloads exchanged with collection containers. These types are
used by all other packages for state management, API communication, and
orchestration logic.

# Architecture

The types package is the foundation of Magpie's data model. It defines:

  - Task specifications (crawl / API pull / DB extract)
  - Schedule recurrence rules and per-type configuration
  - Execution state and lifecycle
  - Container callback payloads (heartbeat, completion)
  - RBAC policy records
  - Control-plane events for streaming

All types are designed to be:
  - Serializable (JSON, both for storage and for the wire)
  - Immutable where possible (use pointers for updates)
  - Self-documenting (clear field names and comments)
  - Validated (constants for enums, validation in pkg/manager)

# Core Types

Task Management:
  - Task: Declarative collection job
  - TaskType: container-crawl, api-pull, db-extract
  - TaskStatus: active, paused, running
  - TriggerMode: manual (explicit execute) or auto (scheduled)
  - ParamSpec / RangeSpec: URL parameter templates
  - ExtractConfig / FieldSpec: what the collector extracts

Scheduling:
  - Schedule: Recurrence rule attached to a task
  - ScheduleType: immediate, once-at, interval, daily, weekly, monthly, cron
  - ScheduleConfig: per-type parameters, discriminated by the type tag
  - IntervalUnit: seconds, minutes, hours

Execution:
  - Execution: One attempt to run a task; owns a container
  - ExecutionStatus: pending, running, success, failed, cancelled
  - ExecutionStatus.Terminal(): whether the status is absorbing

Callbacks:
  - HeartbeatRequest / HeartbeatResponse: periodic liveness reports
  - CompletionRequest / CompletionResponse: terminal result delivery

Access Control:
  - Policy: subject / object / action triple consumed by pkg/rbac

Events:
  - Event / EventType: control-plane events for the streaming API

# Usage

Creating a Task:

	task := &types.Task{
		ID:          uuid.New().String(),
		Name:        "product-listings",
		Type:        types.TaskTypeContainerCrawl,
		Status:      types.TaskStatusActive,
		TriggerMode: types.TriggerAuto,
		BaseURL:     "https://shop.example.com/catalog",
		Params: []*types.ParamSpec{
			{Name: "page", Kind: types.ParamKindRange,
				Range: &types.RangeSpec{Start: 1, End: 50, Step: 1}},
		},
		Extract: &types.ExtractConfig{
			Method:    "css",
			DatasetID: "catalog-v2",
			Fields: []*types.FieldSpec{
				{Name: "title", Selector: ".product > h2"},
				{Name: "price", Selector: ".product .price"},
			},
		},
		CreatedBy: "alice",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

Creating a Schedule:

	sched := &types.Schedule{
		ID:     uuid.New().String(),
		TaskID: task.ID,
		Type:   types.ScheduleDaily,
		Config: types.ScheduleConfig{Time: "03:30:00"},
		Active: true,
	}

Creating an Execution:

	exec := &types.Execution{
		ID:            uuid.New().String(),
		TaskID:        task.ID,
		Executor:      task.CreatedBy,
		Name:          "sched-1728814200-a1b2c3d4",
		Status:        types.ExecutionPending,
		ContainerName: "task-" + executionID,
		CreatedAt:     time.Now(),
	}

# State Machine

Executions follow a state machine:

	         create
	  ∅ ──────────────▶ pending
	                      │ engine picks up
	                      ▼
	                    running ──▶ success   (completion success=true,
	                      │                    or silent clean exit)
	                      │     ──▶ failed    (completion success=false,
	                      │                    container exit≠0, heartbeat lost)
	                      └────────▶ cancelled (explicit stop)

Terminal states (success, failed, cancelled) are absorbing. Every status
write in pkg/storage is guarded so a terminal row is never rewritten.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type ExecutionStatus string
	  const (
	      ExecutionPending ExecutionStatus = "pending"
	      ExecutionRunning ExecutionStatus = "running"
	  )

Discriminated Configuration:

	ScheduleConfig is one struct whose meaningful fields depend on the
	schedule type. Validation enumerates the recognised fields per type;
	unknown combinations are rejected at create/update time.

Optional Fields:

	Optional values use pointers:
	  - *time.Time: nil = not yet happened (StartedAt, EndedAt, NextFire)
	  - *ExtractConfig: nil = nothing to extract (db-extract defines its own)
	  - json.RawMessage: opaque result payloads pass through untouched

# Integration Points

This package integrates with:

  - pkg/storage: Persists tasks, schedules, executions, policies to bbolt
  - pkg/manager: Validates and orchestrates task lifecycle
  - pkg/scheduler: Reads Schedule.Config to recompute next-fire
  - pkg/engine: Materialises Executions into containers
  - pkg/reconciler: Resolves Execution terminal state
  - pkg/callback: Decodes heartbeat/completion payloads
  - pkg/api: Serves these types as JSON resources

# Validation

Key validation rules (enforced by pkg/manager):

Tasks:
  - Name unique among non-deleted tasks, 1-200 characters
  - Type must be a recognised TaskType
  - BaseURL must parse as an absolute URL
  - Auto tasks must carry exactly one non-deleted schedule

Schedules:
  - Config fields must match the schedule type (per-type table in pkg/scheduler)
  - Weekly days within 1..7, monthly dates within 1..31 or -1
  - Cron expressions must parse

Executions:
  - At most one non-terminal execution per task at any moment
  - ContainerName fixed at creation, never rewritten
  - EndedAt set if and only if status is terminal

# Thread Safety

All types in this package are plain data:
  - Read-safe: can be read concurrently from multiple goroutines
  - Write-unsafe: mutations must be synchronized by callers

The storage layer (pkg/storage) linearises all persisted mutations; loops
and handlers work on copies loaded per operation.

# See Also

  - pkg/storage for persistence layer
  - pkg/manager for validation and orchestration logic
  - pkg/scheduler for next-fire computation rules
*/
package types
