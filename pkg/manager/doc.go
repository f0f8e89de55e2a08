/*
Package manager implements the control-plane business rules behind the
control API.

Every user-facing operation on tasks, schedules, and executions passes
through the Manager: it validates input, consults the policy enforcer,
applies the conflict rules (no edit while a run is live, no duplicate
names, no execute while paused), and only then touches the store and the
execution engine. The HTTP layer in pkg/api stays a thin translation of
requests and errors; the rules live here, where tests can hit them
without a listener.

# Architecture

	┌──────────────── pkg/api (HTTP/JSON) ───────────────┐
	│  decode request → subject from header → call in     │
	└────────────────────────┬────────────────────────────┘
	                         │
	┌────────────────────────▼────────────────────────────┐
	│                     Manager                          │
	│  - input validation (names, URLs, schedule configs)  │
	│  - policy checks through pkg/rbac                    │
	│  - conflict rules (live execution, duplicate name,   │
	│    paused/running, already-executing)                │
	│  - manual↔auto transitions and schedule lifecycle    │
	└──────┬──────────────┬──────────────┬────────────────┘
	       │              │              │
	   pkg/storage    pkg/engine     pkg/events
	   (durable       (admission,    (task/execution
	    rows)          stop)          lifecycle events)

# Task Lifecycle Rules

Create rejects a duplicate name among non-deleted tasks. An auto task
must arrive with a schedule spec; a manual task must not carry one.
Update and delete reject while a non-terminal execution exists. The
trigger-mode transitions follow the schedule:

	manual → auto   requires a schedule spec, creates the schedule
	auto → manual   soft-deletes the existing schedule
	auto → auto     a new spec soft-deletes the old schedule first

Execute rejects paused and running tasks and tasks that already own a
live execution; the store's single-active guard backs the check up
against concurrent callers. Activate and pause flip between active and
paused and are disallowed while the task is running.

# Policy Model

The model is creator-ownership: any subject may create a task and from
then on owns it. Admins bypass everything; creators always see and
control their own tasks; everyone else needs a policy grant covering
the object and action. Reads filter rather than reject: a list shows
the subset the subject may see.

# See Also

  - pkg/api for the HTTP surface over this package
  - pkg/rbac for the policy enforcer
  - pkg/engine for what happens to an admitted execution
*/
package manager
