/*
Package rbac answers authorization questions for the control API.

The model is a flat policy table: (subject, object, action) triples
stored alongside the rest of the orchestrator state. The core never
administers users or roles; it only asks "may subject S perform action
A on object O?" and acts on the boolean.

# Architecture

	┌────────────────────────────────────────────┐
	│                  Enforcer                  │
	│                                            │
	│  Allow(subject, object, action)            │
	│        │                                   │
	│        ▼                                   │
	│  ┌───────────────┐     ┌────────────────┐  │
	│  │ subject cache │ ──▶ │ storage.Store  │  │
	│  │ (30s TTL)     │     │ policy bucket  │  │
	│  └───────────────┘     └────────────────┘  │
	└────────────────────────────────────────────┘

# Matching Rules

A policy grants the request when its object matches and its action
matches.

  - Object "*" matches everything; "tasks" also matches any
    "task:<id>" instance.
  - Action "*" and "admin" match any requested action.
  - The subject "admin" bypasses the table entirely.

Task visibility adds one rule outside the table: a task's creator can
always read it. VisibleTask and FilterTasks fold that in so handlers
do not reimplement it.

# Usage

	enforcer := rbac.NewEnforcer(store)

	ok, err := enforcer.Allow(user, rbac.ObjectTasks, rbac.ActionWrite)
	if err != nil {
	    return err
	}
	if !ok {
	    return fmt.Errorf("user %s: %w", user, errdefs.ErrPermissionDenied)
	}

# Caching

Policy sets are cached per subject for 30 seconds to keep Allow off
the store on hot paths. Grant and Revoke invalidate the affected
subject, so changes made through this process are visible at once;
rows written by another process can take up to the TTL to apply.

# Integration Points

  - pkg/manager: checks execute/write before mutating tasks
  - pkg/api: filters task listings per requesting user
  - pkg/storage: owns the policy bucket this package reads

# See Also

  - pkg/storage: policy row persistence
*/
package rbac
