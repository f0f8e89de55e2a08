/*
Package api serves the control API: the HTTP/JSON surface operators and
UIs use to manage tasks and watch executions.

The API is a thin translation layer. Handlers decode the request, pull
the caller's subject from the X-Magpie-User header, call into
pkg/manager, and map the resulting error kind to an HTTP status. No
business rule lives here; everything a handler rejects, the manager
rejected first.

# Routes

	POST   /v1/tasks                     create task (+ optional schedule)
	GET    /v1/tasks                     list visible tasks
	GET    /v1/tasks/{id}                read one task
	PUT    /v1/tasks/{id}                update (rejected while a run is live)
	DELETE /v1/tasks/{id}                soft-delete, cascades schedules
	POST   /v1/tasks/{id}/execute        create pending execution + admit
	POST   /v1/tasks/{id}/stop           cancel the live execution
	POST   /v1/tasks/{id}/activate       paused → active
	POST   /v1/tasks/{id}/pause          active → paused
	GET    /v1/tasks/{id}/schedule       read the task's schedule
	GET    /v1/tasks/{id}/executions     list, newest first (?limit=&offset=)
	GET    /v1/executions/{id}           read one execution
	GET    /v1/executions/{id}/logs      container log tail (?tail=)
	GET    /v1/events                    SSE stream of control-plane events

# Error Mapping

Manager errors carry an errdefs kind; the API maps kinds to status:

	invalid argument    400
	permission denied   403
	not found           404
	conflict            409
	resource exhausted  429
	unavailable         503
	anything else       500

Every error body is {"error": "<human-readable reason>"}.

This listener is for operators; containers report to the separate
callback listener in pkg/callback and can reach nothing here.
*/
package api
