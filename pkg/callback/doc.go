/*
Package callback ingests heartbeat and completion reports from
collection containers.

This is the control plane's only ingress from the data plane. It
listens on its own address, separate from the control API, so container
traffic and operator traffic never share a listener or a policy. The
guiding rule is availability of ingestion: a heartbeat answer must not
depend on the store being healthy.

# Architecture

	container ──POST /heartbeat──▶ ┌─────────────────────────┐
	                               │   write hb:<eid> cache  │
	                               │   reset timeout:<eid>   │──▶ 200 ok
	                               │   enqueue durable write │
	                               └───────────┬─────────────┘
	                                           │ async, budget 256,
	                                           │ overflow drops oldest
	                                           ▼
	                                 store last-heartbeat

	container ──POST /completion─▶ engine.Complete ──▶ terminal row,
	                               cleanup, task settle

# Heartbeat Path

The cache record is the liveness signal; it is written synchronously
and carries the server receive time (container clocks drift, liveness
judgement needs one clock). The durable last-heartbeat column is a
convenience for cache restarts and is written by one background writer
through a bounded queue: when the budget overflows, the oldest pending
update is dropped and counted, never the response. The container gets
its 200 the moment the cache holds the record, store up or down.

Heartbeats for ids the store does not know are accepted; their cache
records expire on their own. Only the id format is validated.

# Completion Path

Completions go straight through the engine's terminal gate. The first
delivery wins; a duplicate fails the compare and swap inside the store
and answers 200 "already finalized" so retrying containers stop. A
container-name mismatch is logged and tolerated: the name is a
convenience label, not a security boundary.

# Usage

	s := callback.NewServer(store, c, eng, cfg)
	if err := s.Start(); err != nil {
	    return err
	}
	defer s.Stop(ctx)

Containers receive the advertise URL in API_BASE_URL and append
/heartbeat and /completion.

# Integration Points

  - pkg/engine: Complete resolves reported outcomes
  - pkg/cache: heartbeat records and timeout counters
  - pkg/reconciler: reads what this package writes
  - pkg/config: callback.addr to bind, callback.advertise_url for containers

# Troubleshooting

Containers report but rows still fail on "heartbeat lost": the
advertise URL resolves somewhere other than this listener; compare
callback.advertise_url against where the server actually bound. Rising
magpie_heartbeat_store_writes_dropped_total: the store cannot keep up
with heartbeat volume; liveness is unaffected (the cache record leads)
but cache restarts lose more history. 404 on completion: the execution
row was hard-deleted or the container outlived its cleanup.

# See Also

  - pkg/engine: the terminal path completions take
  - pkg/reconciler: the consumer of the heartbeat trail
*/
package callback
