/*
Package cache provides the ephemeral shared state between Magpie's callback
endpoint, reconciler, and scheduler.

Everything in the cache is reconstructible and expiring: heartbeat records,
stale-heartbeat counters, consecutive-failure counters, and the scheduler's
leader lease. Durable truth lives in pkg/storage; the cache exists so the
hot paths (heartbeat ingestion, liveness checks, leadership) never contend
on the store.

# Architecture

	┌───────────────────── EPHEMERAL CACHE ─────────────────────┐
	│                                                             │
	│   Writers                    Key spaces                     │
	│  ┌──────────┐                                               │
	│  │ callback │──▶ hb:<execution-id>       heartbeat record   │
	│  │ endpoint │    (TTL 2·T_hb)                               │
	│  └──────────┘                                               │
	│  ┌──────────┐                                               │
	│  │reconciler│──▶ timeout:<execution-id>  stale counter      │
	│  │          │    (TTL 2·T_hb, reset on fresh heartbeat)     │
	│  └──────────┘                                               │
	│  ┌──────────┐                                               │
	│  │  engine  │──▶ backoff:<task-id>       failure counter    │
	│  └──────────┘                                               │
	│  ┌──────────┐                                               │
	│  │scheduler │──▶ scheduler:leader        singleton lease    │
	│  │          │    (TTL 120s, renewed every 30s)              │
	│  └──────────┘                                               │
	│                                                             │
	│   Backends: MemoryCache (go-cache)  |  RedisCache (redis)   │
	└─────────────────────────────────────────────────────────────┘

# Core Components

Cache Interface:
  - Set/Get/Delete with per-entry TTL
  - Increment: counter with TTL reset, counts from zero when missing
  - AcquireLease/RenewLease/ReleaseLease: holder-aware singleton lease

MemoryCache:
  - Embedded backend on patrickmn/go-cache
  - Default when no Redis address is configured
  - Single process only: its leader lease cannot coordinate multiple
    control-plane processes

RedisCache:
  - go-redis backend for multi-process deployments
  - Lease built on SET NX/XX with holder verification
  - Connection verified with PING at construction

# Key Spaces

Each concern owns a disjoint prefix, so writers never collide:

  - hb:<execution-id>: freshest HeartbeatRecord, written by the callback
    endpoint, read and deleted by the reconciler
  - timeout:<execution-id>: consecutive stale-heartbeat observations,
    incremented by the reconciler, deleted on any fresh heartbeat
  - backoff:<task-id>: consecutive failed executions, maintained by the
    engine, cleared when the scheduler auto-disables
  - scheduler:leader: lease key; the value is the holder's identity

# Usage

Heartbeat write (callback endpoint):

	rec := types.HeartbeatRecord{At: time.Now(), Status: req.Status}
	data, _ := json.Marshal(rec)
	c.Set(ctx, cache.HeartbeatKey(execID), data, 2*heartbeatTimeout)
	c.Delete(ctx, cache.TimeoutKey(execID))

Stale counter (reconciler):

	misses, err := c.Increment(ctx, cache.TimeoutKey(execID), 2*heartbeatTimeout)
	if misses >= int64(tolerance) {
		// resolve execution as failed: heartbeat lost
	}

Leader lease (scheduler):

	held, err := c.AcquireLease(ctx, cache.LeaderKey, processID, 120*time.Second)
	if !held {
		return // another process leads; skip this tick
	}

# Semantics

Lease correctness:
  - AcquireLease succeeds for a free lease or for the current holder
    (re-acquire refreshes the TTL)
  - RenewLease and ReleaseLease are no-ops for non-holders
  - The Redis variant verifies the holder with a read before the
    conditional write. The read-check-write pair is not atomic, but the
    only writer for a given holder identity is that process's single
    renewal loop, and TTLs (120s) dwarf the race window.

Counter TTL:
  - Every Increment resets the TTL, so an abandoned counter disappears
    on its own after 2·T_hb

Loss tolerance:
  - A cache wipe loses heartbeat records and counters; the reconciler
    falls back to the store's last-heartbeat field and rebuilds the
    counters over subsequent passes. Nothing here is load-bearing for
    durability.

# Integration Points

  - pkg/callback: writes hb: records, clears timeout: counters
  - pkg/reconciler: reads hb:, maintains timeout:, cleans both up
  - pkg/engine: maintains backoff: counters on terminal transitions
  - pkg/scheduler: holds scheduler:leader, clears backoff: on disable
  - cmd/magpie: picks the backend from configuration

# See Also

  - pkg/reconciler for how the counters drive liveness decisions
  - pkg/scheduler for the lease lifecycle
  - go-cache: https://github.com/patrickmn/go-cache
  - go-redis: https://github.com/redis/go-redis
*/
package cache
