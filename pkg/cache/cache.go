package cache

import (
	"context"
	"time"
)

// Key prefixes. Each concern owns a disjoint key space so the callback
// endpoint, reconciler, and scheduler never collide.
const (
	heartbeatPrefix = "hb:"
	timeoutPrefix   = "timeout:"
	backoffPrefix   = "backoff:"

	// LeaderKey is the scheduler's singleton lease key
	LeaderKey = "scheduler:leader"
)

// HeartbeatKey returns the cache key holding an execution's freshest
// heartbeat record
func HeartbeatKey(executionID string) string {
	return heartbeatPrefix + executionID
}

// TimeoutKey returns the cache key counting an execution's consecutive
// stale-heartbeat observations
func TimeoutKey(executionID string) string {
	return timeoutPrefix + executionID
}

// BackoffKey returns the cache key counting a task's consecutive failed
// executions
func BackoffKey(taskID string) string {
	return backoffPrefix + taskID
}

// Cache is the ephemeral shared state between the callback endpoint, the
// reconciler, and the scheduler: heartbeat records, timeout and backoff
// counters, and the scheduler's leader lease. Implementations must be safe
// for concurrent use. Entries expire; nothing here is durable.
type Cache interface {
	// Set stores value under key with the given TTL (0 = no expiry)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes a key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Increment adds one to a counter, resetting its TTL, and returns
	// the new value. A missing key counts from zero.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// AcquireLease takes the lease if it is free or already held by
	// holder, refreshing the TTL. Returns whether holder now owns it.
	AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// RenewLease extends the lease only if holder still owns it
	RenewLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease only if holder owns it
	ReleaseLease(ctx context.Context, key, holder string) error

	Close() error
}
