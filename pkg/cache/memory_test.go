package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryCacheSetGetDelete tests basic entry round trips and expiry
func TestMemoryCacheSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	require.NoError(t, c.Set(ctx, HeartbeatKey("exec-1"), []byte(`{"at":"x"}`), time.Minute))

	data, ok, err := c.Get(ctx, HeartbeatKey("exec-1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"at":"x"}`), data)

	require.NoError(t, c.Delete(ctx, HeartbeatKey("exec-1")))
	_, ok, err = c.Get(ctx, HeartbeatKey("exec-1"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is fine
	assert.NoError(t, c.Delete(ctx, HeartbeatKey("exec-1")))
}

// TestMemoryCacheExpiry tests that entries disappear after their TTL
func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 30*time.Millisecond))
	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok, err = c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMemoryCacheIncrement tests counter behavior including the
// missing-key and TTL-reset cases
func TestMemoryCacheIncrement(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	n, err := c.Increment(ctx, TimeoutKey("exec-1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Increment(ctx, TimeoutKey("exec-1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Increment(ctx, TimeoutKey("exec-1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Deleting resets the count
	require.NoError(t, c.Delete(ctx, TimeoutKey("exec-1")))
	n, err = c.Increment(ctx, TimeoutKey("exec-1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// TestIncrementVisibleToGet pins the interface contract: a counter
// written by Increment reads back through Get as a numeric string,
// exactly as a Redis INCR would.
func TestIncrementVisibleToGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	_, err := c.Increment(ctx, BackoffKey("task-1"), time.Minute)
	require.NoError(t, err)
	_, err = c.Increment(ctx, BackoffKey("task-1"), time.Minute)
	require.NoError(t, err)

	data, found, err := c.Get(ctx, BackoffKey("task-1"))
	require.NoError(t, err)
	require.True(t, found, "counter must be readable through Get")
	assert.Equal(t, "2", string(data))
}

// TestLease tests acquire/renew/release with competing holders
func TestLease(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	ok, err := c.AcquireLease(ctx, LeaderKey, "proc-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Another holder cannot steal it
	ok, err = c.AcquireLease(ctx, LeaderKey, "proc-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// The holder can re-acquire and renew
	ok, err = c.AcquireLease(ctx, LeaderKey, "proc-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.RenewLease(ctx, LeaderKey, "proc-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A non-holder cannot renew or release
	ok, err = c.RenewLease(ctx, LeaderKey, "proc-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.ReleaseLease(ctx, LeaderKey, "proc-b"))
	ok, err = c.RenewLease(ctx, LeaderKey, "proc-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Release frees it for the next holder
	require.NoError(t, c.ReleaseLease(ctx, LeaderKey, "proc-a"))
	ok, err = c.AcquireLease(ctx, LeaderKey, "proc-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestLeaseExpiry tests that an expired lease can be taken over
func TestLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	ok, err := c.AcquireLease(ctx, LeaderKey, "proc-a", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	ok, err = c.RenewLease(ctx, LeaderKey, "proc-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.AcquireLease(ctx, LeaderKey, "proc-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestKeyNamespaces tests the key helper prefixes stay disjoint
func TestKeyNamespaces(t *testing.T) {
	assert.Equal(t, "hb:exec-1", HeartbeatKey("exec-1"))
	assert.Equal(t, "timeout:exec-1", TimeoutKey("exec-1"))
	assert.Equal(t, "backoff:task-1", BackoffKey("task-1"))
	assert.Equal(t, "scheduler:leader", LeaderKey)
}
