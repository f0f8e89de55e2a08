package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the embedded cache backend, used when no Redis address is
// configured. Single-process only: the leader lease it hands out is
// meaningless across multiple control-plane processes.
type MemoryCache struct {
	// mu serialises read-modify-write sequences (counters, leases);
	// the underlying store is itself safe for plain get/set
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryCache creates an in-process cache. Expired entries are swept
// once a minute.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		c: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *MemoryCache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Counters live as numeric strings so Get sees them the same way
	// the Redis backend's INCR leaves them.
	var count int64
	if v, ok := m.c.Get(key); ok {
		if data, ok := v.([]byte); ok {
			if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
				count = n
			}
		}
	}
	count++
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, []byte(strconv.FormatInt(count, 10)), ttl)
	return count, nil
}

func (m *MemoryCache) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.c.Get(key); ok {
		if current, ok := v.(string); ok && current != holder {
			return false, nil
		}
	}
	m.c.Set(key, holder, ttl)
	return true, nil
}

func (m *MemoryCache) RenewLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok {
		return false, nil
	}
	current, ok := v.(string)
	if !ok || current != holder {
		return false, nil
	}
	m.c.Set(key, holder, ttl)
	return true, nil
}

func (m *MemoryCache) ReleaseLease(ctx context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.c.Get(key); ok {
		if current, ok := v.(string); ok && current == holder {
			m.c.Delete(key)
		}
	}
	return nil
}

func (m *MemoryCache) Close() error {
	m.c.Flush()
	return nil
}
