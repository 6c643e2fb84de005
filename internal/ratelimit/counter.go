package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter uses INCR and EXPIRE. Multiple server processes share one window.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps a connected client
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr implements Counter
func (c *RedisCounter) Incr(ctx context.Context, key string, period time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.client.Expire(ctx, key, period).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

type window struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is a single-process Counter
type MemoryCounter struct {
	mu        sync.Mutex
	windows   map[string]*window
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryCounter creates an in-process counter. now may be nil.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{windows: make(map[string]*window), now: now}
}

// Incr implements Counter
func (c *MemoryCounter) Incr(_ context.Context, key string, period time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)

	w, ok := c.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{}
		c.windows[key] = w
	}
	w.count++
	if w.count == 1 {
		w.expiresAt = now.Add(period)
	}
	return w.count, nil
}

// sweep drops expired windows at most once a minute
func (c *MemoryCounter) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < time.Minute {
		return
	}
	c.lastSweep = now
	for k, w := range c.windows {
		if !now.Before(w.expiresAt) {
			delete(c.windows, k)
		}
	}
}
