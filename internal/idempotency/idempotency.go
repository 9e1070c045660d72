// Package idempotency maps caller-supplied idempotency keys to the job they
// produced, for a fixed TTL.
//
// A reused key is last-write-wins: the payload of the replayed request is not
// compared with the original one.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/cache"
	"github.com/google/uuid"
)

// DefaultTTL is how long a key keeps pointing at its job.
const DefaultTTL = 5 * time.Minute

var ErrEmptyKey = errors.New("idempotency key is empty")

// Cache stores key -> job id entries.
type Cache interface {
	Get(ctx context.Context, key string) (uuid.UUID, bool, error)
	Set(ctx context.Context, key string, jobID uuid.UUID) error
	Sweep(ctx context.Context) error
}

// ScopedKey namespaces a caller key by owner so two owners never share entries.
func ScopedKey(ownerID, key string) string {
	if key == "" {
		return ""
	}
	return ownerID + ":" + key
}

type entry struct {
	jobID     uuid.UUID
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. Expired entries are dropped lazily by
// Get and in bulk by Sweep; nothing runs on a timer.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	Now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		Now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (uuid.UUID, bool, error) {
	if key == "" {
		return uuid.Nil, false, ErrEmptyKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return uuid.Nil, false, nil
	}
	if c.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return uuid.Nil, false, nil
	}
	return e.jobID, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, jobID uuid.UUID) error {
	if key == "" {
		return ErrEmptyKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{jobID: jobID, expiresAt: c.Now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Sweep(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	for k, e := range c.entries {
		if !e.expiresAt.After(now) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache keeps entries in Redis so every server instance sees them.
// Redis expires keys itself, which makes Sweep a no-op.
type RedisCache struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewRedisCache(c cache.Cache, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{cache: c, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (uuid.UUID, bool, error) {
	if key == "" {
		return uuid.Nil, false, ErrEmptyKey
	}
	raw, found, err := c.cache.Get(ctx, cache.IdempotencyKey(key))
	if err != nil || !found {
		return uuid.Nil, false, err
	}
	id, err := uuid.ParseBytes(raw)
	if err != nil {
		// Unreadable entry: treat as a miss and drop it.
		_ = c.cache.Delete(ctx, cache.IdempotencyKey(key))
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, jobID uuid.UUID) error {
	if key == "" {
		return ErrEmptyKey
	}
	return c.cache.Set(ctx, cache.IdempotencyKey(key), []byte(jobID.String()), c.ttl)
}

func (c *RedisCache) Sweep(_ context.Context) error {
	return nil
}
