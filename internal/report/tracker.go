package report

import (
	"sync"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// TestTracker numbers the iterations of a test session.
type TestTracker interface {
	// Current is the number of the running iteration; zero before the first.
	Current() (int64, error)
	// Next starts a new iteration and returns its number.
	Next() (int64, error)
}

// MemoryTestTracker numbers iterations from 1 within the process.
type MemoryTestTracker struct {
	mu      sync.Mutex
	current int64
}

func NewMemoryTestTracker() *MemoryTestTracker {
	return &MemoryTestTracker{}
}

func (t *MemoryTestTracker) Current() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, nil
}

func (t *MemoryTestTracker) Next() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	return t.current, nil
}

const DefaultTrackerKey = "maestro:test-number"

// RedisTestTracker keeps the counter in Redis so numbering continues across sessions and
// orchestrators sharing a report store.
type RedisTestTracker struct {
	client *redis.Client
	key    string
}

func NewRedisTestTracker(client *redis.Client, key string) *RedisTestTracker {
	if key == "" {
		key = DefaultTrackerKey
	}
	return &RedisTestTracker{client: client, key: key}
}

func (t *RedisTestTracker) Current() (int64, error) {
	n, err := t.client.Get(t.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, errors.WithStack(err)
}

func (t *RedisTestTracker) Next() (int64, error) {
	n, err := t.client.Incr(t.key).Result()
	return n, errors.WithStack(err)
}
