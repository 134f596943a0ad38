package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Leaser grants exclusive short-lived leases so two workers never sync the
// same repository concurrently, including workers in other processes.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLeaser implements leases with SetNX. The TTL bounds how long a crashed
// worker's lease can block a repository.
type RedisLeaser struct {
	Client *redis.Client
}

func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := l.Client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return acquired, nil
}

func (l *RedisLeaser) Release(ctx context.Context, key string) error {
	if err := l.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

// MemoryLeaser is the in-process equivalent, used in tests and when Redis is
// not configured.
type MemoryLeaser struct {
	Now func() time.Time

	mu     sync.Mutex
	leases map[string]time.Time
}

func (l *MemoryLeaser) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *MemoryLeaser) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.leases == nil {
		l.leases = make(map[string]time.Time)
	}
	if expires, ok := l.leases[key]; ok && now.Before(expires) {
		return false, nil
	}
	l.leases[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLeaser) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, key)
	return nil
}
