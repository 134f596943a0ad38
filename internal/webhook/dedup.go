package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper decides whether a webhook delivery id has been seen before.
// GitHub redelivers on timeout, so every delivery is checked before any
// handler runs.
type Deduper interface {
	// FirstDelivery returns true when this delivery id has not been seen
	// within the dedup window.
	FirstDelivery(ctx context.Context, deliveryID string) (bool, error)
	// Forget unmarks a delivery id so a redelivery is processed again. Used
	// when handling failed after the id was already marked.
	Forget(ctx context.Context, deliveryID string) error
}

// RedisDeduper marks delivery ids with SetNX so the check and the mark are
// one atomic step across processes.
type RedisDeduper struct {
	Client *redis.Client
	TTL    time.Duration
}

func (d *RedisDeduper) FirstDelivery(ctx context.Context, deliveryID string) (bool, error) {
	first, err := d.Client.SetNX(ctx, deliveryKey(deliveryID), "1", d.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark webhook delivery: %w", err)
	}
	return first, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, deliveryID string) error {
	if err := d.Client.Del(ctx, deliveryKey(deliveryID)).Err(); err != nil {
		return fmt.Errorf("unmark webhook delivery: %w", err)
	}
	return nil
}

func deliveryKey(deliveryID string) string {
	return "webhook:delivery:" + deliveryID
}

// MemoryDeduper is the in-process equivalent, used in tests and when Redis
// is not configured.
type MemoryDeduper struct {
	TTL time.Duration
	Now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func (d *MemoryDeduper) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *MemoryDeduper) FirstDelivery(_ context.Context, deliveryID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.seen == nil {
		d.seen = make(map[string]time.Time)
	}
	for id, expires := range d.seen {
		if now.After(expires) {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[deliveryID]; ok {
		return false, nil
	}
	d.seen[deliveryID] = now.Add(d.TTL)
	return true, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, deliveryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, deliveryID)
	return nil
}
