package notify

import (
	"context"
	"time"

	"clinic-service/internal/expiring"
)

// Deduper claims dedup keys for a TTL. *redisclient.Client satisfies it.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Quota decides whether a recipient may receive another message in the current window
type Quota interface {
	Allow(ctx context.Context, recipient string) (bool, error)
}

type sweeper interface {
	Sweep() int
}

// MemoryDeduper keeps dedup keys in process memory
type MemoryDeduper struct {
	keys *expiring.Map[string, struct{}]
}

func NewMemoryDeduper(maxEntries int) *MemoryDeduper {
	return &MemoryDeduper{keys: expiring.New[string, struct{}](expiring.WithMaxSize(maxEntries))}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return d.keys.SetIfAbsent(key, struct{}{}, ttl), nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.keys.Delete(key)
	return nil
}

func (d *MemoryDeduper) Sweep() int { return d.keys.Sweep() }

// MemoryQuota is a fixed-window counter per recipient
type MemoryQuota struct {
	counts *expiring.Map[string, int]
	limit  int
	window time.Duration
}

func NewMemoryQuota(limit int, window time.Duration) *MemoryQuota {
	return &MemoryQuota{counts: expiring.New[string, int](), limit: limit, window: window}
}

func (q *MemoryQuota) Allow(_ context.Context, recipient string) (bool, error) {
	if q.limit <= 0 {
		return true, nil
	}
	for {
		allowed := false
		found := q.counts.Update(recipient, func(n int) (int, bool) {
			if n >= q.limit {
				return n, true
			}
			allowed = true
			return n + 1, true
		})
		if found {
			return allowed, nil
		}
		if q.counts.SetIfAbsent(recipient, 1, q.window) {
			return true, nil
		}
	}
}

func (q *MemoryQuota) Sweep() int { return q.counts.Sweep() }

type windowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisQuota shares the per-recipient window across instances
type RedisQuota struct {
	counter windowCounter
	limit   int
	window  time.Duration
}

func NewRedisQuota(counter windowCounter, limit int, window time.Duration) *RedisQuota {
	return &RedisQuota{counter: counter, limit: limit, window: window}
}

func (q *RedisQuota) Allow(ctx context.Context, recipient string) (bool, error) {
	if q.limit <= 0 {
		return true, nil
	}
	n, err := q.counter.IncrWindow(ctx, recipient, q.window)
	if err != nil {
		return false, err
	}
	return n <= int64(q.limit), nil
}
