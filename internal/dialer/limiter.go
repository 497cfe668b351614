package dialer

import (
	"context"
	"sync"
	"time"

	"outbound-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// LineLimiter caps concurrent outbound legs per workspace. One slot is held for
// every placed leg until the leg settles.
type LineLimiter interface {
	Acquire(ctx context.Context, workspaceID string) (bool, error)
	Release(ctx context.Context, workspaceID string) error
}

// LineUsage reports the slots a workspace holds. Both shipped limiters implement it.
type LineUsage interface {
	LinesInUse(ctx context.Context, workspaceID string) (int, error)
}

// Unlimited never rejects.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) Release(context.Context, string) error         { return nil }

// RedisLineLimiter shares the cap across API replicas using the atomic
// counter scripts in pkg/utils. TTL bounds leaked slots after a crash.
type RedisLineLimiter struct {
	rdb   *redis.Client
	Limit int
	TTL   time.Duration
}

func NewRedisLineLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLineLimiter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLineLimiter{rdb: rdb, Limit: limit, TTL: ttl}
}

func LineKey(workspaceID string) string { return "dialer:lines:" + workspaceID }

func (l *RedisLineLimiter) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, LineKey(workspaceID), l.Limit, l.TTL)
}

func (l *RedisLineLimiter) Release(ctx context.Context, workspaceID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, LineKey(workspaceID))
}

// LinesInUse reports the slots held for a workspace across all replicas.
func (l *RedisLineLimiter) LinesInUse(ctx context.Context, workspaceID string) (int, error) {
	return utils.ConcurrencyCapInUse(ctx, l.rdb, LineKey(workspaceID))
}

// MemoryLineLimiter is the single-process equivalent of RedisLineLimiter.
type MemoryLineLimiter struct {
	mu    sync.Mutex
	used  map[string]int
	Limit int
}

func NewMemoryLineLimiter(limit int) *MemoryLineLimiter {
	return &MemoryLineLimiter{used: map[string]int{}, Limit: limit}
}

func (l *MemoryLineLimiter) Acquire(_ context.Context, workspaceID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[workspaceID] >= l.Limit {
		return false, nil
	}
	l.used[workspaceID]++
	return true, nil
}

func (l *MemoryLineLimiter) Release(_ context.Context, workspaceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[workspaceID] > 0 {
		l.used[workspaceID]--
	}
	return nil
}

// InUse reports held slots for a workspace.
func (l *MemoryLineLimiter) InUse(workspaceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[workspaceID]
}

func (l *MemoryLineLimiter) LinesInUse(_ context.Context, workspaceID string) (int, error) {
	return l.InUse(workspaceID), nil
}
