package callerid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"outbound-dialer/pkg/phone"

	"github.com/redis/go-redis/v9"
)

// Inventory lists the outbound numbers available to a workspace.
// The selector only reads it; refreshing happens outside this package.
type Inventory interface {
	ListNumbers(ctx context.Context, workspaceID string) ([]Number, error)
}

// Refresher is an Inventory that can bypass its cache.
type Refresher interface {
	Refresh(ctx context.Context, workspaceID string) ([]Number, error)
}

// StaticInventory serves a fixed list to every workspace.
type StaticInventory []Number

func (s StaticInventory) ListNumbers(ctx context.Context, workspaceID string) ([]Number, error) {
	return Normalize(s), nil
}

// Normalize fills missing area codes and drops entries without a number.
func Normalize(in []Number) []Number {
	out := make([]Number, 0, len(in))
	for _, n := range in {
		if n.PhoneNumber == "" {
			continue
		}
		if n.AreaCode == "" {
			n.AreaCode = phone.AreaCode(n.PhoneNumber)
		}
		out = append(out, n)
	}
	return out
}

// RedisCache fronts a slower Inventory (the provider's number API) with a
// per-workspace Redis key. A cache read failure falls through to the source.
type RedisCache struct {
	rdb    *redis.Client
	source Inventory
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisCache(rdb *redis.Client, source Inventory, ttl time.Duration, log *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{rdb: rdb, source: source, ttl: ttl, log: log}
}

func cacheKey(workspaceID string) string { return "callerid:numbers:" + workspaceID }

func (c *RedisCache) ListNumbers(ctx context.Context, workspaceID string) ([]Number, error) {
	if workspaceID == "" {
		return nil, errors.New("callerid: workspace_id required")
	}
	raw, err := c.rdb.Get(ctx, cacheKey(workspaceID)).Bytes()
	switch {
	case err == nil:
		var out []Number
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		c.log.Warn("caller id cache decode failed", "workspace_id", workspaceID)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("caller id cache read failed", "workspace_id", workspaceID, "err", err)
	}
	return c.Refresh(ctx, workspaceID)
}

// Refresh reloads the workspace's numbers from the source and rewrites the cache.
func (c *RedisCache) Refresh(ctx context.Context, workspaceID string) ([]Number, error) {
	if c.source == nil {
		return nil, errors.New("callerid: inventory source not configured")
	}
	numbers, err := c.source.ListNumbers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("callerid: load numbers: %w", err)
	}
	numbers = Normalize(numbers)
	raw, err := json.Marshal(numbers)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, cacheKey(workspaceID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("caller id cache write failed", "workspace_id", workspaceID, "err", err)
	}
	return numbers, nil
}
