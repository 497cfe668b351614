package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamRepo appends events to a per-workspace Redis stream
// ("audit:{workspace_id}"). Streams are append-only, which matches the contract.
// MaxLen trims old entries approximately; zero keeps everything.
type RedisStreamRepo struct {
	rdb    *redis.Client
	MaxLen int64
}

func NewRedisStreamRepo(rdb *redis.Client, maxLen int64) *RedisStreamRepo {
	return &RedisStreamRepo{rdb: rdb, MaxLen: maxLen}
}

func StreamKey(workspaceID string) string { return "audit:" + workspaceID }

func (r *RedisStreamRepo) Append(ctx context.Context, e Event) error {
	if r.rdb == nil {
		return fmt.Errorf("audit: redis client is nil")
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: StreamKey(e.WorkspaceID),
		Values: map[string]any{
			"id":    e.ID,
			"type":  string(e.Type),
			"event": raw,
		},
	}
	if r.MaxLen > 0 {
		args.MaxLen = r.MaxLen
		args.Approx = true
	}
	return r.rdb.XAdd(ctx, args).Err()
}

// Recent reads up to count events from the end of a workspace stream, newest first.
func (r *RedisStreamRepo) Recent(ctx context.Context, workspaceID string, count int64) ([]Event, error) {
	msgs, err := r.rdb.XRevRangeN(ctx, StreamKey(workspaceID), "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["event"].(string)
		if !ok {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("audit: decode stream entry %s: %w", m.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
