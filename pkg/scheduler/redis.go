package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultWakeKey = "flowbase:wakeups"

// RedisQueue keeps wake-ups in a sorted set scored by unix milliseconds.
// Due claims each member with ZREM so concurrent workers never wake the
// same run twice for one entry.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultWakeKey
	}

	return &RedisQueue{client: client, key: key}
}

// NewRedisQueueFromURL parses a redis:// URL.
func NewRedisQueueFromURL(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid wake queue url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to reach wake queue: %w", err)
	}

	return NewRedisQueue(client, DefaultWakeKey), nil
}

func (q *RedisQueue) Schedule(ctx context.Context, runID string, at time.Time) error {
	return q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(at.UnixMilli()), Member: runID}).Err()
}

func (q *RedisQueue) Due(ctx context.Context, now time.Time) ([]string, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	claimed := make([]string, 0, len(members))

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return claimed, err
		}

		if removed == 1 {
			claimed = append(claimed, member)
		}
	}

	return claimed, nil
}

func (q *RedisQueue) Remove(ctx context.Context, runID string) error {
	return q.client.ZRem(ctx, q.key, runID).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
