// Package redisqueue backs the time-ordered dispatch queue with a Redis
// sorted set, so every scheduler instance sees the same queue.
package redisqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// DispatchQueue stores task ids scored by their scheduled unix time.
type DispatchQueue struct {
	client *redis.Client
	key    string
}

// NewDispatchQueue constructs a queue on the given key.
func NewDispatchQueue(client *redis.Client, keyPrefix string) *DispatchQueue {
	if keyPrefix == "" {
		keyPrefix = "outbound"
	}
	return &DispatchQueue{client: client, key: keyPrefix + ":dispatch_queue"}
}

// Enqueue inserts or reschedules a task.
func (q *DispatchQueue) Enqueue(ctx context.Context, taskID uuid.UUID, scheduledAt time.Time) error {
	member := redis.Z{Score: float64(scheduledAt.Unix()), Member: taskID.String()}
	if err := q.client.ZAdd(ctx, q.key, member).Err(); err != nil {
		return fmt.Errorf("dispatch queue: zadd: %w", err)
	}
	return nil
}

// Due returns up to limit task ids whose scheduled time is at or before now,
// earliest first. Members stay in the queue until removed.
func (q *DispatchQueue) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}

	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch queue: zrangebyscore: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// Drop malformed members so they cannot wedge the queue.
			_ = q.client.ZRem(ctx, q.key, m).Err()
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove deletes tasks from the queue.
func (q *DispatchQueue) Remove(ctx context.Context, taskIDs ...uuid.UUID) error {
	if len(taskIDs) == 0 {
		return nil
	}
	members := make([]any, 0, len(taskIDs))
	for _, id := range taskIDs {
		members = append(members, id.String())
	}
	if err := q.client.ZRem(ctx, q.key, members...).Err(); err != nil {
		return fmt.Errorf("dispatch queue: zrem: %w", err)
	}
	return nil
}
