package relayqueue

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the Queue interface using Redis.
//
// It uses a single Redis list with key:
//
//	<prefix>payment-confirmed
//
// Values are the raw message payloads.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "ordena:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "ordena"
	}
	if prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "payment-confirmed",
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a message onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Dequeue blocks on BRPOP until a message is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) ([]byte, error) {
	// BRPop returns [key, value]
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		// If ctx is cancelled, BRPop returns an error wrapping ctx.Err().
		return nil, err
	}
	if len(res) != 2 {
		slog.Warn("redis relay queue: BRPOP returned unexpected result",
			slog.Int("fields", len(res)))
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Len returns the approximate number of messages queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		slog.Warn("redis relay queue: LLEN failed", slog.String("error", err.Error()))
		return 0
	}
	return int(n)
}
