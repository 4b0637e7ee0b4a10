package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a FIFO of capture ids on a Redis list: LPUSH in, BRPOP out.
type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push enqueues id.
func (q *RedisQueue) Push(ctx context.Context, id string) error {
	return q.rdb.LPush(ctx, q.queueName, id).Err()
}

// Pop blocks up to timeout for the next id. It returns "" and no error when
// the timeout passes with an empty queue.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Len returns the number of waiting ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
