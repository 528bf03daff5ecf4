package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when the queue yields nothing within the
// poll interval.
var ErrEmpty = errors.New("queue empty")

// Queue carries judging task IDs from intake to the worker pool.
type Queue interface {
	Push(ctx context.Context, id string) error
	// Pop blocks up to the implementation's poll interval and returns
	// ErrEmpty on timeout so callers can re-check their context.
	Pop(ctx context.Context) (string, error)
}

// RedisQueue is a Redis list: LPUSH on submit, BRPOP in workers. Items
// survive process restarts.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

func NewRedisQueue(rdb *redis.Client, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name}
}

func (q *RedisQueue) Push(ctx context.Context, id string) error {
	return q.rdb.LPush(ctx, q.name, id).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	res, err := q.rdb.BRPop(ctx, 5*time.Second, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", err
	}
	if len(res) < 2 || res[1] == "" {
		return "", ErrEmpty
	}
	return res[1], nil
}

// ChannelQueue is an in-process buffered queue used in tests.
type ChannelQueue struct {
	ch chan string
}

func NewChannelQueue(size int) *ChannelQueue {
	return &ChannelQueue{ch: make(chan string, size)}
}

func (q *ChannelQueue) Push(ctx context.Context, id string) error {
	select {
	case q.ch <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Pop(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-time.After(50 * time.Millisecond):
		return "", ErrEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
