package triage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteDelayed moves due bodies from the delayed sorted set onto the ready list.
var promoteDelayed = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, body in ipairs(due) do
  redis.call('ZREM', KEYS[1], body)
  redis.call('LPUSH', KEYS[2], body)
end
return #due
`)

const promoteBatch = 100

// RedisQueue implements Queue on a Redis list. Delayed jobs wait in a
// sorted set scored by due time; received jobs sit on a processing list until deleted.
type RedisQueue struct {
	client     redis.UniversalClient
	ready      string
	delayed    string
	processing string
	now        func() time.Time
}

// NewRedisQueue creates a queue rooted at key.
func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if client == nil {
		panic("triage: redis client cannot be nil")
	}
	if key == "" {
		key = "triage:jobs"
	}
	return &RedisQueue{
		client:     client,
		ready:      key,
		delayed:    key + ":delayed",
		processing: key + ":processing",
		now:        time.Now,
	}
}

func (q *RedisQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	if delay > 0 {
		due := q.now().Add(delay).UnixMilli()
		if err := q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due), Member: body}).Err(); err != nil {
			return fmt.Errorf("triage: failed to schedule redis job: %w", err)
		}
		return nil
	}
	if err := q.client.LPush(ctx, q.ready, body).Err(); err != nil {
		return fmt.Errorf("triage: failed to push redis job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	if err := promoteDelayed.Run(ctx, q.client, []string{q.delayed, q.ready}, now, promoteBatch).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("triage: failed to promote delayed jobs: %w", err)
	}

	var first string
	var err error
	if waitSeconds > 0 {
		first, err = q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", time.Duration(waitSeconds)*time.Second).Result()
	} else {
		first, err = q.client.LMove(ctx, q.ready, q.processing, "RIGHT", "LEFT").Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("triage: failed to receive redis job: %w", err)
	}

	messages := []queueMessage{{ID: uuid.NewString(), Body: first, ReceiptHandle: first, Receives: 1}}
	for len(messages) < maxMessages {
		body, err := q.client.LMove(ctx, q.ready, q.processing, "RIGHT", "LEFT").Result()
		if err != nil {
			break
		}
		messages = append(messages, queueMessage{ID: uuid.NewString(), Body: body, ReceiptHandle: body, Receives: 1})
	}
	return messages, nil
}

// Delete removes a received job from the processing list.
func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	if err := q.client.LRem(ctx, q.processing, 1, receiptHandle).Err(); err != nil {
		return fmt.Errorf("triage: failed to delete redis job: %w", err)
	}
	return nil
}
