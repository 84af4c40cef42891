package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ofair/referrals/internal/logging"
	"go.uber.org/zap"
)

// RedisQueue is a reliable list queue. A consumer moves each payload into a
// processing list while it works on it and removes it only once handled, so a
// crashed consumer's tasks are recovered on the next start.
type RedisQueue struct {
	log         *logging.Logger
	client      *redis.Client
	key         string
	processing  string
	dead        string
	maxAttempts int
	pollTimeout time.Duration
}

func NewRedisQueue(log *logging.Logger, client *redis.Client, name string, maxAttempts int) *RedisQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RedisQueue{
		log:         log.Named("queue.redis"),
		client:      client,
		key:         name,
		processing:  name + ":processing",
		dead:        name + ":dead",
		maxAttempts: maxAttempts,
		pollTimeout: 5 * time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	payload, err := encode(task)
	if err != nil {
		return fmt.Errorf("could not encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("could not enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Run(ctx context.Context, handle Handler) error {
	if err := q.recover(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := q.client.BRPopLPush(ctx, q.key, q.processing, q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.log.Error("could not pop task", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		q.process(ctx, handle, payload)
	}
}

// recover moves tasks left in the processing list back onto the queue.
func (q *RedisQueue) recover(ctx context.Context) error {
	for {
		_, err := q.client.RPopLPush(ctx, q.processing, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not recover in-flight tasks: %w", err)
		}
	}
}

func (q *RedisQueue) process(ctx context.Context, handle Handler, payload string) {
	task, err := decode(payload)
	if err != nil {
		q.log.Error("dropping undecodable task", zap.String("payload", payload), zap.Error(err))
		q.client.LRem(ctx, q.processing, 1, payload)
		taskOutcomes.WithLabelValues("redis", "dropped").Inc()
		return
	}

	task.Attempt++
	herr := handle(ctx, task)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, payload)
		if herr == nil {
			return nil
		}
		next, encErr := encode(task)
		if encErr != nil {
			return encErr
		}
		if task.Attempt >= q.maxAttempts {
			pipe.LPush(ctx, q.dead, next)
		} else {
			pipe.LPush(ctx, q.key, next)
		}
		return nil
	})
	if err != nil {
		q.log.Error("could not acknowledge task", zap.String("referral-id", task.ReferralID), zap.Error(err))
	}

	switch {
	case herr == nil:
		taskOutcomes.WithLabelValues("redis", "done").Inc()
	case task.Attempt >= q.maxAttempts:
		taskOutcomes.WithLabelValues("redis", "dropped").Inc()
		q.log.Error("task failed, moved to dead letter list",
			zap.String("kind", task.Kind),
			zap.String("referral-id", task.ReferralID),
			zap.Int("attempt", task.Attempt),
			zap.Error(herr))
	default:
		taskOutcomes.WithLabelValues("redis", "retried").Inc()
		q.log.Warn("task failed, requeued",
			zap.String("kind", task.Kind),
			zap.String("referral-id", task.ReferralID),
			zap.Int("attempt", task.Attempt),
			zap.Error(herr))
	}
}
