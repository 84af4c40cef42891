package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ofair/referrals/internal/logging"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("queue is full")

// MemoryQueue is an in-process queue backed by a buffered channel.
type MemoryQueue struct {
	log         *logging.Logger
	tasks       chan Task
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	wg          sync.WaitGroup
}

func NewMemoryQueue(log *logging.Logger, size, workers, maxAttempts int) *MemoryQueue {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &MemoryQueue{
		log:         log.Named("queue.memory"),
		tasks:       make(chan Task, size),
		workers:     workers,
		maxAttempts: maxAttempts,
		retryDelay:  100 * time.Millisecond,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

func (q *MemoryQueue) Run(ctx context.Context, handle Handler) error {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, handle)
	}
	<-ctx.Done()
	q.wg.Wait()
	return nil
}

func (q *MemoryQueue) work(ctx context.Context, handle Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.process(ctx, handle, task)
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, handle Handler, task Task) {
	task.Attempt++
	err := handle(ctx, task)
	if err == nil {
		taskOutcomes.WithLabelValues("memory", "done").Inc()
		return
	}

	if task.Attempt >= q.maxAttempts {
		taskOutcomes.WithLabelValues("memory", "dropped").Inc()
		q.log.Error("task failed, giving up",
			zap.String("kind", task.Kind),
			zap.String("referral-id", task.ReferralID),
			zap.Int("attempt", task.Attempt),
			zap.Error(err))
		return
	}

	taskOutcomes.WithLabelValues("memory", "retried").Inc()
	q.log.Warn("task failed, retrying",
		zap.String("kind", task.Kind),
		zap.String("referral-id", task.ReferralID),
		zap.Int("attempt", task.Attempt),
		zap.Error(err))

	// Re-delivery goes through its own goroutine so a full channel never
	// blocks the worker that owns the failed task.
	go func() {
		select {
		case <-time.After(q.retryDelay * time.Duration(task.Attempt)):
		case <-ctx.Done():
			return
		}
		select {
		case q.tasks <- task:
		case <-ctx.Done():
		}
	}()
}
