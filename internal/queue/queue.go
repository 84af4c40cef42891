// Package queue carries background work with at-least-once delivery. A task
// whose handler fails is delivered again until MaxAttempts is reached, so
// handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const KindCommissionChain = "commission.chain"

type Task struct {
	Kind       string    `json:"kind"`
	ReferralID string    `json:"referral_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Handler func(ctx context.Context, task Task) error

// Queue is implemented by MemoryQueue and RedisQueue.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Run consumes tasks until ctx is cancelled.
	Run(ctx context.Context, handle Handler) error
}

var taskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "referrals_queue_tasks_total",
	Help: "Background tasks processed, labeled by queue backend and outcome",
}, []string{"backend", "outcome"})

func encode(t Task) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(s string) (Task, error) {
	var t Task
	err := json.Unmarshal([]byte(s), &t)
	return t, err
}
