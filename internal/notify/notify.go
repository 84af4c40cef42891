// Package notify dispatches "tell user X about event Y" requests. Delivery
// is fire-and-forget: callers never see a result.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ofair/referrals/internal/logging"
	"go.uber.org/zap"
)

const (
	EventReferralCreated       = "referral.created"
	EventReferralStatusChanged = "referral.status_changed"
	EventCommissionCalculated  = "commission.calculated"
	EventCommissionPaid        = "commission.paid"
)

type Notifier interface {
	Notify(ctx context.Context, userID, eventType string, payload map[string]interface{})
}

// LogNotifier writes notifications to the log. Used when no broker is set up.
type LogNotifier struct {
	log *logging.Logger
}

func NewLogNotifier(log *logging.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, userID, eventType string, payload map[string]interface{}) {
	n.log.Info("notification",
		zap.String("user-id", userID),
		zap.String("event", eventType),
		zap.Any("payload", payload))
}

type message struct {
	UserID  string                 `json:"user_id"`
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
	SentAt  time.Time              `json:"sent_at"`
}

// RedisNotifier publishes notifications on a channel consumed by the
// notifications service.
type RedisNotifier struct {
	log     *logging.Logger
	client  *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisNotifier(log *logging.Logger, client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{
		log:     log.Named("notify"),
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID, eventType string, payload map[string]interface{}) {
	b, err := json.Marshal(message{UserID: userID, Event: eventType, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		n.log.Error("could not encode notification", zap.String("event", eventType), zap.Error(err))
		return
	}

	// The request context may already be finished by the time a background
	// dispatch runs.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.client.Publish(pubCtx, n.channel, b).Err(); err != nil {
		n.log.Warn("could not publish notification",
			zap.String("user-id", userID),
			zap.String("event", eventType),
			zap.Error(err))
	}
}

// Recorder keeps notifications in memory.
type Recorder struct {
	ch chan Sent
}

type Sent struct {
	UserID  string
	Event   string
	Payload map[string]interface{}
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Sent, size)}
}

func (r *Recorder) Notify(_ context.Context, userID, eventType string, payload map[string]interface{}) {
	select {
	case r.ch <- Sent{UserID: userID, Event: eventType, Payload: payload}:
	default:
	}
}

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []Sent {
	var out []Sent
	for {
		select {
		case s := <-r.ch:
			out = append(out, s)
		default:
			return out
		}
	}
}
