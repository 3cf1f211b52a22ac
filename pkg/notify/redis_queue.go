package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldRecipient = "recipient"
	fieldBookTitle = "bookTitle"
)

// RedisNoticeQueue is a bounded notice queue on a redis stream. Enqueueing
// implements Notifier, so the lending core hands notices straight to the
// queue; a worker drains it into a delivery Notifier (typically SMTP).
// The stream is capped, so under sustained mailer outage the oldest notices
// are dropped rather than blocking the lending path.
type RedisNoticeQueue struct {
	client *redis.Client
	stream string
	group  string
	maxLen int64
	block  time.Duration
}

// RedisQueueConfig configures the notice queue.
type RedisQueueConfig struct {
	Addr     string
	Password string
	Stream   string
	Group    string
	MaxLen   int64
	Block    time.Duration
}

// NewRedisNoticeQueue connects to redis and applies defaults.
func NewRedisNoticeQueue(cfg RedisQueueConfig) (*RedisNoticeQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "library:notices"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "mailers"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	return &RedisNoticeQueue{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		group:  group,
		maxLen: maxLen,
		block:  block,
	}, nil
}

// SendAvailabilityNotice enqueues the notice for asynchronous delivery.
func (q *RedisNoticeQueue) SendAvailabilityNotice(ctx context.Context, recipient, bookTitle string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldRecipient: recipient,
			fieldBookTitle: bookTitle,
		},
	}).Err()
}

// Run consumes notices and delivers them via the mailer until ctx is done.
// Delivery failures are logged and the notice is dropped after acknowledging:
// availability notices are best effort, a retry storm would be worse than a
// missed email.
func (q *RedisNoticeQueue) Run(ctx context.Context, mailer Notifier, consumer string) error {
	if consumer == "" {
		consumer = "mailer-1"
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.Warn("notice queue read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.deliver(ctx, mailer, msg)
			}
		}
	}
}

func (q *RedisNoticeQueue) deliver(ctx context.Context, mailer Notifier, msg redis.XMessage) {
	recipient, _ := msg.Values[fieldRecipient].(string)
	title, _ := msg.Values[fieldBookTitle].(string)
	if recipient != "" {
		if err := mailer.SendAvailabilityNotice(ctx, recipient, title); err != nil {
			slog.Warn("availability notice delivery failed", "recipient", recipient, "error", err)
		}
	}
	if err := q.client.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil {
		slog.Warn("notice ack failed", "id", msg.ID, "error", err)
	}
}

func (q *RedisNoticeQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Close releases the redis connection.
func (q *RedisNoticeQueue) Close() error {
	return q.client.Close()
}
