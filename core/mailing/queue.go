// Package mailing broadcasts a message to every subscriber of a bot through a Redis work queue.
package mailing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/chainbot/core/logger"
)

// Job is the queued work document.
type Job struct {
	MailingID string `json:"mailing_id"`
	BotID     int64  `json:"bot_id"`
	BotToken  string `json:"bot_token"`
	Message   string `json:"message"`
	ChunkSize int    `json:"chunk_size"`
}

// Delivery is a consumed job that stays on the processing list until acknowledged.
type Delivery struct {
	Job Job

	raw string
	ack func(ctx context.Context, raw string) error
}

// Ack removes the job from the processing list.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx, d.raw)
}

// Queue carries mailing jobs from publishers to workers.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	// Consume waits up to timeout for a job. It returns nil, nil when none arrived.
	Consume(ctx context.Context, timeout time.Duration) (*Delivery, error)
	// Recover puts unacknowledged jobs back onto the queue and reports how many moved.
	Recover(ctx context.Context) (int, error)
}

// RedisQueue is a reliable list queue: jobs are moved atomically onto "<name>:processing"
// while being worked on, so a crashed worker's jobs survive until Recover.
type RedisQueue struct {
	rdb        redis.Cmdable
	name       string
	processing string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue returns a queue on the list name.
func NewRedisQueue(rdb redis.Cmdable, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name, processing: name + ":processing"}
}

func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", q.name, err)
	}
	logger.LogEvent(ctx, logger.Queue, slog.LevelDebug, "queue.publish",
		slog.String("queue", q.name),
		slog.String("mailing_id", job.MailingID),
		slog.Int("bytes", len(payload)),
	)
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.name, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison message; drop it so it is not redelivered forever.
		decodeErr := fmt.Errorf("decode job: %w", err)
		if aerr := q.ack(ctx, raw); aerr != nil {
			logger.LogEvent(ctx, logger.Queue, slog.LevelWarn, "queue.drop",
				slog.String("outcome", "fail"),
				slog.String("queue", q.name),
				slog.String("err", aerr.Error()),
			)
			return nil, errors.Join(decodeErr, aerr)
		}
		return nil, decodeErr
	}
	return &Delivery{Job: job, raw: raw, ack: q.ack}, nil
}

func (q *RedisQueue) ack(ctx context.Context, raw string) error {
	if err := q.rdb.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", q.processing, err)
	}
	return nil
}

func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.name, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", q.processing, err)
		}
		n++
	}
	if n > 0 {
		logger.LogEvent(ctx, logger.Queue, slog.LevelInfo, "queue.recover", slog.String("queue", q.name), slog.Int("jobs", n))
	}
	return n, nil
}
