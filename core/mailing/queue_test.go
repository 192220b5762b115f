package mailing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisQueue(rdb, "mailing_tasks"), mr
}

func TestRedisQueuePublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t)

	require.NoError(t, q.Publish(ctx, Job{MailingID: "a", BotID: 1, Message: "hi", ChunkSize: 10}))
	require.NoError(t, q.Publish(ctx, Job{MailingID: "b", BotID: 1, Message: "hi", ChunkSize: 10}))

	d, err := q.Consume(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, "a", d.Job.MailingID, "first published is consumed first")

	processing, err := mr.List("mailing_tasks:processing")
	require.NoError(t, err)
	require.Len(t, processing, 1)

	require.NoError(t, d.Ack(ctx))
	require.False(t, mr.Exists("mailing_tasks:processing"))
}

func TestRedisQueueRecover(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t)

	require.NoError(t, q.Publish(ctx, Job{MailingID: "a"}))
	require.NoError(t, q.Publish(ctx, Job{MailingID: "b"}))
	_, err := q.Consume(ctx, time.Second)
	require.NoError(t, err)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, mr.Exists("mailing_tasks:processing"))

	// The recovered job is handed out before newer ones.
	d, err := q.Consume(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", d.Job.MailingID)
}

func TestRedisQueueDropsMalformedJob(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t)
	_, err := mr.Lpush("mailing_tasks", "{not json")
	require.NoError(t, err)

	d, err := q.Consume(ctx, time.Second)
	require.Error(t, err)
	require.Nil(t, d)
	require.False(t, mr.Exists("mailing_tasks:processing"))
}

// lremFailing lets every command through except LREM.
type lremFailing struct {
	redis.Cmdable
}

func (lremFailing) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, errors.New("READONLY You can't write against a read only replica"))
}

func TestRedisQueueReportsFailedDrop(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewRedisQueue(lremFailing{rdb}, "mailing_tasks")
	_, err := mr.Lpush("mailing_tasks", "{not json")
	require.NoError(t, err)

	d, err := q.Consume(ctx, time.Second)
	require.Nil(t, d)
	require.ErrorContains(t, err, "decode job")
	require.ErrorContains(t, err, "READONLY")

	processing, err := mr.List("mailing_tasks:processing")
	require.NoError(t, err)
	require.Len(t, processing, 1)
}
