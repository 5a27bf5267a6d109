// Package redis provides a Redis Streams implementation of queue.Queue.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cnabflow/ingestor/internal/queue"
)

// Queue is a Redis Streams-backed implementation of queue.Queue.
type Queue struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// NewFromAddr builds a Redis client from addr/password/db and wraps it.
func NewFromAddr(addr, password string, db int) *Queue {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

const (
	fieldUploadID       = "upload_id"
	fieldStoragePath    = "storage_path"
	fieldResumeFromLine = "resume_from_line"
	fieldAttempt        = "attempt"
	fieldReason         = "reason"
	fieldAttempts       = "attempts"
)

func (q *Queue) Enqueue(ctx context.Context, streamName string, msg queue.Message) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]any{
			fieldUploadID:       msg.UploadID,
			fieldStoragePath:    msg.StoragePath,
			fieldResumeFromLine: msg.ResumeFromLine,
			fieldAttempt:        msg.Attempt,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

func (q *Queue) ensureGroup(ctx context.Context, streamName, groupName string) error {
	err := q.client.XGroupCreateMkStream(ctx, streamName, groupName, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		// BUSYGROUP means the group already exists — not an error.
		if isBusyGroupErr(err) {
			return nil
		}
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (q *Queue) Consume(ctx context.Context, streamName, groupName, consumerID string, batch int, blockDuration time.Duration) ([]queue.Message, error) {
	if err := q.ensureGroup(ctx, streamName, groupName); err != nil {
		return nil, fmt.Errorf("redis ensure consumer group: %w", err)
	}

	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: consumerID,
		Streams:  []string{streamName, ">"},
		Count:    int64(batch),
		Block:    blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xreadgroup: %w", err)
	}

	var messages []queue.Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			messages = append(messages, parseMessage(entry))
		}
	}
	return messages, nil
}

func parseMessage(entry redis.XMessage) queue.Message {
	msg := queue.Message{ID: entry.ID}
	if v, ok := entry.Values[fieldUploadID].(string); ok {
		msg.UploadID = v
	}
	if v, ok := entry.Values[fieldStoragePath].(string); ok {
		msg.StoragePath = v
	}
	msg.ResumeFromLine = parseInt64(entry.Values[fieldResumeFromLine])
	msg.Attempt = int(parseInt64(entry.Values[fieldAttempt]))
	return msg
}

func parseInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func (q *Queue) Ack(ctx context.Context, streamName, groupName, messageID string) error {
	if err := q.client.XAck(ctx, streamName, groupName, messageID).Err(); err != nil {
		return fmt.Errorf("redis xack: %w", err)
	}
	return nil
}

func (q *Queue) Pending(ctx context.Context, streamName, groupName string, minIdle time.Duration) ([]string, error) {
	entries, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  groupName,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xpending: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (q *Queue) EnqueueDead(ctx context.Context, dlqStream string, payload queue.DeadLetter) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: map[string]any{
			fieldUploadID: payload.UploadID,
			fieldReason:   payload.Reason,
			fieldAttempts: payload.Attempts,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd dlq: %w", err)
	}
	return nil
}

var _ queue.Queue = (*Queue)(nil)
