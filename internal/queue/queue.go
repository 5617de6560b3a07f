// Package queue implements the durable, append-only Job Queue on top of a
// Redis stream: XADD for enqueue, XGROUP/XREADGROUP for consumer-group
// delivery, XACK for acknowledgement, and XAUTOCLAIM to redeliver messages
// a consumer failed to ack within the visibility window.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	payloadField    = "payload"
	requestIDField  = "request_id"
	enqueuedAtField = "enqueued_at"
)

// Message is the transient envelope owned by the queue until acknowledged.
type Message struct {
	MessageID  string
	RequestID  string
	PayloadRaw string
	EnqueuedAt time.Time
}

// Config configures a Queue's stream name and redelivery behavior.
type Config struct {
	Stream           string
	VisibilityWindow time.Duration
}

// Queue is a consumer-group-aware durable job queue backed by a Redis stream.
type Queue struct {
	rdb              *redis.Client
	stream           string
	visibilityWindow time.Duration
	logger           *slog.Logger
}

// New creates a Queue against the given Redis client and stream name.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Queue {
	if cfg.VisibilityWindow <= 0 {
		cfg.VisibilityWindow = 30 * time.Second
	}
	return &Queue{rdb: rdb, stream: cfg.Stream, visibilityWindow: cfg.VisibilityWindow, logger: logger}
}

// Enqueue appends a message carrying requestID and its payload JSON.
// Returns the message ID assigned by Redis, which is monotone in time.
func (q *Queue) Enqueue(ctx context.Context, requestID string, payloadJSON string) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			requestIDField:  requestID,
			payloadField:    payloadJSON,
			enqueuedAtField: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// EnsureConsumerGroup idempotently creates a consumer group starting from
// the beginning of the stream, creating the stream itself if necessary.
func (q *Queue) EnsureConsumerGroup(ctx context.Context, group string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("queue: ensure consumer group %q: %w", group, err)
	}
	return nil
}

// Consume returns up to count messages not yet delivered to this consumer
// group, blocking up to blockFor if none are immediately available.
// Messages the group failed to ack within the visibility window are
// reclaimed and returned ahead of new messages, giving at-least-once
// redelivery.
func (q *Queue) Consume(ctx context.Context, group, consumer string, count int64, blockFor time.Duration) ([]Message, error) {
	reclaimed, err := q.reclaimStale(ctx, group, consumer, count)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) > 0 {
		return reclaimed, nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    blockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: consume: %w", err)
	}

	var out []Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			out = append(out, toMessage(entry))
		}
	}
	return out, nil
}

// reclaimStale uses XAUTOCLAIM to pick up messages idle longer than the
// visibility window, transferring their ownership to consumer.
func (q *Queue) reclaimStale(ctx context.Context, group, consumer string, count int64) ([]Message, error) {
	entries, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  q.visibilityWindow,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: reclaim stale: %w", err)
	}

	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toMessage(entry))
	}
	return out, nil
}

// Ack removes a message from the consumer group's pending set.
func (q *Queue) Ack(ctx context.Context, group, messageID string) error {
	if err := q.rdb.XAck(ctx, q.stream, group, messageID).Err(); err != nil {
		return fmt.Errorf("queue: ack %q: %w", messageID, err)
	}
	return nil
}

func toMessage(entry redis.XMessage) Message {
	msg := Message{MessageID: entry.ID}
	if v, ok := entry.Values[requestIDField].(string); ok {
		msg.RequestID = v
	}
	if v, ok := entry.Values[payloadField].(string); ok {
		msg.PayloadRaw = v
	}
	if v, ok := entry.Values[enqueuedAtField].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.EnqueuedAt = t
		}
	}
	return msg
}

func isBusyGroup(err error) bool {
	return strings.Contains(err.Error(), "BUSYGROUP")
}
