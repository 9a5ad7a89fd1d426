package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type StreamsConfig struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	DLQStream string
	Group     string
	Consumer  string
}

// StreamsQueue implements Queue on Redis Streams with a consumer group, so
// several webdoc processes can share one stream.
type StreamsQueue struct {
	client    *redis.Client
	stream    string
	dlqStream string
	group     string
	consumer  string
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "webdoc_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "webdoc_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "webdoc-1"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	q := &StreamsQueue{
		client:    client,
		stream:    cfg.Stream,
		dlqStream: cfg.DLQStream,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
	}
	if err := q.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message Message) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: encodeMessage(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, item, handler)
			}
		}
	}
}

// handle runs one delivery. Whatever happens the entry is acknowledged:
// failed deliveries are copied to the dead letter stream, never retried.
func (q *StreamsQueue) handle(ctx context.Context, item redis.XMessage, handler Handler) {
	defer func() {
		if err := q.ackAndDelete(ctx, item.ID); err != nil {
			log.Warn().Err(err).Str("stream_id", item.ID).Msg("ack failed")
		}
	}()

	message, err := decodeMessage(item.Values)
	if err != nil {
		log.Error().Err(err).Str("stream_id", item.ID).Msg("malformed stream message")
		q.sendToDLQ(ctx, message, item, err.Error())
		return
	}
	if err := handler(ctx, message); err != nil {
		log.Error().Err(err).Str("job_id", message.JobID).Msg("stream handler failed, message dropped")
		q.sendToDLQ(ctx, message, item, err.Error())
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	// Use a fresh context so shutdown does not leave entries pending.
	ctx = context.WithoutCancel(ctx)
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, message Message, item redis.XMessage, reason string) {
	values := encodeMessage(message)
	values["stream_id"] = item.ID
	values["error"] = reason
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := q.client.XAdd(context.WithoutCancel(ctx), &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Err(); err != nil {
		log.Warn().Err(err).Str("stream_id", item.ID).Msg("send to dlq failed")
	}
}

func encodeMessage(m Message) map[string]any {
	return map[string]any{
		"job_id":       m.JobID,
		"url":          m.URL,
		"format":       m.Format,
		"requested_at": m.RequestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeMessage(values map[string]any) (Message, error) {
	get := func(key string) (string, error) {
		value, ok := values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	}

	var m Message
	var err error
	if m.JobID, err = get("job_id"); err != nil {
		return m, err
	}
	if m.URL, err = get("url"); err != nil {
		return m, err
	}
	if m.Format, err = get("format"); err != nil {
		return m, err
	}
	requestedAt, err := get("requested_at")
	if err != nil {
		return m, err
	}
	if m.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedAt); err != nil {
		return m, fmt.Errorf("invalid requested_at: %w", err)
	}
	return m, nil
}
