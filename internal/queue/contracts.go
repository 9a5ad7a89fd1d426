// Package queue hands submitted jobs to pipeline workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull is returned by producers that cannot accept a message without
// waiting for a consumer.
var ErrQueueFull = errors.New("queue is full")

// Message is the unit of work for one job. The job record stays the source
// of truth; the message only names it.
type Message struct {
	JobID       string    `json:"jobId"`
	URL         string    `json:"url"`
	Format      string    `json:"format"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Handler processes one message. Messages are delivered at most once: an
// error is logged and the message dropped.
type Handler func(context.Context, Message) error

type Producer interface {
	// Enqueue never waits for a consumer to make room.
	Enqueue(ctx context.Context, message Message) error
}

type Consumer interface {
	// Consume blocks, calling handler for each message until ctx ends.
	Consume(ctx context.Context, handler Handler) error
}

type Queue interface {
	Producer
	Consumer
}

// Stats describes a queue's backlog.
type Stats struct {
	Depth    int   `json:"depth"`
	Capacity int   `json:"capacity"`
	Dropped  int64 `json:"dropped"`
}
