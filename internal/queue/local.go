package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// LocalQueue is an in-process buffered channel. Several consumers may call
// Consume concurrently; each message goes to exactly one of them.
type LocalQueue struct {
	ch      chan Message
	dropped atomic.Int64
}

func NewLocalQueue(bufferSize int) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &LocalQueue{ch: make(chan Message, bufferSize)}
}

// Enqueue returns ErrQueueFull at once when the buffer has no room.
func (q *LocalQueue) Enqueue(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- message:
		return nil
	default:
		return fmt.Errorf("%w: %d messages waiting", ErrQueueFull, cap(q.ch))
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			if err := handler(ctx, message); err != nil {
				q.dropped.Add(1)
				log.Error().Err(err).Str("job_id", message.JobID).Msg("local queue handler failed, message dropped")
			}
		}
	}
}

// Stats reports the backlog and the messages whose handler returned an
// error.
func (q *LocalQueue) Stats() Stats {
	return Stats{Depth: len(q.ch), Capacity: cap(q.ch), Dropped: q.dropped.Load()}
}
