package job

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// EnqueueFunc hands a job to the work queue.
type EnqueueFunc func(ctx context.Context, j *Job) error

// InterruptedReason is recorded on jobs that were mid-pipeline when the
// process stopped.
const InterruptedReason = "interrupted by restart"

// Dispatcher reconciles stored jobs with the queue after a restart: pending
// jobs are enqueued again and processing jobs are failed, since nothing is
// working on them any more.
type Dispatcher struct {
	store   JobStore
	enqueue EnqueueFunc
}

func NewDispatcher(store JobStore, enqueue EnqueueFunc) *Dispatcher {
	return &Dispatcher{store: store, enqueue: enqueue}
}

// FailInterrupted fails every processing job. It must run before any worker
// starts, or it would fail jobs that are being worked on.
func (d *Dispatcher) FailInterrupted(ctx context.Context) (int, error) {
	processing, _, err := d.store.List(ctx, Filter{Status: StatusProcessing})
	if err != nil {
		return 0, fmt.Errorf("list processing jobs: %w", err)
	}
	n := 0
	for _, j := range processing {
		_, err := d.store.Update(ctx, j.ID, func(j *Job) error {
			return j.Fail(InterruptedReason, time.Now())
		})
		if err != nil {
			log.Warn().Err(err).Str("job_id", j.ID).Msg("failed to mark interrupted job")
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("failed interrupted jobs")
	}
	return n, nil
}

// Requeue enqueues every pending job in submission order. A job that is
// already queued may be delivered twice; the second delivery is skipped by
// the worker because the job is no longer pending.
func (d *Dispatcher) Requeue(ctx context.Context) (int, error) {
	pending, _, err := d.store.List(ctx, Filter{Status: StatusPending})
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	n := 0
	// List is newest first.
	for i := len(pending) - 1; i >= 0; i-- {
		j := pending[i]
		if err := d.enqueue(ctx, j); err != nil {
			return n, fmt.Errorf("requeue %s: %w", j.ID, err)
		}
		n++
	}
	return n, nil
}
