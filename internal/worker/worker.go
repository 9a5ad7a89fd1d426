// Package worker runs the extract and render pipeline for queued jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webdoc/webdoc/internal/extract"
	"github.com/webdoc/webdoc/internal/job"
	"github.com/webdoc/webdoc/internal/queue"
	"github.com/webdoc/webdoc/internal/render"
)

// DocumentWriter stores rendered bytes under the job's id.
type DocumentWriter interface {
	Put(jobID, filename string, content []byte) error
}

// consumeRetryDelay is the pause before re-entering a consume loop that
// failed.
const consumeRetryDelay = 2 * time.Second

type Worker struct {
	consumer  queue.Consumer
	store     job.JobStore
	extractor extract.Extractor
	docs      DocumentWriter
	render    []render.Option
	now       func() time.Time

	jobsCompleted atomic.Int64
	jobsFailed    atomic.Int64
}

func New(consumer queue.Consumer, store job.JobStore, extractor extract.Extractor, docs DocumentWriter, opts ...render.Option) *Worker {
	return &Worker{
		consumer:  consumer,
		store:     store,
		extractor: extractor,
		docs:      docs,
		render:    opts,
		now:       time.Now,
	}
}

// Run consumes the queue until ctx is cancelled. It is safe to call Run from
// several goroutines; each call is one worker slot.
func (w *Worker) Run(ctx context.Context) error {
	for {
		err := w.consumer.Consume(ctx, w.Process)
		if ctx.Err() != nil {
			return nil
		}
		log.Error().Err(err).Msg("consume loop error, restarting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(consumeRetryDelay):
		}
	}
}

// Process runs the pipeline for one message. Pipeline failures end up on the
// job record; the returned error only reports that the job store itself
// could not be updated.
func (w *Worker) Process(ctx context.Context, msg queue.Message) (err error) {
	logger := log.With().Str("job_id", msg.JobID).Logger()

	j, err := w.store.Update(ctx, msg.JobID, func(j *job.Job) error { return j.Start() })
	switch {
	case errors.Is(err, job.ErrNotFound):
		logger.Warn().Msg("job vanished before processing")
		return nil
	case errors.Is(err, job.ErrTerminal), errors.Is(err, job.ErrInvalidTransition):
		logger.Warn().Err(err).Msg("skipping job that is not pending")
		return nil
	case err != nil:
		return fmt.Errorf("start job %s: %w", msg.JobID, err)
	}
	logger.Info().Str("url", j.URL).Str("format", string(j.Format)).Msg("job started")

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("pipeline panicked")
			err = w.fail(ctx, j.ID, fmt.Errorf("internal error: %v", r))
		}
	}()

	out, perr := w.pipeline(ctx, j)
	if perr != nil {
		if ctx.Err() != nil {
			logger.Warn().Err(perr).Msg("pipeline stopped by shutdown")
			perr = errors.New(job.InterruptedReason)
		}
		return w.fail(ctx, j.ID, perr)
	}

	_, err = w.store.Update(context.WithoutCancel(ctx), j.ID, func(j *job.Job) error {
		return j.Complete(job.Output{Filename: out.Filename, FileSize: out.Size, Pages: out.Pages}, w.now())
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", j.ID, err)
	}
	w.jobsCompleted.Add(1)
	logger.Info().Str("filename", out.Filename).Int("pages", out.Pages).Int64("size", out.Size).Msg("job completed")
	return nil
}

func (w *Worker) pipeline(ctx context.Context, j *job.Job) (render.Output, error) {
	res, err := w.extractor.Extract(ctx, j.URL)
	if err != nil {
		return render.Output{}, err
	}
	if _, err := w.store.Update(ctx, j.ID, func(j *job.Job) error { return j.Extracted(res.Title) }); err != nil {
		return render.Output{}, fmt.Errorf("record extraction: %w", err)
	}

	r, err := render.ForFormat(string(j.Format), w.render...)
	if err != nil {
		return render.Output{}, &render.Error{Format: string(j.Format), Err: err}
	}
	out, err := r.Render(ctx, render.Input{
		Title:       res.Title,
		Text:        res.Text,
		SourceURL:   j.URL,
		GeneratedAt: w.now(),
	})
	if err != nil {
		return render.Output{}, err
	}
	if err := w.docs.Put(j.ID, out.Filename, out.Data); err != nil {
		return render.Output{}, fmt.Errorf("store document: %w", err)
	}
	return out, nil
}

func (w *Worker) fail(ctx context.Context, id string, cause error) error {
	w.jobsFailed.Add(1)
	log.Warn().Err(cause).Str("job_id", id).Msg("job failed")
	_, err := w.store.Update(context.WithoutCancel(ctx), id, func(j *job.Job) error {
		return j.Fail(cause.Error(), w.now())
	})
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

type Stats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stats reports the jobs this worker finished since start.
func (w *Worker) Stats() Stats {
	return Stats{Completed: w.jobsCompleted.Load(), Failed: w.jobsFailed.Load()}
}
