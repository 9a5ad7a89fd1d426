// Package orchestrator accepts document requests, records them as jobs and
// hands them to the pipeline workers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webdoc/webdoc/internal/job"
	"github.com/webdoc/webdoc/internal/queue"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotCompleted = errors.New("job is not completed")
)

// ValidationError describes a rejected submission. No job is created for it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

const (
	DefaultDocumentLimit = 50
	MaxDocumentLimit     = 500
)

const requeueRetryDelay = 100 * time.Millisecond

// DocumentStore is where rendered files live.
type DocumentStore interface {
	Open(jobID, filename string) (*os.File, error)
	Delete(jobID string) error
}

type Orchestrator struct {
	store job.JobStore
	queue queue.Producer
	docs  DocumentStore
	now   func() time.Time
}

func New(store job.JobStore, q queue.Producer, docs DocumentStore) *Orchestrator {
	return &Orchestrator{store: store, queue: q, docs: docs, now: time.Now}
}

// Submit validates the request, stores a pending job and enqueues it. It
// returns as soon as the job is queued. A job that cannot be queued is
// returned already failed.
func (o *Orchestrator) Submit(ctx context.Context, rawURL, format string) (*job.Job, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	f, err := job.ParseFormat(format)
	if err != nil {
		return nil, &ValidationError{Field: "format", Message: "format must be one of: pdf, docx"}
	}

	j := job.New(target, f)
	if err := o.store.Add(ctx, j); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	if err := o.queue.Enqueue(ctx, messageFor(j)); err != nil {
		log.Error().Err(err).Str("job_id", j.ID).Msg("enqueue failed")
		failed, uerr := o.store.Update(context.WithoutCancel(ctx), j.ID, func(j *job.Job) error {
			return j.Fail("enqueue failed: "+err.Error(), o.now())
		})
		if uerr != nil {
			return nil, fmt.Errorf("mark job failed: %w", uerr)
		}
		return failed, nil
	}

	log.Info().Str("job_id", j.ID).Str("url", j.URL).Str("format", string(j.Format)).Msg("job submitted")
	return j, nil
}

// ValidateURL accepts absolute http and https URLs and returns them trimmed.
func ValidateURL(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", &ValidationError{Field: "url", Message: "url is required"}
	}
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return "", &ValidationError{Field: "url", Message: "url is not valid"}
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", &ValidationError{Field: "url", Message: "url must be an absolute http or https URL"}
	}
	return s, nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*job.Job, error) {
	return o.store.Get(ctx, id)
}

// Documents lists completed jobs, newest first.
func (o *Orchestrator) Documents(ctx context.Context, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = DefaultDocumentLimit
	}
	if limit > MaxDocumentLimit {
		limit = MaxDocumentLimit
	}
	jobs, _, err := o.store.List(ctx, job.Filter{Status: job.StatusCompleted, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return jobs, nil
}

// Delete removes a completed job together with its stored document.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	j, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != job.StatusCompleted {
		return fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, j.Status)
	}
	if err := o.docs.Delete(id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("job_id", id).Msg("document deleted")
	return nil
}

// Open resolves a download name to the newest completed job that produced
// it. The caller closes the returned file.
func (o *Orchestrator) Open(ctx context.Context, filename string) (*job.Job, *os.File, error) {
	jobs, _, err := o.store.List(ctx, job.Filter{Status: job.StatusCompleted})
	if err != nil {
		return nil, nil, fmt.Errorf("list documents: %w", err)
	}
	for _, j := range jobs {
		if j.Filename != filename {
			continue
		}
		f, err := o.docs.Open(j.ID, filename)
		if err != nil {
			return nil, nil, err
		}
		return j, f, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", job.ErrNotFound, filename)
}

func (o *Orchestrator) Stats(ctx context.Context) (job.Stats, error) {
	return o.store.Stats(ctx)
}

// FailInterrupted fails jobs a previous run left processing. Call it before
// starting workers.
func (o *Orchestrator) FailInterrupted(ctx context.Context) (int, error) {
	return job.NewDispatcher(o.store, nil).FailInterrupted(ctx)
}

// Requeue enqueues jobs a previous run left pending. Workers must already be
// consuming: a full queue is waited out instead of failing the job.
func (o *Orchestrator) Requeue(ctx context.Context) (int, error) {
	d := job.NewDispatcher(o.store, func(ctx context.Context, j *job.Job) error {
		for {
			err := o.queue.Enqueue(ctx, messageFor(j))
			if !errors.Is(err, queue.ErrQueueFull) {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(requeueRetryDelay):
			}
		}
	})
	return d.Requeue(ctx)
}

func messageFor(j *job.Job) queue.Message {
	return queue.Message{
		JobID:       j.ID,
		URL:         j.URL,
		Format:      string(j.Format),
		RequestedAt: j.CreatedAt,
	}
}
