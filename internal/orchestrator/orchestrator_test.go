package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/webdoc/webdoc/internal/job"
	"github.com/webdoc/webdoc/internal/queue"
	"github.com/webdoc/webdoc/internal/storage"
)

type recordingQueue struct {
	messages []queue.Message
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, m queue.Message) error {
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, m)
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *job.Store, *recordingQueue, *storage.Store) {
	t.Helper()
	docs, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	store := job.NewStore()
	q := &recordingQueue{}
	return New(store, q, docs), store, q, docs
}

// complete drives a stored job through the pipeline transitions.
func complete(t *testing.T, store job.JobStore, id, filename string) {
	t.Helper()
	_, err := store.Update(context.Background(), id, func(j *job.Job) error {
		if err := j.Start(); err != nil {
			return err
		}
		if err := j.Extracted("Title"); err != nil {
			return err
		}
		return j.Complete(job.Output{Filename: filename, FileSize: 3, Pages: 1}, time.Now())
	})
	if err != nil {
		t.Fatalf("complete job: %v", err)
	}
}

func TestSubmit(t *testing.T) {
	o, store, q, _ := newTestOrchestrator(t)

	j, err := o.Submit(context.Background(), " https://example.com/page ", "docx")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.Status != job.StatusPending || j.Progress != 0 {
		t.Errorf("expected pending/0, got %s/%d", j.Status, j.Progress)
	}
	if j.URL != "https://example.com/page" || j.Format != job.FormatDOCX {
		t.Errorf("unexpected job %+v", j)
	}
	if len(q.messages) != 1 || q.messages[0].JobID != j.ID || q.messages[0].Format != "docx" {
		t.Errorf("unexpected queue contents %+v", q.messages)
	}
	if _, err := store.Get(context.Background(), j.ID); err != nil {
		t.Errorf("job not stored: %v", err)
	}
}

func TestSubmit_Validation(t *testing.T) {
	cases := []struct {
		url, format, field string
	}{
		{"", "pdf", "url"},
		{"not a url", "pdf", "url"},
		{"ftp://example.com/file", "pdf", "url"},
		{"/relative/path", "pdf", "url"},
		{"https://example.com", "txt", "format"},
		{"https://example.com", "", "format"},
	}
	for _, c := range cases {
		o, store, q, _ := newTestOrchestrator(t)

		_, err := o.Submit(context.Background(), c.url, c.format)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%q/%q: expected ErrValidation, got %v", c.url, c.format, err)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != c.field {
			t.Errorf("%q/%q: expected field %s, got %v", c.url, c.format, c.field, err)
		}
		_, total, _ := store.List(context.Background(), job.Filter{})
		if total != 0 || len(q.messages) != 0 {
			t.Errorf("%q/%q: rejected submission must not create a job", c.url, c.format)
		}
	}
}

func TestSubmit_EnqueueFailureFailsJob(t *testing.T) {
	o, _, q, _ := newTestOrchestrator(t)
	q.err = errors.New("queue full")

	j, err := o.Submit(context.Background(), "https://example.com", "pdf")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.Status != job.StatusFailed || j.CompletedAt == nil {
		t.Errorf("expected failed job with completedAt, got %+v", j)
	}
}

func TestGet_NotFound(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	if _, err := o.Get(context.Background(), "missing"); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDocuments_OnlyCompletedNewestFirst(t *testing.T) {
	ctx := context.Background()
	o, store, _, _ := newTestOrchestrator(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		j := job.New("https://example.com", job.FormatPDF)
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		store.Add(ctx, j)
		ids = append(ids, j.ID)
	}
	complete(t, store, ids[0], "a.pdf")
	complete(t, store, ids[2], "c.pdf")

	docs, err := o.Documents(ctx, 0)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != ids[2] || docs[1].ID != ids[0] {
		t.Errorf("unexpected documents %+v", docs)
	}

	one, _ := o.Documents(ctx, 1)
	if len(one) != 1 {
		t.Errorf("expected limit to apply, got %d", len(one))
	}
}

func TestOpen_NewestMatch(t *testing.T) {
	ctx := context.Background()
	o, store, _, docs := newTestOrchestrator(t)

	older := job.New("https://example.com", job.FormatPDF)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := job.New("https://example.com", job.FormatPDF)
	store.Add(ctx, older)
	store.Add(ctx, newer)
	complete(t, store, older.ID, "Example.pdf")
	complete(t, store, newer.ID, "Example.pdf")
	docs.Put(older.ID, "Example.pdf", []byte("old"))
	docs.Put(newer.ID, "Example.pdf", []byte("new"))

	j, f, err := o.Open(ctx, "Example.pdf")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if j.ID != newer.ID || string(data) != "new" {
		t.Errorf("expected newest document, got %s %q", j.ID, data)
	}

	if _, _, err := o.Open(ctx, "Missing.pdf"); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	o, store, _, docs := newTestOrchestrator(t)

	j := job.New("https://example.com", job.FormatPDF)
	store.Add(ctx, j)
	complete(t, store, j.ID, "Example.pdf")
	docs.Put(j.ID, "Example.pdf", []byte("pdf"))

	if err := o.Delete(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := docs.Open(j.ID, "Example.pdf"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("document file should be removed, got %v", err)
	}
	if _, err := store.Get(ctx, j.ID); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected job record removed, got %v", err)
	}
	if err := o.Delete(ctx, j.ID); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDelete_NotCompleted(t *testing.T) {
	ctx := context.Background()
	o, store, _, _ := newTestOrchestrator(t)
	j := job.New("https://example.com", job.FormatPDF)
	store.Add(ctx, j)

	if err := o.Delete(ctx, j.ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("expected ErrNotCompleted, got %v", err)
	}
}

func TestSubmit_FullQueueReturnsPromptly(t *testing.T) {
	docs, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	o := New(job.NewStore(), queue.NewLocalQueue(1), docs)

	if j, err := o.Submit(context.Background(), "https://a.example", "pdf"); err != nil || j.Status != job.StatusPending {
		t.Fatalf("first submit: %v %+v", err, j)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	j, err := o.Submit(ctx, "https://b.example", "pdf")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("submit blocked for %v on a full queue", elapsed)
	}
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.Status != job.StatusFailed || !strings.Contains(j.Error, "queue is full") {
		t.Errorf("expected job failed with a full queue, got %s %q", j.Status, j.Error)
	}
}

func TestFailInterrupted(t *testing.T) {
	ctx := context.Background()
	o, store, q, _ := newTestOrchestrator(t)

	pending := job.New("https://a.example", job.FormatPDF)
	running := job.New("https://b.example", job.FormatDOCX)
	store.Add(ctx, pending)
	store.Add(ctx, running)
	store.Update(ctx, running.ID, func(j *job.Job) error { return j.Start() })

	n, err := o.FailInterrupted(ctx)
	if err != nil {
		t.Fatalf("fail interrupted: %v", err)
	}
	if n != 1 || len(q.messages) != 0 {
		t.Errorf("expected 1 interrupted and nothing queued, got %d %+v", n, q.messages)
	}
	got, _ := store.Get(ctx, running.ID)
	if got.Status != job.StatusFailed || got.Error != job.InterruptedReason {
		t.Errorf("unexpected interrupted job %+v", got)
	}
	if got, _ := store.Get(ctx, pending.ID); got.Status != job.StatusPending {
		t.Errorf("pending job changed to %s", got.Status)
	}
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()
	o, store, q, _ := newTestOrchestrator(t)

	pending := job.New("https://a.example", job.FormatPDF)
	store.Add(ctx, pending)

	n, err := o.Requeue(ctx)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 || len(q.messages) != 1 || q.messages[0].JobID != pending.ID {
		t.Errorf("expected %s requeued, got %d %+v", pending.ID, n, q.messages)
	}
}

func TestRequeue_WaitsForRoomInFullQueue(t *testing.T) {
	ctx := context.Background()
	docs, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	store := job.NewStore()
	q := queue.NewLocalQueue(1)
	o := New(store, q, docs)

	for _, u := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		store.Add(ctx, job.New(u, job.FormatPDF))
	}

	received := make(chan string, 3)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go q.Consume(consumeCtx, func(_ context.Context, m queue.Message) error {
		received <- m.JobID
		return nil
	})

	n, err := o.Requeue(ctx)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 requeued, got %d", n)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d messages delivered", i)
		}
	}
}

func TestRequeue_CancelledWhileFull(t *testing.T) {
	docs, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	store := job.NewStore()
	o := New(store, queue.NewLocalQueue(1), docs)
	store.Add(context.Background(), job.New("https://a.example", job.FormatPDF))
	store.Add(context.Background(), job.New("https://b.example", job.FormatPDF))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := o.Requeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
