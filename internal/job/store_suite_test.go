package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testJobStore runs the behaviour every JobStore implementation must share.
func testJobStore(t *testing.T, newStore func(t *testing.T) JobStore) {
	ctx := context.Background()

	t.Run("AddAndGet", func(t *testing.T) {
		store := newStore(t)
		j := New("https://example.com", FormatPDF)

		if err := store.Add(ctx, j); err != nil {
			t.Fatalf("add job: %v", err)
		}
		got, err := store.Get(ctx, j.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.ID != j.ID || got.URL != j.URL || got.Format != j.Format {
			t.Errorf("expected %+v, got %+v", j, got)
		}
		if got.Status != StatusPending {
			t.Errorf("expected pending, got %s", got.Status)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Get(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		store := newStore(t)
		j := New("https://example.com", FormatDOCX)
		store.Add(ctx, j)

		got, err := store.Update(ctx, j.ID, func(j *Job) error { return j.Start() })
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Status != StatusProcessing || got.Progress != ProgressStarted {
			t.Errorf("expected processing/10, got %s/%d", got.Status, got.Progress)
		}

		at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
		store.Update(ctx, j.ID, func(j *Job) error {
			return j.Complete(Output{Filename: "Example.docx", FileSize: 10, Pages: 2}, at)
		})
		stored, _ := store.Get(ctx, j.ID)
		if stored.Status != StatusCompleted || stored.Pages != 2 || stored.Filename != "Example.docx" {
			t.Errorf("unexpected stored job: %+v", stored)
		}
		if stored.CompletedAt == nil || !stored.CompletedAt.Equal(at) {
			t.Errorf("expected completedAt %v, got %v", at, stored.CompletedAt)
		}
	})

	t.Run("UpdateRejected", func(t *testing.T) {
		store := newStore(t)
		j := New("https://example.com", FormatPDF)
		store.Add(ctx, j)
		store.Update(ctx, j.ID, func(j *Job) error { return j.Fail("boom", time.Now()) })

		_, err := store.Update(ctx, j.ID, func(j *Job) error { return j.Start() })
		if !errors.Is(err, ErrTerminal) {
			t.Errorf("expected ErrTerminal, got %v", err)
		}
		got, _ := store.Get(ctx, j.ID)
		if got.Status != StatusFailed || got.Error != "boom" {
			t.Errorf("terminal job changed: %+v", got)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Update(ctx, "nonexistent", func(j *Job) error { return nil })
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		store := newStore(t)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		var ids []string
		for i := 0; i < 3; i++ {
			j := New("https://example.com", FormatPDF)
			j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			store.Add(ctx, j)
			ids = append(ids, j.ID)
		}

		jobs, total, err := store.List(ctx, Filter{Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 3 {
			t.Errorf("expected 3 total, got %d", total)
		}
		if len(jobs) != 2 {
			t.Fatalf("expected 2 jobs, got %d", len(jobs))
		}
		if jobs[0].ID != ids[2] || jobs[1].ID != ids[1] {
			t.Errorf("expected newest first, got %s, %s", jobs[0].ID, jobs[1].ID)
		}

		rest, _, _ := store.List(ctx, Filter{Limit: 2, Offset: 2})
		if len(rest) != 1 || rest[0].ID != ids[0] {
			t.Errorf("unexpected second page: %v", rest)
		}
	})

	t.Run("ListByStatus", func(t *testing.T) {
		store := newStore(t)
		a := New("https://a.example", FormatPDF)
		b := New("https://b.example", FormatPDF)
		store.Add(ctx, a)
		store.Add(ctx, b)
		store.Update(ctx, b.ID, func(j *Job) error { return j.Fail("x", time.Now()) })

		jobs, total, _ := store.List(ctx, Filter{Status: StatusFailed})
		if total != 1 || len(jobs) != 1 || jobs[0].ID != b.ID {
			t.Errorf("expected only %s, got %v", b.ID, jobs)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		j := New("https://example.com", FormatPDF)
		store.Add(ctx, j)

		if err := store.Delete(ctx, j.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := store.Get(ctx, j.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := store.Delete(ctx, j.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		_, total, _ := store.List(ctx, Filter{})
		if total != 0 {
			t.Errorf("expected empty list, got %d", total)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		store := newStore(t)
		a := New("https://a.example", FormatPDF)
		b := New("https://b.example", FormatPDF)
		c := New("https://c.example", FormatPDF)
		store.Add(ctx, a)
		store.Add(ctx, b)
		store.Add(ctx, c)
		store.Update(ctx, b.ID, func(j *Job) error { return j.Start() })
		store.Update(ctx, c.ID, func(j *Job) error { return j.Fail("x", time.Now()) })

		st, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		want := Stats{Pending: 1, Processing: 1, Failed: 1}
		if st != want {
			t.Errorf("expected %+v, got %+v", want, st)
		}
	})
}
