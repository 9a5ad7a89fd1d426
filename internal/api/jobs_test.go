package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/webdoc/webdoc/internal/config"
	"github.com/webdoc/webdoc/internal/extract"
	"github.com/webdoc/webdoc/internal/job"
	"github.com/webdoc/webdoc/internal/orchestrator"
	"github.com/webdoc/webdoc/internal/queue"
	"github.com/webdoc/webdoc/internal/storage"
	"github.com/webdoc/webdoc/internal/worker"
	"github.com/webdoc/webdoc/internal/ws"
)

// newPipelineServer runs the whole service in-process: API, local queue,
// one worker and the static extractor.
func newPipelineServer(t *testing.T, extractTimeout time.Duration) *httptest.Server {
	t.Helper()
	docs, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	hub := ws.NewHub()
	store := job.NewObservedStore(job.NewStore(), hub.Publish)
	q := queue.NewLocalQueue(16)

	ex := extract.NewStaticExtractor()
	ex.Timeout = extractTimeout

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := worker.New(q, store, ex, docs)
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	orch := orchestrator.New(store, q, docs)
	srv := httptest.NewServer(NewRouter(config.Default(), orch, ws.NewServer(hub, store, nil)))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func submit(t *testing.T, srv *httptest.Server, url, format string) job.Job {
	t.Helper()
	body := fmt.Sprintf(`{"url":%q,"format":%q}`, url, format)
	resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, b)
	}
	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if j.Status != job.StatusPending || j.Progress != 0 {
		t.Fatalf("expected pending job at 0, got %s at %d", j.Status, j.Progress)
	}
	return j
}

// poll checks the job until it is terminal and verifies progress never goes
// backwards between polls.
func poll(t *testing.T, srv *httptest.Server, id string, timeout time.Duration) job.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	last := -1
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/api/scrape/" + id)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		var j job.Job
		json.NewDecoder(resp.Body).Decode(&j)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("poll: expected 200, got %d", resp.StatusCode)
		}
		if j.Progress < last {
			t.Fatalf("progress went backwards: %d after %d", j.Progress, last)
		}
		last = j.Progress
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish within %v", id, timeout)
	return job.Job{}
}

func TestPipeline_CompletesAndDownloads(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><title>Hello, World! 2024</title></head>
<body><h1>Introduction</h1><p>Some body text for the document.</p></body></html>`)
	}))
	defer site.Close()

	srv := newPipelineServer(t, 5*time.Second)

	for _, format := range []string{"pdf", "docx"} {
		t.Run(format, func(t *testing.T) {
			j := submit(t, srv, site.URL, format)
			done := poll(t, srv, j.ID, 10*time.Second)

			if done.Status != job.StatusCompleted {
				t.Fatalf("expected completed, got %s: %s", done.Status, done.Error)
			}
			want := "Hello_World_2024." + format
			if done.Progress != 100 || done.Title != "Hello, World! 2024" || done.Filename != want {
				t.Errorf("unexpected completed job %+v", done)
			}
			if done.FileSize <= 0 || done.Pages != 1 || done.CompletedAt == nil {
				t.Errorf("missing output metadata %+v", done)
			}

			resp, err := http.Get(srv.URL + "/download/" + done.Filename)
			if err != nil {
				t.Fatalf("download: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if int64(len(body)) != done.FileSize {
				t.Errorf("expected %d bytes, got %d", done.FileSize, len(body))
			}
		})
	}
}

func TestPipeline_TimeoutFailsJob(t *testing.T) {
	release := make(chan struct{})
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer site.Close()
	defer close(release)

	srv := newPipelineServer(t, 200*time.Millisecond)

	j := submit(t, srv, site.URL, "pdf")
	done := poll(t, srv, j.ID, 10*time.Second)

	if done.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if !strings.Contains(strings.ToLower(done.Error), "timeout") {
		t.Errorf("expected timeout in error, got %q", done.Error)
	}
	if done.Filename != "" || done.CompletedAt == nil {
		t.Errorf("unexpected failed job %+v", done)
	}
}

func TestPipeline_UnknownJob(t *testing.T) {
	srv := newPipelineServer(t, time.Second)

	resp, err := http.Get(srv.URL + "/jobs/nonexistent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["message"] != "job not found" || body["status"] != nil {
		t.Errorf("unexpected body %v", body)
	}
}
