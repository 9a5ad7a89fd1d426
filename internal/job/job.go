package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts the wire names of the supported output formats.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatDOCX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", s)
	}
}

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType is the MIME type served for documents of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/pdf"
	}
}

// Progress checkpoints of the pipeline.
const (
	ProgressCreated   = 0
	ProgressStarted   = 10
	ProgressExtracted = 60
	ProgressDone      = 100
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid job transition")
)

type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Format      Format     `json:"format"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Title       string     `json:"title,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	FileSize    int64      `json:"fileSize,omitempty"`
	Pages       int        `json:"pages,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Output is the rendering metadata recorded on completion.
type Output struct {
	Filename string
	FileSize int64
	Pages    int
}

func New(url string, format Format) *Job {
	return &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Format:    format,
		Status:    StatusPending,
		Progress:  ProgressCreated,
		CreatedAt: time.Now().UTC(),
	}
}

// Start moves a pending job to processing.
func (j *Job) Start() error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if j.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusProcessing)
	}
	j.Status = StatusProcessing
	j.advance(ProgressStarted)
	return nil
}

// Extracted records the page title once extraction has finished.
func (j *Job) Extracted(title string) error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: extracted while %s", ErrInvalidTransition, j.Status)
	}
	j.Title = title
	j.advance(ProgressExtracted)
	return nil
}

// Complete finalizes a processing job with its output metadata.
func (j *Job) Complete(out Output, at time.Time) error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusCompleted)
	}
	if out.Filename == "" || out.FileSize <= 0 || out.Pages <= 0 {
		return fmt.Errorf("%w: incomplete output metadata", ErrInvalidTransition)
	}
	j.Status = StatusCompleted
	j.Filename = out.Filename
	j.FileSize = out.FileSize
	j.Pages = out.Pages
	j.advance(ProgressDone)
	j.finish(at)
	return nil
}

// Fail terminates a pending or processing job. Progress is left where it was.
func (j *Job) Fail(reason string, at time.Time) error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unknown error"
	}
	j.Status = StatusFailed
	j.Error = reason
	j.finish(at)
	return nil
}

func (j *Job) advance(p int) {
	if p > j.Progress {
		j.Progress = p
	}
}

func (j *Job) finish(at time.Time) {
	if j.CompletedAt != nil {
		return
	}
	at = at.UTC()
	j.CompletedAt = &at
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
