// Package extract loads a web page and returns its title and visible text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultTitle    = "Untitled"
	NoContent       = "No content found"
	DefaultMaxChars = 5000
	DefaultTimeout  = 30 * time.Second

	// DefaultUserAgent is a desktop Chrome user agent; some sites serve
	// reduced markup to unknown clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Result is the extracted content of one page.
type Result struct {
	Title string
	Text  string
}

// Extractor fetches a URL and returns its content. Implementations must not
// leave processes or temporary files behind, whatever the outcome.
type Extractor interface {
	Extract(ctx context.Context, url string) (Result, error)
}

type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonNavigation Reason = "navigation"
	ReasonEvaluation Reason = "evaluation"
	ReasonLaunch     Reason = "launch"
)

// ErrTimeout matches any *Error whose reason is ReasonTimeout.
var ErrTimeout = errors.New("navigation timeout")

// Error is returned for every failed extraction.
type Error struct {
	Reason Reason
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("extract %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrTimeout && e.Reason == ReasonTimeout
}

// Finalize applies the defaults shared by all extractors: an empty title
// becomes DefaultTitle, empty text becomes NoContent and the text is cut to
// maxChars runes. maxChars <= 0 means DefaultMaxChars.
func Finalize(title, text string, maxChars int) Result {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if strings.TrimSpace(text) == "" {
		text = NoContent
	}
	return Result{Title: title, Text: Truncate(text, maxChars)}
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// classify maps a context/transport failure to an extraction error.
func classify(ctx context.Context, url string, fallback Reason, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Reason: ReasonTimeout, URL: url, Err: err}
	}
	return &Error{Reason: fallback, URL: url, Err: err}
}
