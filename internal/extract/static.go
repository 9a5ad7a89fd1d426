package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBodyBytes bounds how much of a response StaticExtractor reads.
const maxBodyBytes = 10 << 20

// StaticExtractor fetches a page over plain HTTP and parses the markup
// without running scripts. It is used where no browser is installed.
type StaticExtractor struct {
	HTTPClient *http.Client
	UserAgent  string
	Timeout    time.Duration
	MaxChars   int
	// RedirectMaxHops caps redirect following. Zero means 5.
	RedirectMaxHops int
}

func NewStaticExtractor() *StaticExtractor {
	return &StaticExtractor{
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
		MaxChars:  DefaultMaxChars,
	}
}

func (e *StaticExtractor) Extract(ctx context.Context, rawURL string) (Result, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(rawURL)
	if err != nil || !isHTTPScheme(u) {
		return Result{}, &Error{Reason: ReasonNavigation, URL: rawURL, Err: fmt.Errorf("unsupported URL: %q", rawURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, &Error{Reason: ReasonNavigation, URL: rawURL, Err: err}
	}
	ua := e.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := e.client().Do(req)
	if err != nil {
		return Result{}, classify(ctx, rawURL, ReasonNavigation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &Error{Reason: ReasonNavigation, URL: rawURL, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, classify(ctx, rawURL, ReasonNavigation, fmt.Errorf("read body: %w", err))
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "html") && strings.HasPrefix(ct, "text/") {
		return Finalize("", string(body), e.MaxChars), nil
	}
	title, text := FromHTML(body)
	return Finalize(title, text, e.MaxChars), nil
}

func (e *StaticExtractor) client() *http.Client {
	hops := e.RedirectMaxHops
	if hops <= 0 {
		hops = 5
	}
	var base http.Client
	if e.HTTPClient != nil {
		base = *e.HTTPClient
	}
	base.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= hops {
			return fmt.Errorf("too many redirects")
		}
		if !isHTTPScheme(req.URL) {
			return fmt.Errorf("redirect to unsupported scheme")
		}
		return nil
	}
	return &base
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
