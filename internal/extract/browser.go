package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// Session is one isolated browser instance.
type Session interface {
	// Navigate loads url and blocks until the network is idle or ctx ends.
	Navigate(ctx context.Context, url, userAgent string) error
	// Evaluate reads the document title and body text of the loaded page.
	Evaluate(ctx context.Context) (title, text string, err error)
	// Close releases the browser process and its profile directory.
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// BrowserExtractor renders pages in a fresh headless browser per call.
type BrowserExtractor struct {
	Launcher  Launcher
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
}

func NewBrowserExtractor(l Launcher) *BrowserExtractor {
	return &BrowserExtractor{
		Launcher:  l,
		Timeout:   DefaultTimeout,
		MaxChars:  DefaultMaxChars,
		UserAgent: DefaultUserAgent,
	}
}

func (e *BrowserExtractor) Extract(ctx context.Context, url string) (res Result, err error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := e.Launcher.Launch(ctx)
	if err != nil {
		return Result{}, classify(ctx, url, ReasonLaunch, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("url", url).Msg("browser teardown failed")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = &Error{Reason: ReasonEvaluation, URL: url, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	ua := e.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	if err := sess.Navigate(ctx, url, ua); err != nil {
		return Result{}, classify(ctx, url, ReasonNavigation, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, classify(ctx, url, ReasonNavigation, err)
	}

	title, text, err := sess.Evaluate(ctx)
	if err != nil {
		return Result{}, classify(ctx, url, ReasonEvaluation, err)
	}
	return Finalize(title, text, e.MaxChars), nil
}

// idleWindow is how long the network must stay quiet before a page counts as loaded.
const idleWindow = 500 * time.Millisecond

const readPageJS = `() => {
	const body = document.body;
	let text = "";
	if (body) {
		text = body.innerText || body.textContent || "";
	}
	return { title: document.title || "", text: text };
}`

// RodLauncher starts headless Chrome through go-rod. Each launch gets its own
// temporary profile directory.
type RodLauncher struct {
	// Bin is the browser binary; empty lets go-rod find or download one.
	Bin string
}

func (l RodLauncher) Launch(ctx context.Context) (Session, error) {
	ln := launcher.New().Context(ctx).Headless(true).NoSandbox(true)
	if l.Bin != "" {
		ln = ln.Bin(l.Bin)
	}
	controlURL, err := ln.Launch()
	if err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &rodSession{launcher: ln, browser: browser}, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func (s *rodSession) Navigate(ctx context.Context, url, userAgent string) error {
	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	s.page = page
	p := page.Context(ctx)

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	wait := p.WaitRequestIdle(idleWindow, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (s *rodSession) Evaluate(ctx context.Context) (string, string, error) {
	if s.page == nil {
		return "", "", errors.New("no page loaded")
	}
	obj, err := s.page.Context(ctx).Eval(readPageJS)
	if err != nil {
		return "", "", err
	}
	var out struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	if err := obj.Value.Unmarshal(&out); err != nil {
		return "", "", fmt.Errorf("decode page content: %w", err)
	}
	return out.Title, out.Text, nil
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}
