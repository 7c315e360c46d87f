// Package headless drives a Chrome session with automation fingerprints
// suppressed. It is the most expensive fetch tier and the interaction
// backend for load_more pagination.
package headless

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options configures the browser session.
type Options struct {
	UserAgent string
	Locale    string
	Timezone  string
	ExecPath  string // optional explicit Chrome binary

	// ChallengeWait is how long to keep polling for an anti-bot challenge
	// to clear before giving up on the page.
	ChallengeWait time.Duration
}

// DefaultOptions returns a realistic pt-BR desktop profile.
func DefaultOptions() Options {
	return Options{
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
		Locale:        "pt-BR",
		Timezone:      "America/Sao_Paulo",
		ChallengeWait: 20 * time.Second,
	}
}

// Session owns a shared Chrome allocator. Each Load/Open gets its own tab.
type Session struct {
	opts        Options
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewSession starts a Chrome allocator with fingerprint-suppressing flags.
func NewSession(opts Options) *Session {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(opts.UserAgent),
		chromedp.Flag("lang", opts.Locale),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("headless", "new"),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	env := "TZ=" + opts.Timezone
	allocOpts = append(allocOpts, chromedp.Env(env))

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return &Session{opts: opts, allocCtx: allocCtx, allocCancel: cancel}
}

// Close shuts the allocator down.
func (s *Session) Close() {
	s.allocCancel()
}

// PageRequest describes a single page load.
type PageRequest struct {
	URL            string
	ScrollToBottom bool
	WaitSelector   string
}

// PageResult is a rendered page.
type PageResult struct {
	HTML     string
	FinalURL string
}

// Load navigates to a URL, waits out any anti-bot challenge, optionally
// scrolls to trigger lazy-loaded cards, and returns the rendered HTML.
func (s *Session) Load(ctx context.Context, req PageRequest) (*PageResult, error) {
	tabCtx, cancel := chromedp.NewContext(s.allocCtx)
	defer cancel()

	tabCtx = withParentDeadline(ctx, tabCtx)

	actions := []chromedp.Action{
		suppressWebdriver(),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.waitChallenge(),
	}
	if req.WaitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(req.WaitSelector, chromedp.ByQuery))
	}
	if req.ScrollToBottom {
		actions = append(actions, scrollToBottom())
	}

	var html, finalURL string
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, eris.Wrapf(err, "headless: load %s", req.URL)
	}
	return &PageResult{HTML: html, FinalURL: finalURL}, nil
}

// Tab is an open browser tab used for interactive pagination.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Open navigates a fresh tab to a URL and keeps it open for interaction.
func (s *Session) Open(ctx context.Context, url string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(s.allocCtx)
	tabCtx = withParentDeadline(ctx, tabCtx)

	err := chromedp.Run(tabCtx,
		suppressWebdriver(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.waitChallenge(),
	)
	if err != nil {
		cancel()
		return nil, eris.Wrapf(err, "headless: open %s", url)
	}
	return &Tab{ctx: tabCtx, cancel: cancel}, nil
}

// Close releases the tab.
func (t *Tab) Close() { t.cancel() }

// TriggerVisible reports whether the selector matches a visible element.
func (t *Tab) TriggerVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := chromedp.Run(withParentDeadline(ctx, t.ctx),
		chromedp.Evaluate(visibleExpr(selector), &visible),
	)
	if err != nil {
		return false, eris.Wrapf(err, "headless: check trigger %s", selector)
	}
	return visible, nil
}

// Click clicks the selector and lets newly loaded cards settle.
func (t *Tab) Click(ctx context.Context, selector string) error {
	err := chromedp.Run(withParentDeadline(ctx, t.ctx),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(1500*time.Millisecond),
	)
	return eris.Wrapf(err, "headless: click %s", selector)
}

// HTML returns the tab's current rendered HTML.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(withParentDeadline(ctx, t.ctx),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", eris.Wrap(err, "headless: outer html")
	}
	return html, nil
}

// suppressWebdriver hides the navigator.webdriver flag before any page
// script runs.
func suppressWebdriver() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(
			`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`,
		).Do(ctx)
		return err
	})
}

// waitChallenge polls until known challenge markers leave the page title,
// up to the configured wait.
func (s *Session) waitChallenge() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(s.opts.ChallengeWait)
		for {
			var title string
			if err := chromedp.Title(&title).Do(ctx); err != nil {
				return err
			}
			lower := strings.ToLower(title)
			if !strings.Contains(lower, "just a moment") &&
				!strings.Contains(lower, "attention required") &&
				!strings.Contains(lower, "um momento") {
				return nil
			}
			if time.Now().After(deadline) {
				zap.L().Warn("headless: challenge did not clear", zap.String("title", title))
				return eris.New("headless: anti-bot challenge did not resolve")
			}
			if err := chromedp.Sleep(time.Second).Do(ctx); err != nil {
				return err
			}
		}
	})
}

// scrollToBottom scrolls in steps so lazy-loaded listing cards render.
func scrollToBottom() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 0; i < 8; i++ {
			err := chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); null;`, nil).Do(ctx)
			if err != nil {
				return err
			}
			if err := chromedp.Sleep(500 * time.Millisecond).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func visibleExpr(selector string) string {
	return `(() => {
		const el = document.querySelector(` + jsString(selector) + `);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})()`
}

func jsString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)
	return "'" + r.Replace(s) + "'"
}

// withParentDeadline propagates ctx's deadline and cancellation onto a
// chromedp tab context.
func withParentDeadline(parent, tab context.Context) context.Context {
	if parent == nil {
		return tab
	}
	var merged context.Context
	var cancel context.CancelFunc
	if dl, ok := parent.Deadline(); ok {
		merged, cancel = context.WithDeadline(tab, dl)
	} else {
		merged, cancel = context.WithCancel(tab)
	}
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}
