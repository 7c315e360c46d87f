package fetch

import (
	"context"
	"net/http"

	"github.com/leilaodata/harvester/pkg/headless"
)

// PageLoader is the slice of the headless session the fetcher needs.
type PageLoader interface {
	Load(ctx context.Context, req headless.PageRequest) (*headless.PageResult, error)
}

// HeadlessFetcher is tier (c): a real browser session with automation
// fingerprints suppressed. Slowest and most expensive; last rung of the
// ladder.
type HeadlessFetcher struct {
	session PageLoader
}

// NewHeadlessFetcher wraps a headless session as a Fetcher.
func NewHeadlessFetcher(session PageLoader) *HeadlessFetcher {
	return &HeadlessFetcher{session: session}
}

func (h *HeadlessFetcher) Name() string { return "headless_browser" }
func (h *HeadlessFetcher) Tier() Tier   { return TierHeadless }

// Fetch renders the page in the browser, scrolling to flush lazy-loaded
// listing cards when the hints ask for it.
func (h *HeadlessFetcher) Fetch(ctx context.Context, url string, hints Hints) (*Result, error) {
	page, err := h.session.Load(ctx, headless.PageRequest{
		URL:            url,
		ScrollToBottom: hints.ScrollToBottom || hints.RequiresJS,
		WaitSelector:   hints.WaitSelector,
	})
	if err != nil {
		return nil, &FetchError{Kind: classify(err), URL: url, Tier: TierHeadless, Err: err}
	}
	return &Result{
		Body:       []byte(page.HTML),
		StatusCode: http.StatusOK,
		Tier:       TierHeadless,
		FinalURL:   page.FinalURL,
	}, nil
}
