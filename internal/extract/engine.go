// Package extract drives pagination over a source's filter URLs and yields
// raw listing records according to its ScrapeConfig.
package extract

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leilaodata/harvester/internal/fetch"
	"github.com/leilaodata/harvester/internal/model"
)

// PageFetcher is the slice of the fetch gateway the engine needs.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, hints fetch.Hints) (*fetch.Result, error)
}

// BrowserTab is one open page used for load_more pagination. The engine
// owns the click loop so the stop conditions are testable without Chrome.
type BrowserTab interface {
	TriggerVisible(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	Close()
}

// Browser opens interactive tabs.
type Browser interface {
	Open(ctx context.Context, url string) (BrowserTab, error)
}

// Engine extracts raw records from one source per its config. A run is not
// restartable mid-sequence: every call starts from page 1.
type Engine struct {
	gateway PageFetcher
	browser Browser // nil disables load_more pagination
	now     func() time.Time
}

// NewEngine creates an Engine. browser may be nil when no headless backend
// is available; load_more sources then fail with pagination_stuck.
func NewEngine(gateway PageFetcher, browser Browser) *Engine {
	return &Engine{gateway: gateway, browser: browser, now: time.Now}
}

// WithClock overrides the extraction timestamp clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Extract walks every filter URL (validated ones first) and returns the raw
// records in page-visit order. When a page fails mid-pagination the records
// collected so far are returned alongside a *ExtractionError: partial
// results are never discarded.
func (e *Engine) Extract(ctx context.Context, source *model.Source, cfg *model.ScrapeConfig) ([]model.RawRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("source", source.Name))
	seen := make(map[string]bool) // canonical URLs yielded this run
	var records []model.RawRecord

	targets := cfg.OrderedFilters()
	if len(targets) == 0 {
		targets = []model.PropertyFilter{{Name: "fallback", URL: cfg.FallbackURL}}
	}

	for _, filter := range targets {
		var (
			filterRecords []model.RawRecord
			err           error
		)

		switch cfg.Pagination.Type {
		case model.PaginationQueryParam:
			filterRecords, err = e.paginateQueryParam(ctx, source, cfg, filter.URL, seen)
		case model.PaginationLoadMore:
			filterRecords, err = e.paginateLoadMore(ctx, source, cfg, filter.URL, seen)
		case model.PaginationCursor:
			filterRecords, err = e.paginateCursor(ctx, source, cfg, filter.URL, seen)
		default: // none
			filterRecords, err = e.singlePage(ctx, source, cfg, filter.URL, seen)
		}

		records = append(records, filterRecords...)
		if err != nil {
			// Partial results accompany the error; the orchestrator persists
			// them before recording the failure.
			return records, err
		}

		log.Debug("extract: filter done",
			zap.String("filter", filter.Name),
			zap.Int("records", len(filterRecords)),
		)
	}

	return records, nil
}

// fetchAndParse fetches one page and parses it. A zero-container page on a
// successful fetch means the configured selectors no longer match.
func (e *Engine) fetchAndParse(ctx context.Context, cfg *model.ScrapeConfig, sourceID, pageURL string, page int) (*pageRecords, error) {
	result, err := e.gateway.Fetch(ctx, pageURL, fetch.Hints{
		RequiresJS:     cfg.RequiresJS,
		ScrollToBottom: cfg.RequiresJS,
	})
	if err != nil {
		return nil, &ExtractionError{Kind: KindPaginationStuck, URL: pageURL, Page: page, Err: err}
	}

	parsed, err := parseListingPage(result.Body, cfg, sourceID, result.FinalURL, e.now())
	if err != nil {
		return nil, &ExtractionError{Kind: KindSelectorMismatch, URL: pageURL, Page: page, Err: err}
	}
	return parsed, nil
}

// paginateQueryParam visits pages in strictly increasing order, stopping at
// the first page that yields zero new canonical links or after max pages.
func (e *Engine) paginateQueryParam(ctx context.Context, source *model.Source, cfg *model.ScrapeConfig, filterURL string, seen map[string]bool) ([]model.RawRecord, error) {
	var records []model.RawRecord

	for i := 0; i < cfg.Pagination.Max; i++ {
		if ctx.Err() != nil {
			return records, &ExtractionError{Kind: KindPaginationStuck, URL: filterURL, Page: cfg.Pagination.Start + i, Err: ctx.Err()}
		}

		page := cfg.Pagination.Start + i
		pageURL, err := withQueryParam(filterURL, cfg.Pagination.Param, strconv.Itoa(page))
		if err != nil {
			return records, &ExtractionError{Kind: KindPaginationStuck, URL: filterURL, Page: page, Err: err}
		}

		parsed, err := e.fetchAndParse(ctx, cfg, source.ID, pageURL, page)
		if err != nil {
			return records, err
		}

		// First page matching nothing at all means drifted selectors, not
		// the natural end of pagination.
		if parsed.containers == 0 && i == 0 {
			return records, &ExtractionError{Kind: KindSelectorMismatch, URL: pageURL, Page: page}
		}

		fresh := appendNew(&records, parsed.records, seen)
		if fresh == 0 {
			break
		}
	}

	return records, nil
}

// paginateLoadMore opens the page in a browser tab and clicks the trigger up
// to max_clicks times, stopping early when the trigger disappears.
func (e *Engine) paginateLoadMore(ctx context.Context, source *model.Source, cfg *model.ScrapeConfig, filterURL string, seen map[string]bool) ([]model.RawRecord, error) {
	if e.browser == nil {
		return nil, &ExtractionError{Kind: KindPaginationStuck, URL: filterURL,
			Err: errNoBrowser}
	}

	tab, err := e.browser.Open(ctx, filterURL)
	if err != nil {
		return nil, &ExtractionError{Kind: KindPaginationStuck, URL: filterURL, Err: err}
	}
	defer tab.Close()

	selector := cfg.Pagination.Selector
	clicks := 0
	for clicks < cfg.Pagination.MaxClicks {
		visible, err := tab.TriggerVisible(ctx, selector)
		if err != nil {
			break // harvest whatever already rendered
		}
		if !visible {
			break
		}
		if err := tab.Click(ctx, selector); err != nil {
			break
		}
		clicks++
	}

	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, &ExtractionError{Kind: KindPaginationStuck, URL: filterURL, Err: err}
	}

	parsed, err := parseListingPage([]byte(html), cfg, source.ID, filterURL, e.now())
	if err != nil {
		return nil, &ExtractionError{Kind: KindSelectorMismatch, URL: filterURL, Err: err}
	}
	if parsed.containers == 0 {
		return nil, &ExtractionError{Kind: KindSelectorMismatch, URL: filterURL}
	}

	var records []model.RawRecord
	appendNew(&records, parsed.records, seen)

	zap.L().Debug("extract: load_more finished",
		zap.String("url", filterURL),
		zap.Int("clicks", clicks),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// singlePage handles pagination type none.
func (e *Engine) singlePage(ctx context.Context, source *model.Source, cfg *model.ScrapeConfig, filterURL string, seen map[string]bool) ([]model.RawRecord, error) {
	parsed, err := e.fetchAndParse(ctx, cfg, source.ID, filterURL, 1)
	if err != nil {
		return nil, err
	}
	if parsed.containers == 0 {
		return nil, &ExtractionError{Kind: KindSelectorMismatch, URL: filterURL, Page: 1}
	}

	var records []model.RawRecord
	appendNew(&records, parsed.records, seen)
	return records, nil
}

// appendNew appends records whose canonical URL has not been yielded this
// run and returns how many were new.
func appendNew(dst *[]model.RawRecord, src []model.RawRecord, seen map[string]bool) int {
	fresh := 0
	for _, rec := range src {
		if seen[rec.URL] {
			continue
		}
		seen[rec.URL] = true
		*dst = append(*dst, rec)
		fresh++
	}
	return fresh
}

func withQueryParam(rawURL, param, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
