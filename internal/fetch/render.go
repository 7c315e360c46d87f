package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/leilaodata/harvester/internal/resilience"
	"github.com/leilaodata/harvester/pkg/firecrawl"
)

// RenderFetcher is tier (b): a third-party rendering/anti-bot-bypass gateway.
// It costs credits per page, so the ladder only reaches it after the direct
// tier fails with an escalatable kind.
type RenderFetcher struct {
	client firecrawl.Client
	waitMS int
}

// retryableRenderError retries gateway-side hiccups. 429 is excluded: the
// host governor owns rate-limit pacing and must see it unretried.
func retryableRenderError(err error) bool {
	var apiErr *firecrawl.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode != http.StatusTooManyRequests &&
			resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

func renderRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     15 * time.Second,
		ShouldRetry:    retryableRenderError,
		OnRetry:        resilience.RetryLogger("firecrawl", "scrape"),
	}
}

// NewRenderFetcher wraps a Firecrawl client as a Fetcher.
func NewRenderFetcher(client firecrawl.Client, waitMS int) *RenderFetcher {
	if waitMS <= 0 {
		waitMS = 3000
	}
	return &RenderFetcher{client: client, waitMS: waitMS}
}

func (r *RenderFetcher) Name() string { return "render_gateway" }
func (r *RenderFetcher) Tier() Tier   { return TierGateway }

// Fetch renders the page server-side and returns its raw HTML.
func (r *RenderFetcher) Fetch(ctx context.Context, url string, _ Hints) (*Result, error) {
	resp, err := resilience.DoVal(ctx, renderRetry(), func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		return r.client.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:     url,
			Formats: []string{"rawHtml"},
			WaitFor: r.waitMS,
		})
	})
	if err != nil {
		var apiErr *firecrawl.APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests {
				return nil, &rateLimitError{statusCode: apiErr.StatusCode}
			}
			return nil, &FetchError{Kind: KindForbidden, URL: url, Tier: TierGateway, Err: err}
		}
		return nil, &FetchError{Kind: classify(err), URL: url, Tier: TierGateway, Err: err}
	}
	if !resp.Success || resp.Data.RawHTML == "" {
		return nil, &FetchError{Kind: KindBotChallenge, URL: url, Tier: TierGateway,
			Err: errors.New("gateway returned no content")}
	}

	status := resp.Data.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	finalURL := resp.Data.URL
	if finalURL == "" {
		finalURL = url
	}

	return &Result{
		Body:       []byte(resp.Data.RawHTML),
		StatusCode: status,
		Tier:       TierGateway,
		FinalURL:   finalURL,
	}, nil
}
