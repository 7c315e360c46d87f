package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// maxBodyBytes caps how much of a listing page is read. Auction listing
// pages rarely exceed 1 MiB of HTML.
const maxBodyBytes = 2 * 1024 * 1024

// browserHeaders mimic a realistic desktop Chrome session. Several
// auctioneer sites serve different markup (or a block page) to clients
// without them.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language": "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	"Cache-Control":   "no-cache",
	"Sec-Fetch-Dest":  "document",
	"Sec-Fetch-Mode":  "navigate",
	"Sec-Fetch-Site":  "none",
}

// DirectFetcher is tier (a): a plain HTTP request with browser-like headers.
// Free and fast; fails with bot_challenge when the response looks like an
// anti-bot interstitial so the ladder can escalate.
type DirectFetcher struct {
	client *http.Client
}

// NewDirectFetcher creates a DirectFetcher with the given request timeout.
func NewDirectFetcher(timeout time.Duration) *DirectFetcher {
	return &DirectFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
	}
}

func (d *DirectFetcher) Name() string { return "direct_http" }
func (d *DirectFetcher) Tier() Tier   { return TierDirect }

// Fetch performs the request and classifies failures into the gateway's
// error taxonomy.
func (d *DirectFetcher) Fetch(ctx context.Context, url string, _ Hints) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindForbidden, URL: url, Tier: TierDirect, Err: err}
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classify(err), URL: url, Tier: TierDirect, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: classify(err), URL: url, Tier: TierDirect, Err: err}
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, &FetchError{
			Kind: KindBotChallenge, URL: url, Tier: TierDirect,
			Err: &blockError{blockType},
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, &rateLimitError{statusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, &FetchError{Kind: KindForbidden, URL: url, Tier: TierDirect}
	case resp.StatusCode >= 400:
		return nil, &FetchError{Kind: KindForbidden, URL: url, Tier: TierDirect,
			Err: &statusError{resp.StatusCode}}
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Body:       body,
		StatusCode: resp.StatusCode,
		Tier:       TierDirect,
		FinalURL:   finalURL,
	}, nil
}

type blockError struct{ blockType BlockType }

func (e *blockError) Error() string { return "blocked: " + string(e.blockType) }

type statusError struct{ statusCode int }

func (e *statusError) Error() string { return http.StatusText(e.statusCode) }
