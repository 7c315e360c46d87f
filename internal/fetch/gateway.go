package fetch

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxRateLimitRetries bounds same-tier retries after 429/503 responses
// within a single Fetch call. Rate limiting never changes tier.
const maxRateLimitRetries = 3

// GatewayConfig tunes the escalation ladder and host pacing.
type GatewayConfig struct {
	DirectTimeout   time.Duration
	GatewayTimeout  time.Duration
	HeadlessTimeout time.Duration

	HostBaseDelay time.Duration
	HostMaxDelay  time.Duration
	BackoffFactor float64
}

// DefaultGatewayConfig returns the production ladder settings: timeouts
// increase tier to tier, hosts get a 2s floor between requests.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		DirectTimeout:   15 * time.Second,
		GatewayTimeout:  60 * time.Second,
		HeadlessTimeout: 120 * time.Second,
		HostBaseDelay:   2 * time.Second,
		HostMaxDelay:    5 * time.Minute,
		BackoffFactor:   2.0,
	}
}

// Gateway runs the escalation ladder over the registered fetchers. A host
// sticks to the cheapest tier that last succeeded for it, so expensive
// tiers are only paid for hosts that actually need them.
type Gateway struct {
	cfg      GatewayConfig
	fetchers map[Tier]Fetcher
	maxTier  Tier
	governor *hostGovernor

	mu     sync.Mutex
	sticky map[string]Tier
}

// NewGateway builds a Gateway from the available fetchers. Missing tiers
// shorten the ladder (e.g. no headless binary in a test environment).
func NewGateway(cfg GatewayConfig, fetchers ...Fetcher) *Gateway {
	byTier := make(map[Tier]Fetcher, len(fetchers))
	maxTier := TierDirect
	for _, f := range fetchers {
		byTier[f.Tier()] = f
		if f.Tier() > maxTier {
			maxTier = f.Tier()
		}
	}
	return &Gateway{
		cfg:      cfg,
		fetchers: byTier,
		maxTier:  maxTier,
		governor: newHostGovernor(cfg.HostBaseDelay, cfg.BackoffFactor, cfg.HostMaxDelay),
		sticky:   make(map[string]Tier),
	}
}

// Fetch runs the ladder for one URL. It returns a *FetchError only after
// every applicable tier is exhausted.
func (g *Gateway) Fetch(ctx context.Context, rawURL string, hints Hints) (*Result, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}

	state := attemptState{tier: g.startTier(host, hints)}
	rateLimitHits := 0
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fetcher, ok := g.fetchers[state.tier]
		if !ok {
			// Tier not wired; behave as if it failed with the last kind.
			if state.tier < g.maxTier {
				state.tier++
				continue
			}
			return nil, g.surface(rawURL, state, lastErr)
		}

		if err := g.governor.Wait(ctx, host); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout(state.tier))
		result, err := fetcher.Fetch(attemptCtx, rawURL, hints)
		cancel()

		if err == nil {
			g.governor.Reward(host)
			g.setSticky(host, state.tier)
			return result, nil
		}
		lastErr = err

		var rl *rateLimitError
		if errors.As(err, &rl) {
			g.governor.Penalize(host)
			rateLimitHits++
			if rateLimitHits > maxRateLimitRetries {
				// Host stayed rate-limited through every retry; surface as
				// a timeout rather than escalating a tier that cannot help.
				return nil, &FetchError{Kind: KindTimeout, URL: rawURL, Tier: state.tier, Err: err}
			}
			continue
		}

		kind := kindOf(err)
		var dec decision
		state, dec = state.next(kind, g.maxTier)

		switch dec {
		case decideRetry:
			zap.L().Debug("fetch: retrying tier",
				zap.String("url", rawURL),
				zap.Stringer("tier", state.tier),
				zap.String("kind", string(kind)),
			)
		case decideEscalate:
			zap.L().Info("fetch: escalating tier",
				zap.String("url", rawURL),
				zap.Stringer("tier", state.tier),
				zap.String("kind", string(kind)),
			)
		case decideFail:
			return nil, g.surface(rawURL, state, lastErr)
		}
	}
}

// startTier resolves the first tier to try for a host.
func (g *Gateway) startTier(host string, hints Hints) Tier {
	g.mu.Lock()
	tier, ok := g.sticky[host]
	g.mu.Unlock()
	if !ok {
		tier = TierDirect
	}
	// A config that already knows the site needs JS skips straight past the
	// direct tier; it cannot succeed there.
	if hints.RequiresJS && tier < TierGateway && g.maxTier >= TierGateway {
		tier = TierGateway
	}
	return tier
}

func (g *Gateway) setSticky(host string, tier Tier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.sticky[host]; ok && prev == tier {
		return
	}
	g.sticky[host] = tier
}

func (g *Gateway) timeout(tier Tier) time.Duration {
	switch tier {
	case TierGateway:
		return g.cfg.GatewayTimeout
	case TierHeadless:
		return g.cfg.HeadlessTimeout
	default:
		return g.cfg.DirectTimeout
	}
}

// surface guarantees the caller sees a typed *FetchError.
func (g *Gateway) surface(rawURL string, state attemptState, lastErr error) error {
	var fe *FetchError
	if errors.As(lastErr, &fe) {
		return fe
	}
	kind := state.lastKind
	if kind == "" {
		kind = KindTimeout
	}
	return &FetchError{Kind: kind, URL: rawURL, Tier: state.tier, Err: lastErr}
}

// HostDelay reports the current pacing delay for a host.
func (g *Gateway) HostDelay(host string) time.Duration {
	return g.governor.Delay(host)
}

func kindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return classify(err)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", eris.Errorf("fetch: url has no host: %s", rawURL)
	}
	return u.Hostname(), nil
}
