// Package discovery infers per-source extraction configurations and decides
// when they must be regenerated.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leilaodata/harvester/internal/fetch"
	"github.com/leilaodata/harvester/internal/model"
)

// ErrorKind classifies a discovery failure.
type ErrorKind string

const (
	KindUnreachable        ErrorKind = "unreachable"
	KindNoListingFound     ErrorKind = "no_listing_found"
	KindAmbiguousStructure ErrorKind = "ambiguous_structure"
)

// DiscoveryError is the typed failure for a discovery run. It sets
// discovery_status=failed on the source and never blocks other sources.
type DiscoveryError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("discover %s: %s", e.URL, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// PageFetcher is the slice of the fetch gateway discovery needs.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, hints fetch.Hints) (*fetch.Result, error)
}

// Service generates ScrapeConfigs. Each Discover call produces a new
// immutable config; nothing is ever mutated in place.
type Service struct {
	gateway    PageFetcher
	discoverer Discoverer
	horizon    time.Duration
	maxProbes  int
	now        func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithExpiryHorizon overrides the default 30-day config expiry.
func WithExpiryHorizon(d time.Duration) ServiceOption {
	return func(s *Service) { s.horizon = d }
}

// WithMaxFilterProbes caps how many filter URLs get a validation fetch.
func WithMaxFilterProbes(n int) ServiceOption {
	return func(s *Service) { s.maxProbes = n }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a discovery Service.
func NewService(gateway PageFetcher, discoverer Discoverer, opts ...ServiceOption) *Service {
	s := &Service{
		gateway:    gateway,
		discoverer: discoverer,
		horizon:    30 * 24 * time.Hour,
		maxProbes:  8,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover fetches the source's entry page, runs the heuristic pass plus one
// bounded inference call, validates each proposed filter with a lightweight
// probe, and returns a fresh ScrapeConfig with its structure hash set.
func (s *Service) Discover(ctx context.Context, source *model.Source) (*model.ScrapeConfig, error) {
	log := zap.L().With(zap.String("source", source.Name), zap.String("url", source.BaseURL))

	page, err := s.gateway.Fetch(ctx, source.BaseURL, fetch.Hints{})
	if err != nil {
		return nil, &DiscoveryError{Kind: KindUnreachable, URL: source.BaseURL, Err: err}
	}

	analysis, err := Analyze(page.FinalURL, page.Body)
	if err != nil {
		return nil, &DiscoveryError{Kind: KindAmbiguousStructure, URL: source.BaseURL, Err: err}
	}
	if len(analysis.Containers) == 0 && len(analysis.FilterLinks) == 0 {
		return nil, &DiscoveryError{Kind: KindNoListingFound, URL: source.BaseURL}
	}

	proposal, err := s.discoverer.Propose(ctx, ProposalInput{
		BaseURL:  source.BaseURL,
		HTML:     page.Body,
		Analysis: analysis,
	})
	if err != nil {
		return nil, &DiscoveryError{Kind: KindAmbiguousStructure, URL: source.BaseURL, Err: err}
	}

	now := s.now()
	version := 1
	if source.ScrapeConfig != nil {
		version = source.ScrapeConfig.Version + 1
	}

	cfg := &model.ScrapeConfig{
		Version:      version,
		DiscoveredAt: now,
		ExpiresAt:    now.Add(s.horizon),
		SiteType:     proposal.SiteType,
		Pagination:   proposal.Pagination,
		Selectors:    proposal.Selectors,
		FallbackURL:  proposal.FallbackURL,
		RequiresJS:   proposal.RequiresJS || analysis.RequiresJS,
		Validation: model.ValidationMetrics{
			StructureHash: StructureHash(page.Body),
		},
	}
	cfg.Filters = s.validateFilters(ctx, proposal.Filters, cfg.RequiresJS, log)

	if err := cfg.Validate(); err != nil {
		return nil, &DiscoveryError{Kind: KindAmbiguousStructure, URL: source.BaseURL, Err: err}
	}

	log.Info("discovery: config generated",
		zap.Int("version", cfg.Version),
		zap.Int("filters", len(cfg.Filters)),
		zap.String("pagination", string(cfg.Pagination.Type)),
		zap.Bool("requires_js", cfg.RequiresJS),
	)
	return cfg, nil
}

// validateFilters probes each proposed filter URL for property-like signals.
// Filters past the probe budget, and probes that fail, are kept unvalidated.
func (s *Service) validateFilters(ctx context.Context, proposed []ProposalFilter, requiresJS bool, log *zap.Logger) []model.PropertyFilter {
	filters := make([]model.PropertyFilter, 0, len(proposed))

	for i, pf := range proposed {
		f := model.PropertyFilter{Name: pf.Name, URL: pf.URL}

		if i < s.maxProbes {
			page, err := s.gateway.Fetch(ctx, pf.URL, fetch.Hints{RequiresJS: requiresJS})
			if err != nil {
				log.Debug("discovery: filter probe failed",
					zap.String("filter", pf.URL),
					zap.Error(err),
				)
			} else if sig := ProbeSignals(page.Body); sig.Valid() {
				f.Validated = true
			} else {
				log.Debug("discovery: filter lacks property signals",
					zap.String("filter", pf.URL),
					zap.Int("price_tokens", sig.PriceTokens),
					zap.Int("address_tokens", sig.AddressTokens),
					zap.Int("cards", sig.CardCount),
				)
			}
		}
		filters = append(filters, f)
	}
	return filters
}
