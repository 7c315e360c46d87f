package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// PaginationType enumerates the supported pagination strategies.
type PaginationType string

const (
	PaginationQueryParam PaginationType = "query_param"
	PaginationLoadMore   PaginationType = "load_more"
	PaginationCursor     PaginationType = "cursor"
	PaginationNone       PaginationType = "none"
)

// PropertyFilter is one category/filter listing URL discovered on a source.
// Validated filters showed property-like signals on a probe fetch; unvalidated
// ones are kept but tried after every validated filter.
type PropertyFilter struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Validated bool   `json:"validated"`
}

// Pagination describes how to walk a source's listing pages.
type Pagination struct {
	Type PaginationType `json:"type"`

	// Param is the query parameter for query_param pagination.
	Param string `json:"param,omitempty"`

	// Selector locates the load-more trigger for load_more pagination.
	Selector string `json:"selector,omitempty"`

	// CursorField names the next-cursor field for cursor pagination.
	CursorField string `json:"cursor_field,omitempty"`

	Start     int `json:"start,omitempty"`
	Max       int `json:"max,omitempty"`
	MaxClicks int `json:"max_clicks,omitempty"`
}

// Selectors holds the CSS selectors used to pull listings out of a page.
// These are data, validated on load, never interpreted as anything else.
type Selectors struct {
	ListingContainer string `json:"listing_container"`
	Link             string `json:"link"`
	Title            string `json:"title,omitempty"`
	Category         string `json:"category,omitempty"`
	Address          string `json:"address,omitempty"`
	EvaluationValue  string `json:"evaluation_value,omitempty"`
	FirstAuction     string `json:"first_auction,omitempty"`
	SecondAuction    string `json:"second_auction,omitempty"`
	Image            string `json:"image,omitempty"`
	NextPage         string `json:"next_page,omitempty"`
}

// ScrapeConfig is the versioned description of how to extract listings from
// one source. It is an immutable value object: discovery builds a new one
// with a fresh DiscoveredAt on every regeneration, and the extraction engine
// only ever reads it.
type ScrapeConfig struct {
	Version      int               `json:"version"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	SiteType     string            `json:"site_type"`
	Filters      []PropertyFilter  `json:"property_filters"`
	Pagination   Pagination        `json:"pagination"`
	Selectors    Selectors         `json:"selectors"`
	FallbackURL  string            `json:"fallback_url,omitempty"`
	RequiresJS   bool              `json:"requires_js"`
	Validation   ValidationMetrics `json:"validation"`
}

// Validate checks the config against the fixed schema. Invalid configs fail
// here rather than causing undefined extraction behavior downstream.
func (c *ScrapeConfig) Validate() error {
	if c.Version < 1 {
		return eris.New("scrape config: missing version")
	}
	if len(c.Filters) == 0 && c.FallbackURL == "" {
		return eris.New("scrape config: no property filters and no fallback url")
	}
	for i, f := range c.Filters {
		if f.URL == "" {
			return eris.Errorf("scrape config: filter %d has empty url", i)
		}
	}
	switch c.Pagination.Type {
	case PaginationQueryParam:
		if c.Pagination.Param == "" {
			return eris.New("scrape config: query_param pagination requires param")
		}
		if c.Pagination.Max <= 0 {
			return eris.New("scrape config: query_param pagination requires max > 0")
		}
	case PaginationLoadMore:
		if c.Pagination.Selector == "" {
			return eris.New("scrape config: load_more pagination requires selector")
		}
		if c.Pagination.MaxClicks <= 0 {
			return eris.New("scrape config: load_more pagination requires max_clicks > 0")
		}
	case PaginationCursor:
		if c.Pagination.CursorField == "" {
			return eris.New("scrape config: cursor pagination requires cursor_field")
		}
	case PaginationNone:
	default:
		return eris.Errorf("scrape config: unknown pagination type %q", c.Pagination.Type)
	}
	if c.Selectors.ListingContainer == "" {
		return eris.New("scrape config: missing listing container selector")
	}
	if c.Selectors.Link == "" {
		return eris.New("scrape config: missing link selector")
	}
	return nil
}

// Expired reports whether the config has passed its expiry horizon.
func (c *ScrapeConfig) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// OrderedFilters returns the filters with validated ones first, preserving
// relative order within each group.
func (c *ScrapeConfig) OrderedFilters() []PropertyFilter {
	ordered := make([]PropertyFilter, 0, len(c.Filters))
	for _, f := range c.Filters {
		if f.Validated {
			ordered = append(ordered, f)
		}
	}
	for _, f := range c.Filters {
		if !f.Validated {
			ordered = append(ordered, f)
		}
	}
	return ordered
}
