// Package geocode defines the geocoding collaborator contract the pipeline
// consumes: a provider client plus a cache keyed by normalized query so the
// same address never pays for two external calls.
package geocode

import (
	"context"
	"strings"
)

// Result is one geocoding outcome. Matched=false is a valid, cacheable
// answer: it stops the pipeline from re-asking for a hopeless address.
type Result struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name,omitempty"`
	Matched     bool    `json:"matched"`
}

// Client geocodes one already-validated address.
type Client interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Cache stores geocode results keyed by normalized query.
type Cache interface {
	GetGeocode(ctx context.Context, key string) (*Result, bool, error)
	PutGeocode(ctx context.Context, key string, result *Result) error
}

// CacheKey normalizes an address into its cache key: lowercased with
// whitespace collapsed. Deliberately lighter than the dedup normalization:
// the provider sees the punctuation, the cache just has to be stable.
func CacheKey(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// CachedClient wraps a provider with a Cache.
type CachedClient struct {
	inner Client
	cache Cache
}

// NewCachedClient wraps client with cache.
func NewCachedClient(client Client, cache Cache) *CachedClient {
	return &CachedClient{inner: client, cache: cache}
}

// Geocode implements Client, consulting the cache first and storing every
// provider answer, including misses.
func (c *CachedClient) Geocode(ctx context.Context, address string) (*Result, error) {
	key := CacheKey(address)

	if cached, ok, err := c.cache.GetGeocode(ctx, key); err == nil && ok {
		return cached, nil
	}

	result, err := c.inner.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	_ = c.cache.PutGeocode(ctx, key, result)
	return result, nil
}
